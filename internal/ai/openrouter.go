package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type OpenRouterProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	SiteURL string
	AppName string
	Client  *http.Client
}

type openRouterMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterChatReq struct {
	Model    string          `json:"model"`
	Messages []openRouterMsg `json:"messages"`
	Stream   bool            `json:"stream"`
}

type openRouterChatResp struct {
	Choices []struct {
		Message openRouterMsg `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openRouterStreamResp struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string) *OpenRouterProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &OpenRouterProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		SiteURL: siteURL,
		AppName: appName,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

// post sends the whole transcript prompt as a single user message.
func (p *OpenRouterProvider) post(ctx context.Context, client *http.Client, prompt string, stream bool) (*http.Response, error) {
	if client == nil {
		return nil, errors.New("openrouter: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, errors.New("openrouter: api key is required")
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return nil, errors.New("openrouter: model is required")
	}

	b, err := json.Marshal(openRouterChatReq{
		Model:    model,
		Stream:   stream,
		Messages: []openRouterMsg{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	if p.SiteURL != "" {
		req.Header.Set("HTTP-Referer", p.SiteURL)
	}
	if p.AppName != "" {
		req.Header.Set("X-Title", p.AppName)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("openrouter: %s", msg)
	}
	return resp, nil
}

func (p *OpenRouterProvider) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := p.post(ctx, p.Client, prompt, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var decoded openRouterChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", errors.New(decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return decoded.Choices[0].Message.Content, nil
}

// GenerateStream streams assistant content chunks via SSE.
func (p *OpenRouterProvider) GenerateStream(ctx context.Context, prompt string) (ChunkStream, error) {
	if p.Client == nil {
		return nil, errors.New("openrouter: http client is nil")
	}
	client := *p.Client
	client.Timeout = 0

	resp, err := p.post(ctx, &client, prompt, true)
	if err != nil {
		return nil, err
	}

	return newLineStream(resp.Body, func(line string) (string, error) {
		data, ok := sseData(line)
		if !ok {
			return "", nil
		}
		if data == "[DONE]" {
			return "", io.EOF
		}
		var decoded openRouterStreamResp
		if err := json.Unmarshal([]byte(data), &decoded); err != nil {
			return "", err
		}
		if decoded.Error != nil && decoded.Error.Message != "" {
			return "", errors.New(decoded.Error.Message)
		}
		if len(decoded.Choices) == 0 {
			return "", nil
		}
		return decoded.Choices[0].Delta.Content, nil
	}), nil
}

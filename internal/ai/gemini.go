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

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-1.5-flash"
)

type GeminiProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiReq struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResp struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// text joins the parts of the first candidate.
func (r *geminiResp) text() (string, error) {
	if r.Error != nil && r.Error.Message != "" {
		return "", fmt.Errorf("gemini: %s", r.Error.Message)
	}
	if len(r.Candidates) == 0 {
		if r.PromptFeedback != nil && r.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("gemini: prompt blocked: %s", r.PromptFeedback.BlockReason)
		}
		return "", nil
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}

func NewGeminiProvider(baseURL, apiKey, model string) *GeminiProvider {
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

func (p *GeminiProvider) newRequest(ctx context.Context, method, prompt string) (*http.Request, error) {
	if p.Client == nil {
		return nil, errors.New("gemini: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return nil, errors.New("gemini: model is required")
	}

	b, err := json.Marshal(geminiReq{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/models/%s:%s", strings.TrimRight(p.BaseURL, "/"), model, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", p.APIKey)
	return req, nil
}

func geminiStatusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	var decoded geminiResp
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Error != nil && decoded.Error.Message != "" {
		return fmt.Errorf("gemini: status %d: %s", resp.StatusCode, decoded.Error.Message)
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("gemini: status %d", resp.StatusCode)
	}
	return fmt.Errorf("gemini: status %d: %s", resp.StatusCode, msg)
}

func (p *GeminiProvider) Generate(ctx context.Context, prompt string) (string, error) {
	req, err := p.newRequest(ctx, "generateContent", prompt)
	if err != nil {
		return "", err
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", geminiStatusError(resp)
	}

	var decoded geminiResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	return decoded.text()
}

// GenerateStream opens a streamGenerateContent call in SSE mode. Each event
// carries a partial GenerateContentResponse whose text is one chunk.
func (p *GeminiProvider) GenerateStream(ctx context.Context, prompt string) (ChunkStream, error) {
	req, err := p.newRequest(ctx, "streamGenerateContent", prompt)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("alt", "sse")
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "text/event-stream")

	// streaming can outlive the client timeout; ctx controls it
	client := *p.Client
	client.Timeout = 0

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, geminiStatusError(resp)
	}

	return newLineStream(resp.Body, func(line string) (string, error) {
		data, ok := sseData(line)
		if !ok {
			return "", nil
		}
		var decoded geminiResp
		if err := json.Unmarshal([]byte(data), &decoded); err != nil {
			return "", err
		}
		return decoded.text()
	}), nil
}

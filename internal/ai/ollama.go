package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

type OllamaProvider struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaProvider{
		BaseURL: baseURL,
		Model:   model,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type ollamaGenerateReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResp struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func (p *OllamaProvider) post(ctx context.Context, client *http.Client, prompt string, stream bool) (*http.Response, error) {
	b, err := json.Marshal(ollamaGenerateReq{Model: p.Model, Prompt: prompt, Stream: stream})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/generate", p.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("ollama: status %d", resp.StatusCode)
	}
	return resp, nil
}

func (p *OllamaProvider) Generate(ctx context.Context, prompt string) (string, error) {
	if p.Client == nil {
		return "", errors.New("ollama: http client is nil")
	}

	resp, err := p.post(ctx, p.Client, prompt, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var decoded ollamaGenerateResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != "" {
		return "", errors.New(decoded.Error)
	}
	return decoded.Response, nil
}

// GenerateStream reads the NDJSON stream of /api/generate, one object per line.
func (p *OllamaProvider) GenerateStream(ctx context.Context, prompt string) (ChunkStream, error) {
	if p.Client == nil {
		return nil, errors.New("ollama: http client is nil")
	}

	// no global timeout; ctx controls it
	client := *p.Client
	client.Timeout = 0

	resp, err := p.post(ctx, &client, prompt, true)
	if err != nil {
		return nil, err
	}

	return newLineStream(resp.Body, func(line string) (string, error) {
		var decoded ollamaGenerateResp
		if err := json.Unmarshal([]byte(line), &decoded); err != nil {
			return "", err
		}
		if decoded.Error != "" {
			return "", errors.New(decoded.Error)
		}
		if decoded.Done && decoded.Response == "" {
			return "", io.EOF
		}
		return decoded.Response, nil
	}), nil
}

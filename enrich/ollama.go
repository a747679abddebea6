package enrich

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "llama3"
)

// OllamaProvider calls a local Ollama server.
type OllamaProvider struct {
	host   string
	model  string
	client *http.Client
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

func NewOllamaProvider(host, model string, timeout time.Duration) *OllamaProvider {
	if host == "" {
		host = DefaultOllamaHost
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	return &OllamaProvider{
		host:   strings.TrimRight(host, "/"),
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) Generate(ctx context.Context, prompt string) (string, error) {
	payload, err := sonic.Marshal(ollamaRequest{Model: p.model, Prompt: prompt, System: systemPrompt})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read ollama response: %w", err)
	}
	var out ollamaResponse
	if err := sonic.Unmarshal(body, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("ollama returned %d", resp.StatusCode)
		}
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama returned %d: %s", resp.StatusCode, out.Error)
	}
	return strings.TrimSpace(out.Response), nil
}

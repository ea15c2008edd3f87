package verifier

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

// Judge is the external text-completion capability the gate delegates to.
// Given a system and user message it returns free text that should, but is
// not guaranteed to, contain a single JSON object.
type Judge interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// HTTPJudge calls an OpenAI-compatible chat completions endpoint.
type HTTPJudge struct {
	BaseURL string
	Model   string
	APIKey  string
	client  *http.Client
}

// NewHTTPJudge builds the production judge. timeout bounds each call.
func NewHTTPJudge(baseURL, model, apiKey string, timeout time.Duration) *HTTPJudge {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPJudge{
		BaseURL: baseURL,
		Model:   model,
		APIKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete posts the two-message prompt and returns the first choice's text.
func (j *HTTPJudge) Complete(ctx context.Context, system, user string) (string, error) {
	if j.APIKey == "" {
		return "", errors.New("missing judge API key")
	}

	body, err := json.Marshal(chatRequest{
		Model: j.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.1,
		MaxTokens:   512,
	})
	if err != nil {
		return "", fmt.Errorf("marshal judge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create judge request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+j.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := j.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("judge http call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read judge response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("judge returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode judge response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("judge returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

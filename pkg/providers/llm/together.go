package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lokutor-ai/lokutor-voiceagent/pkg/orchestrator"
)

// TogetherLLM is an OpenAI-compatible chat-completions client for Together
// AI. A single Complete call is one attempt; the retry/backoff policy
// (3 attempts, 1s/2s backoff) lives in pkg/reply.CallLLMWithRetry rather
// than being duplicated here.
type TogetherLLM struct {
	apiKey string
	url    string
	model  string
	client *http.Client
}

// NewTogetherLLM builds a TogetherLLM. model defaults to Together's
// Llama 3.3 70B Turbo; timeout of 0 uses http.DefaultClient's behavior
// (no client-side deadline beyond ctx).
func NewTogetherLLM(apiKey, model string, timeout time.Duration) *TogetherLLM {
	if model == "" {
		model = "meta-llama/Llama-3.3-70B-Instruct-Turbo"
	}
	client := http.DefaultClient
	if timeout > 0 {
		client = &http.Client{Timeout: timeout}
	}
	return &TogetherLLM{
		apiKey: apiKey,
		url:    "https://api.together.xyz/v1/chat/completions",
		model:  model,
		client: client,
	}
}

func (l *TogetherLLM) Complete(ctx context.Context, messages []orchestrator.Message) (string, error) {
	payload := map[string]interface{}{
		"model":    l.model,
		"messages": messages,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", l.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := l.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("together llm error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from together")
	}

	return result.Choices[0].Message.Content, nil
}

func (l *TogetherLLM) Name() string {
	return "together-llm"
}

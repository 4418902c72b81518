package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relayforge/relay/internal/retry"
)

// HTTPClient is a generic chat-completion client for any execution
// provider speaking a simple JSON request/response protocol. Its request
// shape (context timeout, JSON body, header/status handling) generalizes
// internal/worker/http_executor.go's HTTPExecutor.
type HTTPClient struct {
	Endpoint   string
	Credential string
	HTTPClient *http.Client
}

// NewHTTPClient constructs a generic provider client.
func NewHTTPClient(endpoint, credential string) *HTTPClient {
	return &HTTPClient{Endpoint: endpoint, Credential: credential, HTTPClient: &http.Client{}}
}

type genericChatRequest struct {
	System string       `json:"system"`
	Prompt string       `json:"prompt"`
	Model  string       `json:"model,omitempty"`
	Tools  []ToolSchema `json:"tools"`
}

type genericChatResponse struct {
	Output    string `json:"output"`
	ToolCalls []struct {
		Name string         `json:"name"`
		Args map[string]any `json:"args"`
	} `json:"toolCalls"`
}

func (c *HTTPClient) Chat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	timeout := 300 * time.Second
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	body, err := json.Marshal(genericChatRequest{System: req.SystemPrompt, Prompt: req.UserPrompt, Model: req.Model, Tools: req.Tools})
	if err != nil {
		return ChatResult{}, retry.ClassifyNetworkError(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return ChatResult{}, retry.ClassifyNetworkError(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.Credential != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.Credential)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return ChatResult{}, retry.ClassifyNetworkError(err)
	}
	defer resp.Body.Close()

	rl := RateLimitInfo{
		Limit:      resp.Header.Get("x-ratelimit-limit"),
		Remaining:  resp.Header.Get("x-ratelimit-remaining"),
		Reset:      resp.Header.Get("x-ratelimit-reset"),
		RetryAfter: resp.Header.Get("Retry-After"),
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ChatResult{}, retry.ClassifyNetworkError(err)
	}

	if resp.StatusCode >= 300 {
		classified := retry.ClassifyHTTPStatus(resp.StatusCode, fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(raw), 200)))
		if rl.RetryAfter != "" {
			if secs, perr := time.ParseDuration(rl.RetryAfter + "s"); perr == nil {
				classified = classified.WithRetryAfter(secs.Seconds())
			}
		}
		return ChatResult{RateLimit: rl}, classified
	}

	var parsed genericChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return ChatResult{}, retry.ClassifyNetworkError(err)
	}

	result := ChatResult{
		Output:     parsed.Output,
		RateLimit:  rl,
		DurationMs: time.Since(start).Milliseconds(),
	}
	for _, tc := range parsed.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{Name: tc.Name, Args: tc.Args})
	}
	return result, nil
}

func (c *HTTPClient) HealthProbe(ctx context.Context) (bool, time.Duration, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.Endpoint, nil)
	if err != nil {
		return false, 0, retry.ClassifyNetworkError(err)
	}
	resp, err := c.HTTPClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return false, latency, retry.ClassifyNetworkError(err)
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500, latency, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

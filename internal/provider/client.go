package provider

import (
	"context"
	"time"

	"github.com/relayforge/relay/internal/domain"
)

// ToolCall is one tool invocation the model requested.
type ToolCall struct {
	Name string
	// Args is the raw tool-call argument payload, interpreted by the
	// Agent Executor per tool name (git_commit → {sha,message}; write_file/
	// edit_file → {path,...}).
	Args map[string]any
}

// ChatResult is what one chat-completion call returns to the Agent
// Executor, before tool calls are interpreted into commits/touched paths.
type ChatResult struct {
	Output       string
	ToolCalls    []ToolCall
	RateLimit    RateLimitInfo
	DurationMs   int64
}

// RateLimitInfo captures the rate-limit headers spec.md §4.7 step 5 says
// must be captured on every response and exposed for monitoring.
type RateLimitInfo struct {
	Limit     string
	Remaining string
	Reset     string
	RetryAfter string
}

// ChatRequest is the single chat-completion request the executor sends.
type ChatRequest struct {
	SystemPrompt string
	UserPrompt   string
	Model        string
	Tools        []ToolSchema
	TimeoutMs    int
}

// ToolSchema is the fixed tool catalog declared on every request
// (git_commit, write_file, edit_file per spec.md §4.7 step 2).
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Client is the contract every provider implementation satisfies. Chat
// errors are returned as *errs.Error already classified (network/timeout/
// HTTP status) so the retry engine never has to re-derive a classification.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResult, error)
	HealthProbe(ctx context.Context) (healthy bool, latency time.Duration, err error)
}

// DefaultToolCatalog is the fixed tool set every request declares.
func DefaultToolCatalog() []ToolSchema {
	return []ToolSchema{
		{
			Name:        "git_commit",
			Description: "Record a git commit made in the working copy.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"sha":     map[string]any{"type": "string"},
					"message": map[string]any{"type": "string"},
				},
				"required": []string{"sha", "message"},
			},
		},
		{
			Name:        "write_file",
			Description: "Record a file written in the working copy.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string"},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "edit_file",
			Description: "Record a file edited in the working copy.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string"},
				},
				"required": []string{"path"},
			},
		},
	}
}

// Registry maps a provider type to its Client, generalizing the teacher's
// executor Registry (internal/worker/executor.go) from step-type → Executor
// to provider-type → Client.
type Registry struct {
	clients map[domain.ProviderType]Client
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[domain.ProviderType]Client)}
}

// Register adds or replaces the client for a provider type.
func (r *Registry) Register(t domain.ProviderType, c Client) {
	r.clients[t] = c
}

// Get returns the client for a provider type, if registered.
func (r *Registry) Get(t domain.ProviderType) (Client, bool) {
	c, ok := r.clients[t]
	return c, ok
}

// Package executor drives a single agent turn: build a system prompt,
// send one chat-completion request to a provider, and fold its tool
// calls into commits and touched paths. Grounded on
// internal/engine/template.go's text/template rendering approach and
// internal/worker/worker.go's single-request-per-attempt shape.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/relayforge/relay/internal/clock"
	"github.com/relayforge/relay/internal/domain"
	"github.com/relayforge/relay/internal/errs"
	"github.com/relayforge/relay/internal/provider"
	"github.com/relayforge/relay/internal/retry"
)

const promptTemplate = `You are operating on issue {{.IssueID}}.
Working copy: {{.WorktreePath}}

Make the minimal set of commits needed to resolve the issue. Every commit
message must mention {{.IssueID}}. Use the provided tools to write and
commit your changes; do not describe changes without also making them.

{{.Description}}`

var systemPromptTmpl = template.Must(template.New("system").Parse(promptTemplate))

// Request describes one executor invocation.
type Request struct {
	IssueID      string
	SessionID    string
	WorktreePath string
	Description  string
	Model        string
	TimeoutMs    int
}

// Result is the folded outcome of a single chat-completion turn.
type Result struct {
	Output       string
	FilesTouched []string
	Commits      []domain.Commit
	DurationMs   int64
}

// Executor sends one prompt to a provider client and interprets its
// tool calls, wrapped by the retry engine with provider context.
type Executor struct {
	clk      clock.Clock
	router   *provider.Router
	retryCfg retry.Config
	lastRate provider.RateLimitInfo
}

// New constructs an Executor.
func New(clk clock.Clock, router *provider.Router, retryCfg retry.Config) *Executor {
	return &Executor{clk: clk, router: router, retryCfg: retryCfg}
}

// LastRateLimit exposes the rate-limit info captured on the most recent
// response, for monitoring per spec.md §4.7 step 5.
func (e *Executor) LastRateLimit() provider.RateLimitInfo {
	return e.lastRate
}

// Run sends req to client and folds the tool-call response into a
// Result, wrapped by the retry engine.
func (e *Executor) Run(ctx context.Context, client provider.Client, providerName domain.ProviderType, req Request) (Result, error) {
	systemPrompt, err := renderSystemPrompt(req)
	if err != nil {
		return Result{}, errs.New(errs.SessionFailed, "Failed to create session", false, err)
	}

	start := e.clk.Now()

	chatReq := provider.ChatRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   req.Description,
		Model:        req.Model,
		Tools:        provider.DefaultToolCatalog(),
		TimeoutMs:    req.TimeoutMs,
	}

	rc := retry.Context{Provider: string(providerName), Router: e.router}
	attempt := retry.WithRetry(ctx, e.clk, func(ctx context.Context, _ int) (any, error) {
		callCtx := ctx
		var cancel context.CancelFunc
		if req.TimeoutMs > 0 {
			callCtx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
			defer cancel()
		}
		res, err := client.Chat(callCtx, chatReq)
		if err != nil {
			return nil, err
		}
		return res, nil
	}, e.retryCfg, rc)

	if !attempt.Success {
		return Result{}, attempt.LastErr
	}

	chatResult, ok := attempt.Data.(provider.ChatResult)
	if !ok {
		return Result{}, errs.New(errs.Unknown, "Failed to send prompt", false, nil)
	}

	e.lastRate = chatResult.RateLimit

	result := Result{
		Output:     chatResult.Output,
		DurationMs: e.clk.Now().Sub(start).Milliseconds(),
	}
	for _, call := range chatResult.ToolCalls {
		switch call.Name {
		case "git_commit":
			sha, _ := call.Args["sha"].(string)
			msg, _ := call.Args["message"].(string)
			author, _ := call.Args["author"].(string)
			result.Commits = append(result.Commits, domain.Commit{
				SHA:     sha,
				Message: msg,
				Author:  author,
				Date:    e.clk.Now(),
			})
		case "write_file", "edit_file":
			if path, ok := call.Args["path"].(string); ok {
				result.FilesTouched = append(result.FilesTouched, path)
			}
		}
	}
	return result, nil
}

// HealthCheck makes a minimal probe against client and reports latency.
func (e *Executor) HealthCheck(ctx context.Context, client provider.Client) (bool, time.Duration, error) {
	return client.HealthProbe(ctx)
}

func renderSystemPrompt(req Request) (string, error) {
	var buf bytes.Buffer
	if err := systemPromptTmpl.Execute(&buf, struct {
		IssueID      string
		WorktreePath string
		Description  string
	}{req.IssueID, req.WorktreePath, req.Description}); err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return buf.String(), nil
}

package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/relayforge/relay/internal/domain"
	"github.com/relayforge/relay/internal/health"
	"github.com/relayforge/relay/internal/session"
	"github.com/relayforge/relay/internal/worktree"
)

const maxBodyBytes = 10 << 20 // 10 MiB, spec.md §4.1 step 2

// Dispatcher runs the Orchestrator's processIssue pipeline for an
// admitted issue. Kept as a narrow interface so webhook never imports
// the orchestrator package directly.
type Dispatcher interface {
	Dispatch(ctx context.Context, issue domain.Issue)
}

// Config carries the per-tracker signing secret and the agent name used
// by the relevance filter (spec.md §4.1 step 4).
type Config struct {
	Secrets           map[string]string // tracker name -> HMAC secret
	AgentName         string
	AutoExecuteLabels []string
}

// Handler wires the webhook ingress's dependencies.
type Handler struct {
	cfg        Config
	sessions   *session.Manager
	dispatcher Dispatcher
	health     *health.Monitor
	worktrees  *worktree.Manager
	logger     *slog.Logger
}

// New constructs a Handler.
func New(cfg Config, sessions *session.Manager, dispatcher Dispatcher, healthMon *health.Monitor, worktrees *worktree.Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{cfg: cfg, sessions: sessions, dispatcher: dispatcher, health: healthMon, worktrees: worktrees, logger: logger}
}

// HandleWebhook implements POST /webhooks/{tracker}. bypassSignature is
// true only for the /webhooks/test loopback route.
func (h *Handler) HandleWebhook(tracker string, bypassSignature bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			InternalError(w, h.logger, err)
			return
		}
		if len(body) > maxBodyBytes {
			PayloadTooLarge(w)
			return
		}

		if !bypassSignature {
			secret, ok := h.cfg.Secrets[tracker]
			if !ok {
				Unauthorized(w, "unknown tracker")
				return
			}
			if !verifySignature([]byte(secret), body, r.Header.Get("X-Signature")) {
				Unauthorized(w, "signature mismatch")
				return
			}
		}

		var payload Payload
		if err := json.Unmarshal(body, &payload); err != nil {
			Accepted(w, AdmissionResponse{ValidationError: true, Message: "malformed JSON"})
			return
		}
		if msg, ok := payload.validate(); !ok {
			Accepted(w, AdmissionResponse{ValidationError: true, Message: msg})
			return
		}

		if !payload.isRelevant(h.cfg.AgentName) {
			Accepted(w, AdmissionResponse{Skipped: true, Message: "not relevant"})
			return
		}

		issueID := payload.Data.Identifier
		if h.sessions.IsLive(issueID) {
			Accepted(w, AdmissionResponse{Skipped: true})
			return
		}

		issue := domain.Issue{
			ID:          issueID,
			Title:       payload.Data.Title,
			Description: payload.Data.Description,
			Labels:      payload.Data.Labels,
			Project:     payload.Data.Project,
			Team:        payload.Data.Team,
		}

		if !h.isAutoExecute(issue) {
			Accepted(w, AdmissionResponse{Queued: true, Message: "queued for manual execution"})
			return
		}

		// Mark live before responding so a second webhook landing between
		// this response and the worker starting is rejected, per spec.md
		// §4.1 step 7.
		h.sessions.MarkLive(issueID)
		Accepted(w, AdmissionResponse{Message: "accepted"})

		go func() {
			defer func() {
				if r := recover(); r != nil {
					h.logger.Error("dispatch panicked", "issue_id", issueID, "panic", r)
				}
			}()
			h.dispatcher.Dispatch(context.Background(), issue)
		}()
	}
}

func (h *Handler) isAutoExecute(issue domain.Issue) bool {
	for _, l := range issue.Labels {
		for _, auto := range h.cfg.AutoExecuteLabels {
			if l == auto {
				return true
			}
		}
	}
	return false
}

// HandleHealth implements GET /health — lightweight liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleHealthDetailed implements GET /health/detailed, aggregating
// provider health and active worktrees; returns 503 if any provider is
// unhealthy.
func (h *Handler) HandleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	snapshot := h.health.Snapshot()
	allHealthy := true
	for _, ph := range snapshot {
		if !ph.Healthy {
			allHealthy = false
			break
		}
	}

	status := http.StatusOK
	if !allHealthy {
		status = http.StatusServiceUnavailable
	}

	JSON(w, status, map[string]any{
		"providers":      snapshot,
		"activeSessions": h.worktrees.ListActive(),
	})
}

// HandleHealthProviders implements GET /health/providers.
func (h *Handler) HandleHealthProviders(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.health.Snapshot())
}

// HandleSessions implements GET /sessions, listing every live session for
// operator inspection.
func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.List()
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}
	JSON(w, http.StatusOK, sessions)
}

// HandleSessionShow implements GET /sessions/{id}.
func (h *Handler) HandleSessionShow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s, err := h.sessions.Get(id)
	if err != nil {
		NotFound(w, "session not found")
		return
	}
	JSON(w, http.StatusOK, s)
}

package auditlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relayforge/relay/internal/domain"
)

// Record is one terminal session's audit trail entry.
type Record struct {
	SessionID    string
	IssueID      string
	Provider     domain.ProviderType
	Status       domain.SessionStatus
	Commits      []domain.Commit
	FilesTouched []string
	Attempts     int
	DurationMs   int64
	Error        string
	RecordedAt   time.Time
}

// Log is a best-effort Postgres-backed audit trail. A nil pool makes
// every method a no-op, so callers don't have to branch on whether
// DB_URL was configured.
type Log struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New constructs a Log. pool may be nil (auditing disabled).
func New(pool *pgxpool.Pool, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{pool: pool, logger: logger}
}

// Record inserts one terminal-session record. Failures are logged, not
// returned: the audit trail must never fail the Orchestrator's pipeline.
func (l *Log) Record(ctx context.Context, r Record) {
	if l.pool == nil {
		return
	}

	commitsJSON, err := json.Marshal(r.Commits)
	if err != nil {
		l.logger.Warn("failed to marshal commits for audit record", "session_id", r.SessionID, "error", err)
		return
	}
	filesJSON, err := json.Marshal(r.FilesTouched)
	if err != nil {
		l.logger.Warn("failed to marshal touched files for audit record", "session_id", r.SessionID, "error", err)
		return
	}

	const query = `
		INSERT INTO execution_audit_log
			(session_id, issue_id, provider, status, commits, files_touched, attempts, duration_ms, error, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id) DO UPDATE SET
			status = EXCLUDED.status,
			commits = EXCLUDED.commits,
			files_touched = EXCLUDED.files_touched,
			attempts = EXCLUDED.attempts,
			duration_ms = EXCLUDED.duration_ms,
			error = EXCLUDED.error,
			recorded_at = EXCLUDED.recorded_at
	`
	_, err = l.pool.Exec(ctx, query,
		r.SessionID, r.IssueID, string(r.Provider), string(r.Status),
		commitsJSON, filesJSON, r.Attempts, r.DurationMs, nullString(r.Error), r.RecordedAt,
	)
	if err != nil {
		l.logger.Warn("failed to write audit record", "session_id", r.SessionID, "error", err)
	}
}

// Get returns the audit record for a session id, for operator inspection.
func (l *Log) Get(ctx context.Context, sessionID string) (*Record, error) {
	if l.pool == nil {
		return nil, ErrNotFound
	}

	const query = `
		SELECT session_id, issue_id, provider, status, commits, files_touched, attempts, duration_ms, error, recorded_at
		FROM execution_audit_log
		WHERE session_id = $1
	`
	row := l.pool.QueryRow(ctx, query, sessionID)

	var r Record
	var provider, status string
	var commitsJSON, filesJSON []byte
	var errMsg *string

	err := row.Scan(&r.SessionID, &r.IssueID, &provider, &status, &commitsJSON, &filesJSON, &r.Attempts, &r.DurationMs, &errMsg, &r.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan audit record: %w", err)
	}

	r.Provider = domain.ProviderType(provider)
	r.Status = domain.SessionStatus(status)
	if errMsg != nil {
		r.Error = *errMsg
	}
	if err := json.Unmarshal(commitsJSON, &r.Commits); err != nil {
		return nil, fmt.Errorf("unmarshal commits: %w", err)
	}
	if err := json.Unmarshal(filesJSON, &r.FilesTouched); err != nil {
		return nil, fmt.Errorf("unmarshal files: %w", err)
	}
	return &r, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

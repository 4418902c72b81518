package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relayforge/relay/internal/clock"
	"github.com/relayforge/relay/internal/domain"
	"github.com/relayforge/relay/internal/health"
	"github.com/relayforge/relay/internal/kvstore"
	"github.com/relayforge/relay/internal/session"
	"github.com/relayforge/relay/internal/worktree"
)

type recordingDispatcher struct {
	issues []domain.Issue
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, issue domain.Issue) {
	d.issues = append(d.issues, issue)
}

type noopChecker struct{}

func (noopChecker) Check(ctx context.Context, p domain.Provider) (time.Duration, error) {
	return time.Millisecond, nil
}

func newTestHandler(t *testing.T, dispatcher Dispatcher) *Handler {
	t.Helper()
	clk := clock.NewFake(time.Unix(0, 0))

	sessStore, err := kvstore.New(t.TempDir(), 0o700)
	if err != nil {
		t.Fatalf("kvstore: %v", err)
	}
	archiveStore, err := kvstore.New(t.TempDir(), 0o700)
	if err != nil {
		t.Fatalf("kvstore: %v", err)
	}
	sessions := session.NewManager(sessStore, archiveStore, clk)

	healthStore, err := kvstore.New(t.TempDir(), 0o700)
	if err != nil {
		t.Fatalf("kvstore: %v", err)
	}
	mon, err := health.NewMonitor(healthStore, clk, noopChecker{}, nil)
	if err != nil {
		t.Fatalf("monitor: %v", err)
	}

	wt := worktree.NewManager(nil, clk)

	cfg := Config{
		Secrets:           map[string]string{"github": "s3cr3t"},
		AgentName:         "relay-bot",
		AutoExecuteLabels: []string{"auto"},
	}
	return New(cfg, sessions, dispatcher, mon, wt, nil)
}

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestHandleWebhook_RejectsBadSignature(t *testing.T) {
	h := newTestHandler(t, &recordingDispatcher{})
	body := []byte(`{"action":"create","data":{"identifier":"ABC-1","title":"x"}}`)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-Signature", "sha256=deadbeef")
	w := httptest.NewRecorder()

	h.HandleWebhook("github", false)(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestHandleWebhook_AdmitsAutoLabelAndDispatches(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	h := newTestHandler(t, dispatcher)

	body := []byte(`{"action":"create","data":{"identifier":"ABC-1","title":"x","labels":["auto"]}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-Signature", sign([]byte("s3cr3t"), body))
	w := httptest.NewRecorder()

	h.HandleWebhook("github", false)(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	// give the dispatch goroutine a beat; it runs synchronously enough in
	// practice but this keeps the test honest about the async contract.
	deadline := time.Now().Add(time.Second)
	for len(dispatcher.issues) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if len(dispatcher.issues) != 1 || dispatcher.issues[0].ID != "ABC-1" {
		t.Fatalf("expected dispatch for ABC-1, got %+v", dispatcher.issues)
	}
}

func TestHandleWebhook_QueuesForManualWithoutAutoLabel(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	h := newTestHandler(t, dispatcher)

	body := []byte(`{"action":"create","data":{"identifier":"ABC-2","title":"x"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-Signature", sign([]byte("s3cr3t"), body))
	w := httptest.NewRecorder()

	h.HandleWebhook("github", false)(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	var resp AdmissionResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Queued {
		t.Error("expected queuedForManual=true")
	}
	if len(dispatcher.issues) != 0 {
		t.Error("expected no dispatch for manual admission")
	}
}

func TestHandleWebhook_DropsIrrelevantAction(t *testing.T) {
	h := newTestHandler(t, &recordingDispatcher{})
	body := []byte(`{"action":"delegate","data":{"identifier":"ABC-3","title":"x"},"actor":"someone-else"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-Signature", sign([]byte("s3cr3t"), body))
	w := httptest.NewRecorder()

	h.HandleWebhook("github", false)(w, req)
	var resp AdmissionResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Skipped {
		t.Error("expected skipped=true for irrelevant delegate action")
	}
}

func TestHandleWebhook_ValidationErrorOnMissingFields(t *testing.T) {
	h := newTestHandler(t, &recordingDispatcher{})
	body := []byte(`{"action":"create","data":{}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-Signature", sign([]byte("s3cr3t"), body))
	w := httptest.NewRecorder()

	h.HandleWebhook("github", false)(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 even on validation error, got %d", w.Code)
	}
	var resp AdmissionResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.ValidationError {
		t.Error("expected validationError=true")
	}
}

func TestHandleWebhookTest_BypassesSignature(t *testing.T) {
	h := newTestHandler(t, &recordingDispatcher{})
	body := []byte(`{"action":"create","data":{"identifier":"ABC-4","title":"x"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/test", bytes.NewReader(body))
	w := httptest.NewRecorder()

	h.HandleWebhook("test", true)(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleSessions_ListsCreatedSessions(t *testing.T) {
	h := newTestHandler(t, &recordingDispatcher{})
	if _, err := h.sessions.Create("ABC-5", "ABC-5", "repo", domain.CleanupRetainSession); err != nil {
		t.Fatalf("create: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	w := httptest.NewRecorder()
	h.HandleSessions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var sessions []domain.Session
	if err := json.NewDecoder(w.Body).Decode(&sessions); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "ABC-5" {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
}

func TestHandleSessionShow_UnknownIDReturns404(t *testing.T) {
	h := newTestHandler(t, &recordingDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/sessions/nope", nil)
	req.SetPathValue("id", "nope")
	w := httptest.NewRecorder()
	h.HandleSessionShow(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

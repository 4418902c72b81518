package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// --- Response types (duplicated from the webhook package's JSON shapes;
// the CLI talks HTTP only and never imports internal packages) ---

// SessionResponse is one session record as returned by GET /sessions.
type SessionResponse struct {
	ID               string `json:"ID"`
	IssueID          string `json:"IssueID"`
	Repository       string `json:"Repository"`
	WorktreePath     string `json:"WorktreePath"`
	Status           string `json:"Status"`
	ProcessHandle    string `json:"ProcessHandle"`
	FinalCommit      string `json:"FinalCommit"`
	CompletionReason string `json:"CompletionReason"`
	CleanupPolicy    string `json:"CleanupPolicy"`
	CreatedAt        string `json:"CreatedAt"`
	UpdatedAt        string `json:"UpdatedAt"`
	FinishedAt       string `json:"FinishedAt"`
}

// ProviderHealthResponse is one provider's cached liveness record as
// returned by GET /health/providers.
type ProviderHealthResponse struct {
	Provider          string        `json:"Provider"`
	Healthy           bool          `json:"Healthy"`
	LastCheck         string        `json:"LastCheck"`
	Latency           time.Duration `json:"Latency"`
	LastError         string        `json:"LastError"`
	ConsecutiveErrors int           `json:"ConsecutiveErrors"`
}

// WorktreeResponse is one active working copy, as returned nested inside
// GET /health/detailed.
type WorktreeResponse struct {
	IssueID    string `json:"issueId"`
	Path       string `json:"path"`
	Branch     string `json:"branch"`
	BaseCommit string `json:"baseCommit"`
	CreatedAt  string `json:"createdAt"`
}

// HealthDetailedResponse is the body of GET /health/detailed.
type HealthDetailedResponse struct {
	Providers      map[string]ProviderHealthResponse `json:"providers"`
	ActiveSessions map[string]WorktreeResponse        `json:"activeSessions"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client is an HTTP client for the webhook ingress's read-only operator
// surface (GET /sessions, GET /health/...). It deliberately carries no
// write methods: issue admission happens over the tracker's own webhook,
// not through this CLI.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a Client against baseURL (e.g. http://localhost:8080).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ListSessions returns every live session.
func (c *Client) ListSessions() ([]SessionResponse, error) {
	var sessions []SessionResponse
	err := c.get("/sessions", &sessions)
	return sessions, err
}

// GetSession returns one live session by id.
func (c *Client) GetSession(id string) (*SessionResponse, error) {
	var s SessionResponse
	if err := c.get("/sessions/"+id, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// HealthProviders returns the cached per-provider health table.
func (c *Client) HealthProviders() (map[string]ProviderHealthResponse, error) {
	var providers map[string]ProviderHealthResponse
	err := c.get("/health/providers", &providers)
	return providers, err
}

// HealthDetailed returns provider health plus active worktree paths.
func (c *Client) HealthDetailed() (*HealthDetailedResponse, error) {
	var detailed HealthDetailedResponse
	if err := c.get("/health/detailed", &detailed); err != nil {
		return nil, err
	}
	return &detailed, nil
}

func (c *Client) get(path string, result any) error {
	resp, err := c.do(http.MethodGet, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) do(method, path string) (*http.Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
	}()

	var er errorResponse
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &er); err != nil || er.Error.Code == "" {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}
	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}

// Package trackerclient implements the thin upstream-issue-tracker HTTP
// client spec.md explicitly excludes from the core (see its "External
// collaborators" list). It exists only so internal/reporter and
// internal/poller have something concrete to compose against at startup;
// it speaks a minimal generic REST shape (query/set-state/label/comment
// over a configurable base URL) rather than any one tracker's real
// GraphQL or REST schema. Request/response handling is grounded on
// internal/provider.HTTPClient's shape (context timeout, JSON body,
// status classification via internal/retry).
package trackerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relayforge/relay/internal/domain"
	"github.com/relayforge/relay/internal/retry"
)

const defaultTimeout = 15 * time.Second

// Client is a generic tracker client. It satisfies both
// internal/poller.Tracker (Query) and internal/reporter.Tracker
// (SetState/AddLabel/AddComment).
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// New constructs a Client against baseURL, authenticating with apiKey as
// a bearer token.
func New(baseURL, apiKey string) *Client {
	return &Client{BaseURL: baseURL, APIKey: apiKey, HTTPClient: &http.Client{Timeout: defaultTimeout}}
}

type queryRequest struct {
	Labels []string `json:"labels"`
	States []string `json:"states"`
}

type issueDTO struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
	Project     string   `json:"project"`
	Team        string   `json:"team"`
	State       string   `json:"state"`
}

// Query implements internal/poller.Tracker: it asks the tracker for every
// open issue matching labels/states.
func (c *Client) Query(ctx context.Context, labels, states []string) ([]domain.Issue, error) {
	var dtos []issueDTO
	if err := c.do(ctx, http.MethodPost, "/issues/query", queryRequest{Labels: labels, States: states}, &dtos); err != nil {
		return nil, err
	}
	out := make([]domain.Issue, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, domain.Issue{
			ID:          d.ID,
			Title:       d.Title,
			Description: d.Description,
			Labels:      d.Labels,
			Project:     d.Project,
			Team:        d.Team,
			State:       d.State,
		})
	}
	return out, nil
}

type stateRequest struct {
	State string `json:"state"`
}

// SetState implements internal/reporter.Tracker.
func (c *Client) SetState(ctx context.Context, issueID, state string) error {
	return c.do(ctx, http.MethodPost, "/issues/"+issueID+"/state", stateRequest{State: state}, nil)
}

type labelRequest struct {
	Label string `json:"label"`
}

// AddLabel implements internal/reporter.Tracker.
func (c *Client) AddLabel(ctx context.Context, issueID, label string) error {
	return c.do(ctx, http.MethodPost, "/issues/"+issueID+"/labels", labelRequest{Label: label}, nil)
}

type commentRequest struct {
	Body string `json:"body"`
}

// AddComment implements internal/reporter.Tracker.
func (c *Client) AddComment(ctx context.Context, issueID, body string) error {
	return c.do(ctx, http.MethodPost, "/issues/"+issueID+"/comments", commentRequest{Body: body}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, reqBody, respBody any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		raw, err := json.Marshal(reqBody)
		if err != nil {
			return retry.ClassifyNetworkError(err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return retry.ClassifyNetworkError(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return retry.ClassifyNetworkError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.ClassifyNetworkError(err)
	}

	if resp.StatusCode >= 300 {
		classified := retry.ClassifyHTTPStatus(resp.StatusCode, fmt.Sprintf("status %d: %s", resp.StatusCode, raw))
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, perr := time.ParseDuration(ra + "s"); perr == nil {
				classified = classified.WithRetryAfter(secs.Seconds())
			}
		}
		return classified
	}

	if respBody == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, respBody)
}

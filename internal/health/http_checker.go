package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/relayforge/relay/internal/domain"
	"github.com/relayforge/relay/internal/errs"
)

// HTTPChecker probes a provider's base endpoint with a minimal request,
// grounded on internal/worker/http_executor.go's request-building shape
// and cuemby-warren/pkg/health's Checker interface.
type HTTPChecker struct {
	Client *http.Client
}

// NewHTTPChecker returns a checker using a dedicated client so probe
// timeouts never interfere with the executor's own HTTP client.
func NewHTTPChecker() *HTTPChecker {
	return &HTTPChecker{Client: &http.Client{}}
}

// Check issues a HEAD request with the provider's credential; there is no
// GET fallback. 401/403 are reported as an invalid-credential error, any
// other status below 500 is healthy.
func (c *HTTPChecker) Check(ctx context.Context, p domain.Provider) (time.Duration, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.Endpoint, nil)
	if err != nil {
		return 0, errs.New(errs.ProviderUnavailable, "build health probe request", true, err)
	}
	if p.Credential != "" {
		req.Header.Set("Authorization", "Bearer "+p.Credential)
	}

	resp, err := c.Client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return latency, errs.New(errs.ProviderUnavailable, err.Error(), true, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return latency, errs.New(errs.AuthError, "Invalid API key", false, nil)
	case resp.StatusCode >= 500:
		return latency, errs.New(errs.ProviderUnavailable, fmt.Sprintf("status %d", resp.StatusCode), true, nil)
	default:
		return latency, nil
	}
}

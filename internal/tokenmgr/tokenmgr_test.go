package tokenmgr

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/relayforge/relay/internal/clock"
	"github.com/relayforge/relay/internal/domain"
	"github.com/relayforge/relay/internal/kvstore"
)

type fakeRefresher struct {
	calls int
}

func (f *fakeRefresher) Refresh(ctx context.Context, provider domain.ProviderType, current *oauth2.Token) (*oauth2.Token, error) {
	f.calls++
	return &oauth2.Token{AccessToken: "new", RefreshToken: current.RefreshToken, Expiry: time.Now().Add(time.Hour)}, nil
}

func TestTick_RefreshesNearExpiry(t *testing.T) {
	store, _ := kvstore.New(t.TempDir(), 0o700)
	clk := clock.NewFake(time.Unix(0, 0))
	refresher := &fakeRefresher{}
	m := New(store, clk, refresher, slog.Default())

	m.mu.Lock()
	m.tokens[domain.ProviderAnthropic] = domain.OAuthToken{
		Provider: domain.ProviderAnthropic,
		Access:   "old",
		Expiry:   clk.Now().Add(200 * time.Second), // within the 300s refresh window
	}
	m.mu.Unlock()

	m.tick(context.Background())

	tok, ok := m.Get(domain.ProviderAnthropic)
	if !ok || tok.Access != "new" {
		t.Fatalf("expected token refreshed, got %+v ok=%v", tok, ok)
	}
	if refresher.calls != 1 {
		t.Errorf("expected exactly one refresh call, got %d", refresher.calls)
	}
}

func TestTick_SkipsFarFromExpiry(t *testing.T) {
	store, _ := kvstore.New(t.TempDir(), 0o700)
	clk := clock.NewFake(time.Unix(0, 0))
	refresher := &fakeRefresher{}
	m := New(store, clk, refresher, slog.Default())

	m.mu.Lock()
	m.tokens[domain.ProviderAnthropic] = domain.OAuthToken{
		Provider: domain.ProviderAnthropic,
		Access:   "old",
		Expiry:   clk.Now().Add(time.Hour),
	}
	m.mu.Unlock()

	m.tick(context.Background())

	if refresher.calls != 0 {
		t.Errorf("expected no refresh, got %d calls", refresher.calls)
	}
}

func TestStop_ClearsCache(t *testing.T) {
	store, _ := kvstore.New(t.TempDir(), 0o700)
	clk := clock.NewFake(time.Unix(0, 0))
	m := New(store, clk, &fakeRefresher{}, slog.Default())
	m.Start(context.Background())
	m.Stop()

	if _, ok := m.Get(domain.ProviderAnthropic); ok {
		t.Error("expected cache cleared after Stop")
	}
}

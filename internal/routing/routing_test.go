package routing

import (
	"testing"

	"github.com/relayforge/relay/internal/domain"
	"github.com/relayforge/relay/internal/errs"
)

func testConfig() Config {
	return Config{
		Repositories: []domain.Repository{
			{ID: "svc-a", RoutingLabels: []string{"team-a"}, ProjectKeys: []string{"Alpha"}},
			{ID: "svc-b", ProjectKeys: []string{"beta-team"}},
		},
		DefaultProvider:     domain.ProviderAnthropic,
		DefaultWorktreeMode: domain.WorktreeModeFresh,
		AutoExecuteLabels:   []string{"auto"},
	}
}

func TestResolve_ByLabel(t *testing.T) {
	e := New(testConfig())
	r, err := e.Resolve(domain.Issue{ID: "x1", Labels: []string{"team-a"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Repository.ID != "svc-a" {
		t.Errorf("expected svc-a, got %s", r.Repository.ID)
	}
}

func TestResolve_ByProjectCaseInsensitive(t *testing.T) {
	e := New(testConfig())
	r, err := e.Resolve(domain.Issue{ID: "x2", Project: "ALPHA"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Repository.ID != "svc-a" {
		t.Errorf("expected svc-a, got %s", r.Repository.ID)
	}
}

func TestResolve_ByRepoTag(t *testing.T) {
	e := New(testConfig())
	r, err := e.Resolve(domain.Issue{ID: "x3", Description: "broken thing [repo=svc-b]"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Repository.ID != "svc-b" {
		t.Errorf("expected svc-b, got %s", r.Repository.ID)
	}
}

func TestResolve_NoMatch(t *testing.T) {
	e := New(testConfig())
	_, err := e.Resolve(domain.Issue{ID: "x4"})
	if !errs.Is(err, errs.NoMatch) {
		t.Errorf("expected NoMatch, got %v", err)
	}
}

func TestResolve_CachedUntilReload(t *testing.T) {
	e := New(testConfig())
	_, _ = e.Resolve(domain.Issue{ID: "x1", Labels: []string{"team-a"}})

	e.cacheMu.RLock()
	_, cached := e.cache["x1"]
	e.cacheMu.RUnlock()
	if !cached {
		t.Fatal("expected route cached after resolve")
	}

	e.Reload(testConfig())
	e.cacheMu.RLock()
	_, stillCached := e.cache["x1"]
	e.cacheMu.RUnlock()
	if stillCached {
		t.Error("expected cache cleared after reload")
	}
}

func TestResolve_AutoExecuteFlag(t *testing.T) {
	e := New(testConfig())
	r, err := e.Resolve(domain.Issue{ID: "x5", Labels: []string{"team-a", "auto"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.ExecuteNow {
		t.Error("expected ExecuteNow true for auto label")
	}
}

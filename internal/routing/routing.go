// Package routing resolves a spec.md Route for an issue: repository
// lookup by label, then project name (case-insensitive substring), then
// team, then a "[repo=X]" description tag, with a cache invalidated on
// config reload, per spec.md §4.8 step 1 and §3 invariant 5.
package routing

import (
	"strings"
	"sync"

	"github.com/relayforge/relay/internal/directive"
	"github.com/relayforge/relay/internal/domain"
	"github.com/relayforge/relay/internal/errs"
)

// Config is the routing-relevant slice of the loaded configuration.
type Config struct {
	Repositories        []domain.Repository
	DefaultProvider     domain.ProviderType
	DefaultWorktreeMode domain.WorktreeMode
	AutoExecuteLabels   []string
	ManualExecuteLabels []string
}

// Engine resolves routes and caches them by issue id until a config
// reload invalidates the cache, per invariant 5: "no stale repository path
// is ever executed."
type Engine struct {
	mu  sync.RWMutex
	cfg Config

	byLabel   map[string]domain.Repository
	byProject map[string]domain.Repository // also used for team lookups, keys lowercased
	byID      map[string]domain.Repository

	cacheMu sync.RWMutex
	cache   map[string]domain.Route
}

// New constructs an Engine and builds its lookup maps.
func New(cfg Config) *Engine {
	e := &Engine{cache: make(map[string]domain.Route)}
	e.Reload(cfg)
	return e
}

// Reload replaces the configuration and its derived lookup maps, and
// clears the route cache — invariant 5 requires the cache be empty
// immediately after a reload.
func (e *Engine) Reload(cfg Config) {
	byLabel := make(map[string]domain.Repository)
	byProject := make(map[string]domain.Repository)
	byID := make(map[string]domain.Repository)

	for _, repo := range cfg.Repositories {
		byID[repo.ID] = repo
		for _, l := range repo.RoutingLabels {
			byLabel[l] = repo
		}
		for _, p := range repo.ProjectKeys {
			byProject[strings.ToLower(p)] = repo
		}
	}

	e.mu.Lock()
	e.cfg = cfg
	e.byLabel = byLabel
	e.byProject = byProject
	e.byID = byID
	e.mu.Unlock()

	e.cacheMu.Lock()
	e.cache = make(map[string]domain.Route)
	e.cacheMu.Unlock()
}

// Resolve computes (and caches) the Route for issue, failing with NoMatch
// if no repository matches by any of the four signals.
func (e *Engine) Resolve(issue domain.Issue) (domain.Route, error) {
	e.cacheMu.RLock()
	if r, ok := e.cache[issue.ID]; ok {
		e.cacheMu.RUnlock()
		return r, nil
	}
	e.cacheMu.RUnlock()

	e.mu.RLock()
	defer e.mu.RUnlock()

	repo, ok := e.matchByLabel(issue)
	if !ok {
		repo, ok = e.matchByProject(issue)
	}
	if !ok {
		repo, ok = e.matchByTeam(issue)
	}
	if !ok {
		repo, ok = e.matchByRepoTag(issue)
	}
	if !ok {
		return domain.Route{}, errs.New(errs.NoMatch, issue.ID, false, nil)
	}

	route := domain.Route{
		Repository:   repo,
		Provider:     e.cfg.DefaultProvider,
		ExecuteNow:   e.isAutoExecute(issue),
		WorktreeMode: e.cfg.DefaultWorktreeMode,
	}
	if override, ok := directive.ParseProviderOverride(issue.Description); ok {
		route.Provider = override
	}

	e.cacheMu.Lock()
	e.cache[issue.ID] = route
	e.cacheMu.Unlock()
	return route, nil
}

func (e *Engine) matchByLabel(issue domain.Issue) (domain.Repository, bool) {
	for _, l := range issue.Labels {
		if repo, ok := e.byLabel[l]; ok {
			return repo, true
		}
	}
	return domain.Repository{}, false
}

func (e *Engine) matchByProject(issue domain.Issue) (domain.Repository, bool) {
	name := strings.ToLower(issue.Project)
	if repo, ok := e.byProject[name]; ok {
		return repo, true
	}
	if name == "" {
		return domain.Repository{}, false
	}
	for _, repo := range e.cfg.Repositories {
		for _, key := range repo.ProjectKeys {
			if k := strings.ToLower(key); k != "" && strings.Contains(name, k) {
				return repo, true
			}
		}
	}
	return domain.Repository{}, false
}

func (e *Engine) matchByTeam(issue domain.Issue) (domain.Repository, bool) {
	// Team routing shares the project-key map by convention: a repository's
	// ProjectKeys may also list team names, kept as one lookup structure.
	repo, ok := e.byProject[strings.ToLower(issue.Team)]
	return repo, ok
}

func (e *Engine) matchByRepoTag(issue domain.Issue) (domain.Repository, bool) {
	tag, ok := directive.ParseRepoTag(issue.Description)
	if !ok {
		return domain.Repository{}, false
	}
	repo, ok := e.byID[tag]
	return repo, ok
}

func (e *Engine) isAutoExecute(issue domain.Issue) bool {
	for _, l := range issue.Labels {
		for _, auto := range e.cfg.AutoExecuteLabels {
			if l == auto {
				return true
			}
		}
	}
	return false
}

// Package config loads the system's single JSON configuration file and
// layers environment-variable overrides on top of it via spf13/viper,
// producing the typed Config every other package composes against.
// Precedence is env > file > default, matching internal/config's
// grounding in the pack's viper-based loaders.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/relayforge/relay/internal/domain"
)

// Provider is the on-disk shape of one entry in providers[].
type Provider struct {
	Type       string `mapstructure:"type"`
	Priority   int    `mapstructure:"priority"`
	Credential string `mapstructure:"credential"`
	Endpoint   string `mapstructure:"endpoint"`
	Enabled    bool   `mapstructure:"enabled"`
}

// Repository is the on-disk shape of one entry in repositories[].
type Repository struct {
	ID            string   `mapstructure:"id"`
	LocalPath     string   `mapstructure:"localPath"`
	BaseBranch    string   `mapstructure:"baseBranch"`
	WorktreeBase  string   `mapstructure:"worktreeBase"`
	RoutingLabels []string `mapstructure:"routingLabels"`
	ProjectKeys   []string `mapstructure:"projectKeys"`
}

// Paths holds the base directories the system persists state under.
type Paths struct {
	WorktreeBase string `mapstructure:"worktreeBase"`
	SessionBase  string `mapstructure:"sessionBase"`
	LogPath      string `mapstructure:"logPath"`
}

// LabelRules splits an issue's labels into auto-execute and manual-queue
// buckets, per spec.md §4.1 step 6.
type LabelRules struct {
	AutoExecute   []string `mapstructure:"autoExecute"`
	ManualExecute []string `mapstructure:"manualExecute"`
}

// Server holds the webhook ingress's own listen settings. Timeouts are
// stored in milliseconds because they're sourced from env vars
// documented in milliseconds (DEFAULT_TIMEOUT_MS, HEALTH_INTERVAL_MS);
// use DefaultTimeout/HealthInterval to get a time.Duration.
type Server struct {
	Port             int    `mapstructure:"port"`
	Host             string `mapstructure:"host"`
	WebhookSecret    string `mapstructure:"webhookSecret"`
	DefaultTimeoutMs int    `mapstructure:"defaultTimeoutMs"`
	HealthIntervalMs int    `mapstructure:"healthIntervalMs"`
}

// DefaultTimeout returns the configured per-execution timeout.
func (s Server) DefaultTimeout() time.Duration {
	return time.Duration(s.DefaultTimeoutMs) * time.Millisecond
}

// HealthInterval returns the configured health-check polling cadence.
func (s Server) HealthInterval() time.Duration {
	return time.Duration(s.HealthIntervalMs) * time.Millisecond
}

// Poller tunes cmd/relay-poller's reconciliation cycle.
type Poller struct {
	IntervalSeconds    int      `mapstructure:"intervalSeconds"`
	MaxIntervalSeconds int      `mapstructure:"maxIntervalSeconds"`
	Concurrency        int      `mapstructure:"concurrency"`
	States             []string `mapstructure:"states"`
	CronExpr           string   `mapstructure:"cronExpr"`
}

// Interval returns the configured base poll interval.
func (p Poller) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds) * time.Second
}

// MaxInterval returns the configured backoff ceiling.
func (p Poller) MaxInterval() time.Duration {
	return time.Duration(p.MaxIntervalSeconds) * time.Second
}

// EventBus optionally points at an AMQP broker; empty URL means the
// in-process bus is used.
type EventBus struct {
	URL string `mapstructure:"url"`
}

// Audit optionally points at a Postgres DSN for the audit trail; empty
// means auditing is disabled.
type Audit struct {
	DBURL string `mapstructure:"dbUrl"`
}

// OAuthClient is one provider's client-credentials OAuth endpoint, used
// by cmd/relay-tokend to refresh that provider's access token.
type OAuthClient struct {
	ClientID     string   `mapstructure:"clientId"`
	ClientSecret string   `mapstructure:"clientSecret"`
	TokenURL     string   `mapstructure:"tokenUrl"`
	Scopes       []string `mapstructure:"scopes"`
}

// Tracker holds the upstream issue tracker's connection details: its base
// URL and API key for the thin internal/trackerclient client, the agent
// name the relevance filter matches against (spec.md §4.1 step 4), and a
// per-tracker-name HMAC secret map for webhook signature verification.
type Tracker struct {
	BaseURL   string            `mapstructure:"baseUrl"`
	APIKey    string            `mapstructure:"apiKey"`
	AgentName string            `mapstructure:"agentName"`
	Secrets   map[string]string `mapstructure:"secrets"`
}

// Config is the fully loaded, validated configuration.
type Config struct {
	Version             int          `mapstructure:"version"`
	Repositories        []Repository `mapstructure:"repositories"`
	Providers           []Provider   `mapstructure:"providers"`
	Paths               Paths        `mapstructure:"paths"`
	DefaultProvider     string       `mapstructure:"defaultProvider"`
	DefaultWorktreeMode string       `mapstructure:"defaultWorktreeMode"`
	LabelRules          LabelRules   `mapstructure:"labelRules"`
	Server              Server       `mapstructure:"server"`
	EventBus            EventBus     `mapstructure:"eventBus"`
	Audit               Audit        `mapstructure:"audit"`
	Tracker             Tracker      `mapstructure:"tracker"`
	Poller              Poller       `mapstructure:"poller"`
	OAuthClients        map[string]OAuthClient `mapstructure:"oauthClients"`
}

// Load reads configPath (if non-empty and present) and layers environment
// variables on top, applying backward-compatible aliases for variables
// that predate the RELAY_ prefix convention.
func Load(configPath string) (Config, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetConfigType("json")
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", configPath, err)
		}
	}

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindAliases(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("version", 1)
	v.SetDefault("defaultProvider", string(domain.ProviderAnthropic))
	v.SetDefault("defaultWorktreeMode", string(domain.WorktreeModeFresh))
	v.SetDefault("paths.worktreeBase", "~/.relay/worktrees")
	v.SetDefault("paths.sessionBase", "~/.relay/sessions")
	v.SetDefault("paths.logPath", "~/.relay/logs")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.defaultTimeoutMs", int((15 * time.Minute).Milliseconds()))
	v.SetDefault("server.healthIntervalMs", int(time.Minute.Milliseconds()))
	v.SetDefault("tracker.agentName", "relay")
	v.SetDefault("poller.intervalSeconds", int((30 * time.Minute).Seconds()))
	v.SetDefault("poller.maxIntervalSeconds", int((60 * time.Minute).Seconds()))
	v.SetDefault("poller.concurrency", 5)
}

// bindAliases honors the environment variables this system is documented
// to accept under their pre-RELAY_ names, so operators upgrading from an
// older deployment don't have to rewrite their env files.
func bindAliases(v *viper.Viper) {
	aliases := map[string]string{
		"server.port":             "PORT",
		"server.host":             "HOST",
		"server.webhookSecret":    "WEBHOOK_SECRET",
		"server.defaultTimeoutMs": "DEFAULT_TIMEOUT_MS",
		"server.healthIntervalMs": "HEALTH_INTERVAL_MS",
		"paths.worktreeBase":      "WORKTREE_BASE",
		"paths.sessionBase":       "SESSION_BASE",
		"paths.logPath":           "LOG_PATH",
		"eventBus.url":            "RABBITMQ_URL",
		"audit.dbUrl":             "DB_URL",
		"tracker.baseUrl":         "TRACKER_BASE_URL",
		"tracker.apiKey":          "TRACKER_API_KEY",
		"tracker.agentName":       "TRACKER_AGENT_NAME",
	}
	for key, env := range aliases {
		_ = v.BindEnv(key, env)
	}
}

func (c Config) validate() error {
	if len(c.Repositories) == 0 {
		return fmt.Errorf("config: at least one repository must be configured")
	}
	seen := make(map[string]bool, len(c.Repositories))
	for _, r := range c.Repositories {
		if r.ID == "" {
			return fmt.Errorf("config: repository missing id")
		}
		if seen[r.ID] {
			return fmt.Errorf("config: duplicate repository id %q", r.ID)
		}
		seen[r.ID] = true
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("config: at least one provider must be configured")
	}
	return nil
}

// RoutingRepositories converts the loaded repository list to the domain
// shape internal/routing.Engine consumes.
func (c Config) RoutingRepositories() []domain.Repository {
	out := make([]domain.Repository, 0, len(c.Repositories))
	for _, r := range c.Repositories {
		out = append(out, domain.Repository{
			ID:            r.ID,
			LocalPath:     r.LocalPath,
			BaseBranch:    r.BaseBranch,
			WorktreeBase:  r.WorktreeBase,
			RoutingLabels: r.RoutingLabels,
			ProjectKeys:   r.ProjectKeys,
		})
	}
	return out
}

// DomainProviders converts the loaded provider list to domain.Provider,
// skipping entries with Enabled=false.
func (c Config) DomainProviders() []domain.Provider {
	out := make([]domain.Provider, 0, len(c.Providers))
	for _, p := range c.Providers {
		if !p.Enabled {
			continue
		}
		out = append(out, domain.Provider{
			Type:       domain.ProviderType(p.Type),
			Priority:   p.Priority,
			Credential: p.Credential,
			Endpoint:   p.Endpoint,
			Enabled:    p.Enabled,
		})
	}
	return out
}

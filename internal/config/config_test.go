package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `{
	"version": 1,
	"repositories": [
		{"id": "repo-a", "localPath": "/repos/a", "baseBranch": "main", "routingLabels": ["team-a"], "projectKeys": ["ABC"]}
	],
	"providers": [
		{"type": "anthropic", "priority": 1, "credential": "sk-test", "enabled": true}
	],
	"labelRules": {"autoExecute": ["auto"], "manualExecute": ["manual"]}
}`

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaultsAndFile(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultProvider != "anthropic" {
		t.Errorf("expected default provider fallback, got %q", cfg.DefaultProvider)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default server port 8080, got %d", cfg.Server.Port)
	}
	if len(cfg.Repositories) != 1 || cfg.Repositories[0].ID != "repo-a" {
		t.Errorf("expected repo-a loaded from file, got %+v", cfg.Repositories)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	t.Setenv("RELAY_SERVER_PORT", "9090")
	t.Setenv("WEBHOOK_SECRET", "from-alias")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected env override to win, got port %d", cfg.Server.Port)
	}
	if cfg.Server.WebhookSecret != "from-alias" {
		t.Errorf("expected legacy WEBHOOK_SECRET alias honored, got %q", cfg.Server.WebhookSecret)
	}
}

func TestLoad_RejectsEmptyRepositories(t *testing.T) {
	path := writeTempConfig(t, `{"version":1,"providers":[{"type":"anthropic","enabled":true}]}`)
	if _, err := Load(path); err == nil {
		t.Error("expected validation error for missing repositories")
	}
}

func TestLoad_RejectsDuplicateRepositoryIDs(t *testing.T) {
	path := writeTempConfig(t, `{
		"version": 1,
		"repositories": [
			{"id": "dup", "localPath": "/a"},
			{"id": "dup", "localPath": "/b"}
		],
		"providers": [{"type": "anthropic", "enabled": true}]
	}`)
	if _, err := Load(path); err == nil {
		t.Error("expected validation error for duplicate repository ids")
	}
}

func TestDomainProviders_SkipsDisabled(t *testing.T) {
	cfg := Config{Providers: []Provider{
		{Type: "anthropic", Enabled: true},
		{Type: "generic", Enabled: false},
	}}
	got := cfg.DomainProviders()
	if len(got) != 1 || got[0].Type != "anthropic" {
		t.Errorf("expected only the enabled provider, got %+v", got)
	}
}

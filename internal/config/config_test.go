package config

import (
	"os"
	"testing"

	"github.com/nxclaw/nxclaw/internal/workspace"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	paths := workspace.NewPaths(t.TempDir())

	cfg, err := Load(paths)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "anthropic" {
		t.Errorf("provider = %q", cfg.Provider)
	}
	if cfg.Runtime.MaxConcurrentTasks != 3 {
		t.Errorf("maxConcurrentTasks = %d", cfg.Runtime.MaxConcurrentTasks)
	}
	if cfg.Memory.Search.MinScore != 0.12 {
		t.Errorf("minScore = %v", cfg.Memory.Search.MinScore)
	}
	if !cfg.Memory.SessionMemoryEnabled {
		t.Error("sessionMemoryEnabled default should be true")
	}
}

func TestLoadJSON5Tolerated(t *testing.T) {
	paths := workspace.NewPaths(t.TempDir())
	raw := `{
  // console
  provider: "openai-codex",
  dashboard: { port: 9999, },
  runtime: { maxQueueDepth: 7 },
  autonomous: { enabled: true, goal: "tidy the workspace" },
}`
	if err := os.WriteFile(paths.ConfigFile(), []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(paths)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "openai-codex" {
		t.Errorf("provider = %q", cfg.Provider)
	}
	if cfg.Dashboard.Port != 9999 {
		t.Errorf("port = %d", cfg.Dashboard.Port)
	}
	if cfg.Runtime.MaxQueueDepth != 7 {
		t.Errorf("maxQueueDepth = %d", cfg.Runtime.MaxQueueDepth)
	}
	if !cfg.Autonomous.Enabled || cfg.Autonomous.Goal != "tidy the workspace" {
		t.Errorf("autonomous = %+v", cfg.Autonomous)
	}
	// Untouched sections keep their defaults.
	if cfg.Runtime.PromptTimeoutMs != 120_000 {
		t.Errorf("promptTimeoutMs = %d", cfg.Runtime.PromptTimeoutMs)
	}
	if cfg.Chrome.MaxSessions != 4 {
		t.Errorf("chrome.maxSessions = %d", cfg.Chrome.MaxSessions)
	}
}

func TestLoadBadSyntaxFails(t *testing.T) {
	paths := workspace.NewPaths(t.TempDir())
	if err := os.WriteFile(paths.ConfigFile(), []byte("{provider:"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(paths); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverridesWin(t *testing.T) {
	paths := workspace.NewPaths(t.TempDir())
	if err := os.WriteFile(paths.ConfigFile(), []byte(`{provider: "anthropic", dashboard: {port: 8000}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NXCLAW_PROVIDER", "gemini-cli")
	t.Setenv("NXCLAW_DASHBOARD_PORT", "8123")
	t.Setenv("NXCLAW_AUTONOMOUS_ENABLED", "true")
	t.Setenv("NXCLAW_CHROME_HEADLESS", "false")

	cfg, err := Load(paths)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "gemini-cli" {
		t.Errorf("provider = %q", cfg.Provider)
	}
	if cfg.Dashboard.Port != 8123 {
		t.Errorf("port = %d", cfg.Dashboard.Port)
	}
	if !cfg.Autonomous.Enabled {
		t.Error("autonomous not enabled via env")
	}
	if cfg.Chrome.Headless == nil || *cfg.Chrome.Headless {
		t.Errorf("headless = %v", cfg.Chrome.Headless)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	paths := workspace.NewPaths(t.TempDir())

	cfg := Default()
	cfg.Provider = "gemini-cli"
	cfg.Dashboard.Token = "secret"
	cfg.Memory.ExtraPaths = []string{"/srv/notes"}
	if err := Save(paths, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(paths.ConfigFile())
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config perms = %o", perm)
	}

	loaded, err := Load(paths)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Provider != "gemini-cli" || loaded.Dashboard.Token != "secret" {
		t.Errorf("round trip lost fields: %+v", loaded)
	}
	if len(loaded.Memory.ExtraPaths) != 1 || loaded.Memory.ExtraPaths[0] != "/srv/notes" {
		t.Errorf("extraPaths = %v", loaded.Memory.ExtraPaths)
	}
}

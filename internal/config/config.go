// Package config owns the on-disk runtime configuration: JSON5-tolerant
// parsing, compiled defaults, and environment overrides, in that order of
// increasing precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/nxclaw/nxclaw/internal/fsutil"
	"github.com/nxclaw/nxclaw/internal/workspace"
)

// Config is the full runtime configuration tree.
type Config struct {
	// Provider selects the default credential family: anthropic,
	// openai-codex, or gemini-cli.
	Provider string `json:"provider,omitempty"`
	// Model overrides the provider's default model.
	Model string `json:"model,omitempty"`

	Dashboard  DashboardConfig  `json:"dashboard"`
	Runtime    RuntimeConfig    `json:"runtime"`
	Autonomous AutonomousConfig `json:"autonomous"`
	Memory     MemoryConfig     `json:"memory"`
	Chrome     ChromeConfig     `json:"chrome"`
	Skills     SkillsConfig     `json:"skills"`
}

// DashboardConfig controls the HTTP console.
type DashboardConfig struct {
	Host  string `json:"host,omitempty"`
	Port  int    `json:"port,omitempty"`
	Token string `json:"token,omitempty"`
}

// RuntimeConfig bounds the orchestrator.
type RuntimeConfig struct {
	PromptTimeoutMs               int `json:"promptTimeoutMs,omitempty"`
	MaxPromptRetries              int `json:"maxPromptRetries,omitempty"`
	MaxQueueDepth                 int `json:"maxQueueDepth,omitempty"`
	MaxConcurrentTasks            int `json:"maxConcurrentTasks,omitempty"`
	TaskRetryLimit                int `json:"taskRetryLimit,omitempty"`
	TaskRetryDelayMs              int `json:"taskRetryDelayMs,omitempty"`
	MaxOverflowCompactionAttempts int `json:"maxOverflowCompactionAttempts,omitempty"`
	MaxSessionLanes               int `json:"maxSessionLanes,omitempty"`
	MaxSessionIdleMinutes         int `json:"maxSessionIdleMinutes,omitempty"`
	MaxStoredTasks                int `json:"maxStoredTasks,omitempty"`
	MaxFinishedTasks              int `json:"maxFinishedTasks,omitempty"`
}

// AutonomousConfig controls the self-driving loop.
type AutonomousConfig struct {
	Enabled                bool   `json:"enabled"`
	Goal                   string `json:"goal,omitempty"`
	IntervalMs             int    `json:"intervalMs,omitempty"`
	SkipWhenQueueAbove     int    `json:"skipWhenQueueAbove,omitempty"`
	MaxConsecutiveFailures int    `json:"maxConsecutiveFailures,omitempty"`
	StalePendingHours      int    `json:"stalePendingHours,omitempty"`
	StaleInProgressHours   int    `json:"staleInProgressHours,omitempty"`
}

// MemoryConfig tunes the memory store.
type MemoryConfig struct {
	Vector               VectorConfig `json:"vector"`
	Search               SearchConfig `json:"search"`
	SessionMemoryEnabled bool         `json:"sessionMemoryEnabled"`
	ExtraPaths           []string     `json:"extraPaths,omitempty"`
}

// VectorConfig selects the embedding provider.
type VectorConfig struct {
	Enabled      bool   `json:"enabled"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	Dims         int    `json:"dims,omitempty"`
	BatchSize    int    `json:"batchSize,omitempty"`
	CacheEnabled bool   `json:"cacheEnabled"`
}

// SearchConfig tunes hybrid scoring.
type SearchConfig struct {
	VectorWeight float64 `json:"vectorWeight,omitempty"`
	TextWeight   float64 `json:"textWeight,omitempty"`
	MinScore     float64 `json:"minScore,omitempty"`
}

// ChromeConfig controls the browser subsystem.
type ChromeConfig struct {
	Mode                 string `json:"mode,omitempty"`
	CDPURL               string `json:"cdpUrl,omitempty"`
	CDPConnectTimeoutMs  int    `json:"cdpConnectTimeoutMs,omitempty"`
	CDPReuseExistingPage bool   `json:"cdpReuseExistingPage"`
	CDPFallbackToLaunch  bool   `json:"cdpFallbackToLaunch"`
	Headless             *bool  `json:"headless,omitempty"`
	ExecutablePath       string `json:"executablePath,omitempty"`
	MaxSessions          int    `json:"maxSessions,omitempty"`
}

// SkillsConfig controls the skills subsystem.
type SkillsConfig struct {
	Enabled             bool   `json:"enabled"`
	MaxCatalogEntries   int    `json:"maxCatalogEntries,omitempty"`
	MaxSkillFileBytes   int64  `json:"maxSkillFileBytes,omitempty"`
	MaxInstallFiles     int    `json:"maxInstallFiles,omitempty"`
	MaxInstallBytes     int64  `json:"maxInstallBytes,omitempty"`
	InstallTimeoutMs    int    `json:"installTimeoutMs,omitempty"`
	MaxPromptSkills     int    `json:"maxPromptSkills,omitempty"`
	MaxPromptChars      int    `json:"maxPromptChars,omitempty"`
	CodexSkillsDir      string `json:"codexSkillsDir,omitempty"`
	AutoEnableOnInstall bool   `json:"autoEnableOnInstall"`
}

// Default returns the compiled defaults.
func Default() Config {
	return Config{
		Provider: "anthropic",
		Dashboard: DashboardConfig{
			Host: "127.0.0.1",
			Port: 8890,
		},
		Runtime: RuntimeConfig{
			PromptTimeoutMs:               120_000,
			MaxPromptRetries:              3,
			MaxQueueDepth:                 24,
			MaxConcurrentTasks:            3,
			TaskRetryLimit:                2,
			TaskRetryDelayMs:              2_000,
			MaxOverflowCompactionAttempts: 2,
			MaxSessionLanes:               24,
			MaxSessionIdleMinutes:         240,
			MaxStoredTasks:                500,
			MaxFinishedTasks:              200,
		},
		Autonomous: AutonomousConfig{
			Enabled:                false,
			IntervalMs:             300_000,
			SkipWhenQueueAbove:     4,
			MaxConsecutiveFailures: 5,
			StalePendingHours:      72,
			StaleInProgressHours:   24,
		},
		Memory: MemoryConfig{
			Vector: VectorConfig{
				Enabled:      true,
				Dims:         256,
				BatchSize:    64,
				CacheEnabled: true,
			},
			Search: SearchConfig{
				VectorWeight: 0.65,
				TextWeight:   0.35,
				MinScore:     0.12,
			},
			SessionMemoryEnabled: true,
		},
		Chrome: ChromeConfig{
			Mode:                 "launch",
			CDPConnectTimeoutMs:  10_000,
			CDPReuseExistingPage: true,
			CDPFallbackToLaunch:  true,
			MaxSessions:          4,
		},
		Skills: SkillsConfig{
			Enabled:             true,
			MaxCatalogEntries:   200,
			MaxSkillFileBytes:   64 * 1024,
			MaxInstallFiles:     40,
			MaxInstallBytes:     2 * 1024 * 1024,
			InstallTimeoutMs:    60_000,
			MaxPromptSkills:     6,
			MaxPromptChars:      6_000,
			AutoEnableOnInstall: true,
		},
	}
}

// Load reads config.json (JSON5 tolerated), layers it over the defaults,
// and applies environment overrides last. A missing file yields defaults.
func Load(paths workspace.Paths) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(paths.ConfigFile())
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json5.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	return cfg, nil
}

// Save writes the configuration atomically.
func Save(paths workspace.Paths, cfg Config) error {
	return fsutil.WriteJSONAtomic(paths.ConfigFile(), cfg)
}

// applyEnv overlays NXCLAW_* environment variables.
func applyEnv(cfg *Config) {
	if v := envStr("NXCLAW_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := envStr("NXCLAW_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := envStr("NXCLAW_DASHBOARD_HOST"); v != "" {
		cfg.Dashboard.Host = v
	}
	if v, ok := envInt("NXCLAW_DASHBOARD_PORT"); ok {
		cfg.Dashboard.Port = v
	}
	if v := envStr("NXCLAW_DASHBOARD_TOKEN"); v != "" {
		cfg.Dashboard.Token = v
	}
	if v, ok := envBool("NXCLAW_AUTONOMOUS_ENABLED"); ok {
		cfg.Autonomous.Enabled = v
	}
	if v := envStr("NXCLAW_AUTONOMOUS_GOAL"); v != "" {
		cfg.Autonomous.Goal = v
	}
	if v, ok := envBool("NXCLAW_MEMORY_VECTOR_ENABLED"); ok {
		cfg.Memory.Vector.Enabled = v
	}
	if v := envStr("NXCLAW_CHROME_MODE"); v != "" {
		cfg.Chrome.Mode = v
	}
	if v := envStr("NXCLAW_CHROME_CDP_URL"); v != "" {
		cfg.Chrome.CDPURL = v
	}
	if v, ok := envBool("NXCLAW_CHROME_HEADLESS"); ok {
		cfg.Chrome.Headless = &v
	}
	if v, ok := envBool("NXCLAW_SKILLS_ENABLED"); ok {
		cfg.Skills.Enabled = v
	}
}

func envStr(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envInt(key string) (int, bool) {
	v := envStr(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	v := strings.ToLower(envStr(key))
	switch v {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}

package main

import (
	"fmt"
	"time"

	"github.com/nxclaw/nxclaw/internal/agent"
	"github.com/nxclaw/nxclaw/internal/auth"
	"github.com/nxclaw/nxclaw/internal/autonomous"
	"github.com/nxclaw/nxclaw/internal/browser"
	"github.com/nxclaw/nxclaw/internal/config"
	"github.com/nxclaw/nxclaw/internal/memory"
	"github.com/nxclaw/nxclaw/internal/runtime"
	"github.com/nxclaw/nxclaw/internal/skills"
	"github.com/nxclaw/nxclaw/internal/tasks"
)

// Conversions from the on-disk configuration tree to the per-subsystem
// configs. Zero values fall through to each subsystem's own defaults.

func skillsConfig(cfg config.Config) skills.Config {
	return skills.Config{
		Enabled:             cfg.Skills.Enabled,
		MaxCatalogEntries:   cfg.Skills.MaxCatalogEntries,
		MaxSkillFileBytes:   cfg.Skills.MaxSkillFileBytes,
		MaxInstallFiles:     cfg.Skills.MaxInstallFiles,
		MaxInstallBytes:     cfg.Skills.MaxInstallBytes,
		InstallTimeout:      time.Duration(cfg.Skills.InstallTimeoutMs) * time.Millisecond,
		MaxPromptSkills:     cfg.Skills.MaxPromptSkills,
		MaxPromptChars:      cfg.Skills.MaxPromptChars,
		CodexSkillsDir:      cfg.Skills.CodexSkillsDir,
		AutoEnableOnInstall: cfg.Skills.AutoEnableOnInstall,
	}
}

func memoryConfig(cfg config.Config) memory.Config {
	return memory.Config{
		Vector: memory.VectorConfig{
			Enabled:      cfg.Memory.Vector.Enabled,
			Provider:     cfg.Memory.Vector.Provider,
			Model:        cfg.Memory.Vector.Model,
			Dims:         cfg.Memory.Vector.Dims,
			BatchSize:    cfg.Memory.Vector.BatchSize,
			CacheEnabled: cfg.Memory.Vector.CacheEnabled,
		},
		Search: memory.SearchConfig{
			VectorWeight: cfg.Memory.Search.VectorWeight,
			TextWeight:   cfg.Memory.Search.TextWeight,
			MinScore:     cfg.Memory.Search.MinScore,
		},
		SessionMemoryEnabled: cfg.Memory.SessionMemoryEnabled,
		ExtraPaths:           cfg.Memory.ExtraPaths,
	}
}

func tasksConfig(cfg config.Config) tasks.Config {
	return tasks.Config{
		MaxConcurrent:    cfg.Runtime.MaxConcurrentTasks,
		MaxFinishedTasks: cfg.Runtime.MaxFinishedTasks,
	}
}

func browserConfig(cfg config.Config) browser.Config {
	mode := browser.ModeLaunch
	if cfg.Chrome.Mode == "cdp" {
		mode = browser.ModeCDP
	}
	return browser.Config{
		Mode:                 mode,
		CDPURL:               cfg.Chrome.CDPURL,
		CDPTimeout:           time.Duration(cfg.Chrome.CDPConnectTimeoutMs) * time.Millisecond,
		CDPFallbackToLaunch:  cfg.Chrome.CDPFallbackToLaunch,
		CDPReuseExistingPage: cfg.Chrome.CDPReuseExistingPage,
		ExecutablePath:       cfg.Chrome.ExecutablePath,
		Headless:             cfg.Chrome.Headless,
		MaxSessions:          cfg.Chrome.MaxSessions,
	}
}

func runtimeConfig(cfg config.Config) runtime.Config {
	return runtime.Config{
		PromptTimeout:                 time.Duration(cfg.Runtime.PromptTimeoutMs) * time.Millisecond,
		MaxPromptRetries:              cfg.Runtime.MaxPromptRetries,
		MaxQueueDepth:                 cfg.Runtime.MaxQueueDepth,
		MaxOverflowCompactionAttempts: cfg.Runtime.MaxOverflowCompactionAttempts,
		MaxSessionLanes:               cfg.Runtime.MaxSessionLanes,
		MaxSessionIdle:                time.Duration(cfg.Runtime.MaxSessionIdleMinutes) * time.Minute,
	}
}

func autonomousConfig(cfg config.Config) autonomous.Config {
	return autonomous.Config{
		Enabled:                cfg.Autonomous.Enabled,
		Goal:                   cfg.Autonomous.Goal,
		Interval:               time.Duration(cfg.Autonomous.IntervalMs) * time.Millisecond,
		SkipWhenQueueAbove:     cfg.Autonomous.SkipWhenQueueAbove,
		MaxConsecutiveFailures: cfg.Autonomous.MaxConsecutiveFailures,
		StalePendingAge:        time.Duration(cfg.Autonomous.StalePendingHours) * time.Hour,
		StaleInProgressIdle:    time.Duration(cfg.Autonomous.StaleInProgressHours) * time.Hour,
	}
}

// providerFactory resolves credentials at call time so a key added through
// the dashboard takes effect without a restart.
func providerFactory(store *auth.Store, cfg func() config.Config) func() (agent.Provider, error) {
	return func() (agent.Provider, error) {
		active := cfg()
		resolved, err := store.Resolve(active.Provider)
		if err != nil {
			return nil, fmt.Errorf("resolve credentials: %w", err)
		}
		model := active.Model
		if model == "" {
			model = resolved.Model
		}
		return agent.NewProvider(agent.ProviderConfig{
			Kind:    auth.Kind(resolved.Provider),
			APIKey:  resolved.APIKey,
			BaseURL: resolved.BaseURL,
			Model:   model,
		})
	}
}

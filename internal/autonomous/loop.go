// Package autonomous drives the runtime on a timer: each tick picks an
// objective (or falls back to a maintenance goal), prompts the
// orchestrator, and trips a circuit breaker after repeated failures.
package autonomous

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nxclaw/nxclaw/internal/objectives"
	"github.com/nxclaw/nxclaw/internal/observability"
	"github.com/nxclaw/nxclaw/internal/tasks"
)

// minInterval floors the tick interval.
const minInterval = 5 * time.Second

// runtimeErrorPrefix marks an orchestrator reply that is a failure, not a
// real answer.
const runtimeErrorPrefix = "Runtime error:"

// Config controls the loop. Reconfigure clears any tripped breaker.
type Config struct {
	Enabled bool

	// Goal is the maintenance prompt used when no objective is pending.
	Goal string

	// Interval between ticks, floored at 5s. Defaults to 5m.
	Interval time.Duration

	// SkipWhenQueueAbove skips the tick when the global lane queue depth
	// exceeds this. Defaults to 4.
	SkipWhenQueueAbove int

	// MaxConsecutiveFailures trips the breaker. Defaults to 5.
	MaxConsecutiveFailures int

	// StalePendingAge cancels pending objectives older than this.
	// Defaults to 72h.
	StalePendingAge time.Duration

	// StaleInProgressIdle blocks in-progress objectives idle longer than
	// this. Defaults to 24h.
	StaleInProgressIdle time.Duration

	Logger *slog.Logger
	Emit   func(eventType string, payload map[string]any)

	// Metrics records tick outcomes; optional.
	Metrics *observability.Metrics
}

// Deps are the runtime hooks the loop drives.
type Deps struct {
	Objectives *objectives.Store

	// QueueDepth reports the global lane-queue depth.
	QueueDepth func() int

	// TaskHealth reports task-manager pressure.
	TaskHealth func() tasks.Health

	// Prompt runs one orchestrator turn with source "autonomous" and
	// returns the reply text.
	Prompt func(ctx context.Context, text string) string
}

// State is a snapshot of the controller.
type State struct {
	Enabled                bool      `json:"enabled"`
	Running                bool      `json:"running"`
	LastTickAt             time.Time `json:"lastTickAt,omitempty"`
	LastError              string    `json:"lastError,omitempty"`
	ConsecutiveFailures    int       `json:"consecutiveFailures"`
	MaxConsecutiveFailures int       `json:"maxConsecutiveFailures"`
	TotalTicks             int       `json:"totalTicks"`
	SkippedTicks           int       `json:"skippedTicks"`
	DisabledReason         string    `json:"disabledReason,omitempty"`
	IntervalMs             int64     `json:"intervalMs"`
	SkipWhenQueueAbove     int       `json:"skipWhenQueueAbove"`
	StalePendingHours      float64   `json:"stalePendingHours"`
	StaleInProgressHours   float64   `json:"staleInProgressHours"`
}

// Loop is the autonomous controller.
type Loop struct {
	deps    Deps
	logger  *slog.Logger
	emitFn  func(eventType string, payload map[string]any)
	metrics *observability.Metrics

	mu             sync.Mutex
	cfg            Config
	running        bool
	lastTickAt     time.Time
	lastError      string
	consecFailures int
	totalTicks     int
	skippedTicks   int
	disabledReason string

	stopC chan struct{}
	doneC chan struct{}
}

// NewLoop creates the controller; Start launches the timer.
func NewLoop(deps Deps, cfg Config) *Loop {
	applyDefaults(&cfg)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		deps:    deps,
		cfg:     cfg,
		logger:  logger.With("component", "autonomous"),
		emitFn:  cfg.Emit,
		metrics: cfg.Metrics,
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Interval < minInterval {
		cfg.Interval = minInterval
	}
	if cfg.SkipWhenQueueAbove <= 0 {
		cfg.SkipWhenQueueAbove = 4
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 5
	}
	if cfg.StalePendingAge <= 0 {
		cfg.StalePendingAge = 72 * time.Hour
	}
	if cfg.StaleInProgressIdle <= 0 {
		cfg.StaleInProgressIdle = 24 * time.Hour
	}
}

// Start begins ticking until Stop. Safe to call when disabled; the loop
// then only counts skips.
func (l *Loop) Start() {
	l.mu.Lock()
	if l.stopC != nil {
		l.mu.Unlock()
		return
	}
	l.stopC = make(chan struct{})
	l.doneC = make(chan struct{})
	interval := l.cfg.Interval
	stopC, doneC := l.stopC, l.doneC
	l.mu.Unlock()

	go func() {
		defer close(doneC)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopC:
				return
			case <-ticker.C:
				l.Tick(context.Background())
			}
		}
	}()
}

// Stop halts the timer and waits for any in-flight tick loop exit.
func (l *Loop) Stop() {
	l.mu.Lock()
	stopC, doneC := l.stopC, l.doneC
	l.stopC, l.doneC = nil, nil
	l.mu.Unlock()
	if stopC == nil {
		return
	}
	close(stopC)
	<-doneC
}

// Reconfigure swaps the config and clears a tripped breaker.
func (l *Loop) Reconfigure(cfg Config) {
	applyDefaults(&cfg)
	l.mu.Lock()
	cfg.Logger = l.cfg.Logger
	l.cfg = cfg
	l.disabledReason = ""
	l.consecFailures = 0
	l.mu.Unlock()
	l.logger.Info("autonomous loop reconfigured", "enabled", cfg.Enabled, "interval", cfg.Interval)
}

// GetState snapshots the controller.
func (l *Loop) GetState() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return State{
		Enabled:                l.cfg.Enabled,
		Running:                l.running,
		LastTickAt:             l.lastTickAt,
		LastError:              l.lastError,
		ConsecutiveFailures:    l.consecFailures,
		MaxConsecutiveFailures: l.cfg.MaxConsecutiveFailures,
		TotalTicks:             l.totalTicks,
		SkippedTicks:           l.skippedTicks,
		DisabledReason:         l.disabledReason,
		IntervalMs:             l.cfg.Interval.Milliseconds(),
		SkipWhenQueueAbove:     l.cfg.SkipWhenQueueAbove,
		StalePendingHours:      l.cfg.StalePendingAge.Hours(),
		StaleInProgressHours:   l.cfg.StaleInProgressIdle.Hours(),
	}
}

// Tick runs one cycle. Exposed for the timer and for tests.
func (l *Loop) Tick(ctx context.Context) {
	l.mu.Lock()
	if reason := l.skipReasonLocked(); reason != "" {
		l.skippedTicks++
		l.mu.Unlock()
		l.recordTick("skip")
		l.emit("autonomous.skip", map[string]any{"reason": reason})
		l.logger.Debug("tick skipped", "reason", reason)
		return
	}
	l.running = true
	l.lastTickAt = time.Now()
	l.totalTicks++
	cfg := l.cfg
	l.mu.Unlock()

	err := l.runTick(ctx, cfg)

	l.mu.Lock()
	l.running = false
	if err != nil {
		l.lastError = err.Error()
		l.consecFailures++
		if l.consecFailures >= cfg.MaxConsecutiveFailures && l.disabledReason == "" {
			l.disabledReason = fmt.Sprintf("disabled after %d consecutive failures: %s", l.consecFailures, l.lastError)
			l.logger.Error("circuit breaker tripped", "failures", l.consecFailures, "error", err)
		}
	} else {
		l.lastError = ""
		l.consecFailures = 0
	}
	failures := l.consecFailures
	l.mu.Unlock()

	if err != nil {
		l.recordTick("failure")
		l.emit("autonomous.failure", map[string]any{"error": err.Error(), "consecutive": failures})
	} else {
		l.recordTick("run")
		l.emit("autonomous.tick", map[string]any{})
	}
}

func (l *Loop) recordTick(outcome string) {
	if l.metrics != nil {
		l.metrics.RecordAutonomousTick(outcome)
	}
}

// skipReasonLocked evaluates the gating rules. Caller holds l.mu.
func (l *Loop) skipReasonLocked() string {
	if !l.cfg.Enabled {
		return "disabled"
	}
	if l.disabledReason != "" {
		return "breaker"
	}
	if l.running {
		return "tick-in-flight"
	}
	if l.deps.QueueDepth != nil {
		if depth := l.deps.QueueDepth(); depth > l.cfg.SkipWhenQueueAbove {
			return fmt.Sprintf("queue depth %d", depth)
		}
	}
	if l.deps.TaskHealth != nil {
		health := l.deps.TaskHealth()
		if health.QueueDepth > 3*health.MaxConcurrent {
			return fmt.Sprintf("task backlog %d", health.QueueDepth)
		}
		failCeiling := health.MaxConcurrent
		if failCeiling < 6 {
			failCeiling = 6
		}
		if health.FailedRecent > failCeiling {
			return fmt.Sprintf("recent failures %d", health.FailedRecent)
		}
	}
	return ""
}

func (l *Loop) runTick(ctx context.Context, cfg Config) error {
	store := l.deps.Objectives
	if err := store.Reload(); err != nil {
		return fmt.Errorf("reload objectives: %w", err)
	}
	if _, err := store.ExpireStale(cfg.StalePendingAge, cfg.StaleInProgressIdle); err != nil {
		l.logger.Warn("expire stale objectives failed", "error", err)
	}

	var prompt string
	if obj := store.PickForAutonomous(); obj != nil {
		if err := store.MarkPicked(obj.ID); err != nil {
			return fmt.Errorf("mark objective picked: %w", err)
		}
		prompt = objectivePrompt(obj)
		l.logger.Info("working objective", "id", obj.ID, "title", obj.Title)
	} else {
		prompt = maintenancePrompt(cfg.Goal)
		l.logger.Debug("no pending objective, running maintenance prompt")
	}

	reply := l.deps.Prompt(ctx, prompt)
	if strings.HasPrefix(reply, runtimeErrorPrefix) {
		return fmt.Errorf("orchestrator: %s", strings.TrimSpace(strings.TrimPrefix(reply, runtimeErrorPrefix)))
	}
	return nil
}

func objectivePrompt(obj *objectives.Objective) string {
	var b strings.Builder
	b.WriteString("Autonomous work cycle. Current objective:\n\n")
	fmt.Fprintf(&b, "Title: %s\n", obj.Title)
	if obj.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", obj.Description)
	}
	fmt.Fprintf(&b, "Priority: %d, run count: %d\n\n", obj.Priority, obj.RunCount)
	b.WriteString("Make concrete progress on this objective. Update its status ")
	b.WriteString("when it completes or becomes blocked, and record anything ")
	b.WriteString("worth remembering in long-term memory.")
	return b.String()
}

func maintenancePrompt(goal string) string {
	if strings.TrimSpace(goal) == "" {
		goal = "Review recent activity, tidy loose ends, and queue follow-up objectives where useful."
	}
	return "Autonomous maintenance cycle. No objective is pending.\n\nGoal: " + goal
}

func (l *Loop) emit(eventType string, payload map[string]any) {
	if l.emitFn != nil {
		l.emitFn(eventType, payload)
	}
}

// Package runtime is the orchestrator: it serializes work per conversation
// lane, composes prompts from the memory substrate, drives the provider
// with overflow recovery, and exposes aggregate state to the dashboard.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nxclaw/nxclaw/internal/agent"
	"github.com/nxclaw/nxclaw/internal/auth"
	"github.com/nxclaw/nxclaw/internal/browser"
	"github.com/nxclaw/nxclaw/internal/events"
	"github.com/nxclaw/nxclaw/internal/lane"
	"github.com/nxclaw/nxclaw/internal/memory"
	"github.com/nxclaw/nxclaw/internal/objectives"
	"github.com/nxclaw/nxclaw/internal/observability"
	"github.com/nxclaw/nxclaw/internal/skills"
	"github.com/nxclaw/nxclaw/internal/tasks"
	"github.com/nxclaw/nxclaw/internal/workspace"
)

// authRequiredMessage is returned verbatim whenever no provider credential
// is available.
const authRequiredMessage = "Authentication required. Run `nxclaw auth --provider <anthropic|openai-codex|gemini-cli>` with an API key configured, then try again."

// Config bounds the orchestrator. Zero values take the documented
// defaults.
type Config struct {
	// PromptTimeout bounds one provider call. Defaults to 2m.
	PromptTimeout time.Duration

	// MaxPromptRetries is the total attempt budget per turn. Defaults
	// to 3.
	MaxPromptRetries int

	// MaxQueueDepth caps global pending+active lane work. Defaults to 24.
	MaxQueueDepth int

	// MaxOverflowCompactionAttempts bounds overflow recovery cycles.
	// Defaults to 2.
	MaxOverflowCompactionAttempts int

	// MaxSessionLanes bounds live conversation lanes. Defaults to 24.
	MaxSessionLanes int

	// MaxSessionIdle evicts lanes idle beyond this. Defaults to 4h.
	MaxSessionIdle time.Duration
}

// Deps are the subsystems the orchestrator drives. Browser and Skills are
// optional.
type Deps struct {
	Paths      workspace.Paths
	Bus        *events.Bus
	Memory     *memory.Store
	Tasks      *tasks.Manager
	Objectives *objectives.Store
	Skills     *skills.Manager
	Browser    *browser.Controller
	Auth       *auth.Store

	// ProviderFactory builds the LLM provider once credentials resolve.
	// The result is cached until Reset.
	ProviderFactory func() (agent.Provider, error)

	// Metrics records turn and overflow-recovery counters; optional.
	Metrics *observability.Metrics

	Logger *slog.Logger
}

// Orchestrator is the runtime core.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	queue    *lane.Queue
	sessions *sessionRegistry
	composer *promptComposer

	providerMu sync.Mutex
	provider   agent.Provider

	channelMu sync.Mutex
	channels  map[string]bool

	// AutonomousState, when set, feeds the loop snapshot into GetState.
	AutonomousState func() map[string]any
}

// New wires the orchestrator. The lane queue emits lane.* events through
// the bus.
func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.PromptTimeout <= 0 {
		cfg.PromptTimeout = 2 * time.Minute
	}
	if cfg.MaxPromptRetries <= 0 {
		cfg.MaxPromptRetries = 3
	}
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = 24
	}
	if cfg.MaxOverflowCompactionAttempts <= 0 {
		cfg.MaxOverflowCompactionAttempts = 2
	}
	if cfg.MaxSessionIdle <= 0 {
		cfg.MaxSessionIdle = 4 * time.Hour
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "runtime")

	o := &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		sessions: newSessionRegistry(deps.Paths, cfg.MaxSessionLanes, cfg.MaxSessionIdle, logger),
		composer: newPromptComposer(deps.Paths, logger),
		channels: make(map[string]bool),
	}
	o.queue = lane.NewQueue(cfg.MaxQueueDepth, func(kind lane.EventKind, snap lane.Snapshot) {
		o.emit("lane."+string(kind), map[string]any{
			"lane":       snap.Lane,
			"laneDepth":  snap.LaneDepth,
			"laneActive": snap.LaneActive,
			"totalDepth": snap.TotalDepth,
		})
	})
	return o
}

func (o *Orchestrator) emit(eventType string, payload map[string]any) {
	if o.deps.Bus != nil {
		o.deps.Bus.Emit(eventType, payload)
	}
}

// ensureProvider resolves and caches the LLM provider.
func (o *Orchestrator) ensureProvider() (agent.Provider, error) {
	o.providerMu.Lock()
	defer o.providerMu.Unlock()
	if o.provider != nil {
		return o.provider, nil
	}
	if o.deps.ProviderFactory == nil {
		return nil, errors.New("no provider factory configured")
	}
	provider, err := o.deps.ProviderFactory()
	if err != nil {
		return nil, err
	}
	o.provider = provider
	return provider, nil
}

// ResetProvider drops the cached provider so the next turn re-resolves
// credentials. Used after settings changes.
func (o *Orchestrator) ResetProvider() {
	o.providerMu.Lock()
	o.provider = nil
	o.providerMu.Unlock()
}

// QueueDepth reports global pending+active lane work.
func (o *Orchestrator) QueueDepth() int {
	return o.queue.Depth()
}

// HandleIncoming runs one conversation turn and always returns a reply
// string; failures come back as "Runtime error: <detail>".
func (o *Orchestrator) HandleIncoming(ctx context.Context, in Incoming, text string) string {
	if o.deps.Auth != nil && !o.deps.Auth.HasAnyCredential() {
		return authRequiredMessage
	}
	provider, err := o.ensureProvider()
	if err != nil {
		return fmt.Sprintf("Runtime error: provider unavailable: %v", err)
	}

	safe := in.sanitize()
	laneKey := LaneKey(safe)

	if depth := o.queue.Depth(); depth >= o.cfg.MaxQueueDepth {
		return fmt.Sprintf("Runtime error: queue overloaded (depth %d >= max %d), try again shortly", depth, o.cfg.MaxQueueDepth)
	}

	started := time.Now()
	result, err := o.queue.Enqueue(ctx, laneKey, func(ctx context.Context) (any, error) {
		return o.runTurn(ctx, provider, safe, laneKey, text)
	})
	if err != nil {
		o.recordTurn(safe.Source, "error", started)
		if errors.Is(err, lane.ErrQueueOverflow) {
			return fmt.Sprintf("Runtime error: queue overloaded (max %d), try again shortly", o.cfg.MaxQueueDepth)
		}
		o.logger.Error("turn failed", "lane", laneKey, "error", err)
		return fmt.Sprintf("Runtime error: %v", err)
	}
	o.recordTurn(safe.Source, "success", started)
	reply, _ := result.(string)
	return reply
}

func (o *Orchestrator) recordTurn(source, status string, started time.Time) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordTurn(source, status, time.Since(started).Seconds())
	}
}

// runTurn executes one lane turn: record, search, compose, prompt with
// overflow recovery, store, snapshot.
func (o *Orchestrator) runTurn(ctx context.Context, provider agent.Provider, in Incoming, laneKey, text string) (string, error) {
	sess := o.sessions.acquire(in, provider)
	defer o.sessions.release(laneKey)

	mem := o.deps.Memory
	if _, err := mem.AppendRaw(memory.AppendInput{
		Actor:      memory.ActorUser,
		Content:    text,
		Source:     in.Source,
		SessionKey: laneKey,
	}); err != nil {
		o.logger.Warn("record user turn failed", "error", err)
	}

	matches, err := mem.Search(ctx, text, 5, memory.SearchOptions{
		SessionKey: laneKey,
		Mode:       memory.ModeSessionStrict,
	})
	if err != nil {
		o.logger.Warn("memory search failed", "error", err)
	}

	soul, _ := mem.ReadSoul()
	system := o.composer.compose(ctx, provider, promptInputs{
		incoming:   in,
		laneKey:    laneKey,
		queueDepth: o.queue.Depth(),
		objectives: o.deps.Objectives.List(""),
		taskList:   o.taskSnapshot(),
		matches:    matches,
		soul:       soul,
		working:    mem.WorkingContext(),
		skills:     o.skillContext(),
	})

	reply, err := o.promptWithRecovery(ctx, sess.agent, system, text)
	if err != nil {
		return "", err
	}

	if _, err := mem.AppendRaw(memory.AppendInput{
		Actor:      memory.ActorAssistant,
		Content:    reply,
		Source:     in.Source,
		SessionKey: laneKey,
	}); err != nil {
		o.logger.Warn("record assistant turn failed", "error", err)
	}
	if memory.IsImportant(reply) {
		if err := mem.JournalSoul(reply); err != nil {
			o.logger.Warn("soul journal append failed", "error", err)
		}
	}
	if _, err := mem.CompactIfNeeded(ctx); err != nil {
		o.logger.Warn("compaction failed", "error", err)
	}

	o.persistDashboard()
	return reply, nil
}

// promptWithRecovery drives the provider with the total attempt budget.
// Context-overflow errors trigger up to MaxOverflowCompactionAttempts
// recovery cycles: first memory compaction, then history truncation.
func (o *Orchestrator) promptWithRecovery(ctx context.Context, sess *agent.Session, system, text string) (string, error) {
	var lastErr error
	overflowCycles := 0
	for attempt := 0; attempt < o.cfg.MaxPromptRetries; attempt++ {
		tctx, cancel := context.WithTimeout(ctx, o.cfg.PromptTimeout)
		var reply string
		var err error
		if attempt == 0 {
			reply, err = sess.Prompt(tctx, system, text)
		} else {
			reply, err = sess.Complete(tctx, system)
		}
		cancel()
		if err == nil {
			return reply, nil
		}
		lastErr = err

		if agent.IsContextOverflow(err) && overflowCycles < o.cfg.MaxOverflowCompactionAttempts {
			overflowCycles++
			if overflowCycles == 1 {
				if _, cErr := o.deps.Memory.CompactIfNeeded(ctx); cErr != nil {
					o.logger.Warn("overflow compaction failed", "error", cErr)
				}
				o.recordOverflowRecovery("compact")
				o.logger.Info("context overflow, compacted memory", "attempt", attempt+1)
			} else {
				dropped := sess.TruncateHistory()
				o.recordOverflowRecovery("truncate")
				o.logger.Info("context overflow, truncated history", "dropped", dropped, "attempt", attempt+1)
			}
			continue
		}
		o.logger.Warn("prompt attempt failed", "attempt", attempt+1, "error", err)
	}
	return "", fmt.Errorf("prompt failed after %d attempts: %w", o.cfg.MaxPromptRetries, lastErr)
}

func (o *Orchestrator) recordOverflowRecovery(kind string) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordOverflowRecovery(kind)
	}
}

func (o *Orchestrator) taskSnapshot() []tasks.Task {
	if o.deps.Tasks == nil {
		return nil
	}
	return o.deps.Tasks.List(false)
}

func (o *Orchestrator) skillContext() string {
	if o.deps.Skills == nil {
		return ""
	}
	return o.deps.Skills.PromptContext()
}

// ListConversationSessions returns the live lanes, most recent first.
func (o *Orchestrator) ListConversationSessions() []SessionInfo {
	return o.sessions.list()
}

// CreateConversationSession opens a lane without running a turn, so a
// channel can pre-provision it.
func (o *Orchestrator) CreateConversationSession(in Incoming) (SessionInfo, error) {
	provider, err := o.ensureProvider()
	if err != nil {
		return SessionInfo{}, err
	}
	safe := in.sanitize()
	key := LaneKey(safe)
	o.sessions.acquire(safe, provider)
	o.sessions.release(key)
	for _, info := range o.sessions.list() {
		if info.LaneKey == key {
			return info, nil
		}
	}
	return SessionInfo{}, fmt.Errorf("lane %s vanished after create", key)
}

// ArchiveConversationSession drops a lane and its persisted history.
func (o *Orchestrator) ArchiveConversationSession(laneKey string) error {
	return o.sessions.archive(laneKey)
}

// SetChannelHealth records a channel adapter's liveness for the dashboard.
func (o *Orchestrator) SetChannelHealth(channel string, healthy bool) {
	o.channelMu.Lock()
	o.channels[channel] = healthy
	o.channelMu.Unlock()
	o.emit("channel.health", map[string]any{"channel": channel, "healthy": healthy})
}

// Shutdown stops the owned subsystems in dependency order and persists a
// final dashboard snapshot.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.persistDashboard()
	if o.deps.Tasks != nil {
		o.deps.Tasks.Shutdown(ctx)
	}
	if o.deps.Browser != nil {
		o.deps.Browser.Shutdown()
	}
	if o.deps.Memory != nil {
		o.deps.Memory.Shutdown()
	}
	if o.deps.Bus != nil {
		o.deps.Bus.Flush()
	}
	o.logger.Info("runtime stopped")
}

package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/nxclaw/nxclaw/internal/fsutil"
	"github.com/nxclaw/nxclaw/internal/observability"
	"github.com/nxclaw/nxclaw/internal/workspace"
)

// Config configures the task manager.
type Config struct {
	// MaxConcurrent is the child-process concurrency cap. Defaults to 3.
	MaxConcurrent int

	// MaxFinishedTasks bounds retained terminal tasks. Defaults to 200.
	MaxFinishedTasks int

	// TailLines bounds the in-memory output tail per task. Defaults to 200.
	TailLines int

	// PersistDebounce coalesces state writes. Defaults to 400ms.
	PersistDebounce time.Duration

	// FailedRecentWindow is the lookback for the failedRecent health
	// counter. Defaults to 10 minutes.
	FailedRecentWindow time.Duration

	// Logger for manager events.
	Logger *slog.Logger

	// Emit publishes task events to the shared bus; optional.
	Emit func(eventType string, payload map[string]any)

	// Metrics records terminal task outcomes; optional.
	Metrics *observability.Metrics
}

type queueItem struct {
	taskID  string
	retryAt time.Time
}

// Manager owns the task list, the dispatch queue, and every child process.
// A single mutex mediates all mutation; process I/O and timers re-enter
// through it.
type Manager struct {
	cfg    Config
	paths  workspace.Paths
	logger *slog.Logger

	mu       sync.Mutex
	tasks    map[string]*Task
	queue    []queueItem
	procs    map[string]*process
	tails    map[string][]string
	waiters  map[string][]chan Task
	cronIDs  map[string]cron.EntryID
	wake     *time.Timer
	persistT *time.Timer
	closed   bool

	cron *cron.Cron

	// persistMu chains state writes so the JSON file is single-writer.
	persistMu sync.Mutex

	wg sync.WaitGroup
}

// NewManager loads persisted state and resumes interrupted work: schedules
// reinstall their timers, previously running or queued commands re-enter the
// queue.
func NewManager(paths workspace.Paths, cfg Config) (*Manager, error) {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.MaxFinishedTasks <= 0 {
		cfg.MaxFinishedTasks = 200
	}
	if cfg.TailLines <= 0 {
		cfg.TailLines = 200
	}
	if cfg.PersistDebounce <= 0 {
		cfg.PersistDebounce = 400 * time.Millisecond
	}
	if cfg.FailedRecentWindow <= 0 {
		cfg.FailedRecentWindow = 10 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "tasks")

	if err := paths.EnsureLayout(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:     cfg,
		paths:   paths,
		logger:  logger,
		tasks:   make(map[string]*Task),
		procs:   make(map[string]*process),
		tails:   make(map[string][]string),
		waiters: make(map[string][]chan Task),
		cronIDs: make(map[string]cron.EntryID),
		cron:    cron.New(),
	}
	m.loadState()
	m.cron.Start()

	m.mu.Lock()
	m.resumeLocked()
	m.dispatchLocked()
	m.mu.Unlock()
	return m, nil
}

func (m *Manager) emit(eventType string, payload map[string]any) {
	if m.cfg.Emit != nil {
		m.cfg.Emit(eventType, payload)
	}
}

// RunCommand creates and launches (or queues) a command task. With
// Background false it blocks until the task reaches a terminal status or ctx
// is done.
func (m *Manager) RunCommand(ctx context.Context, in RunInput) (Task, error) {
	in.Command = strings.TrimSpace(in.Command)
	if in.Command == "" {
		return Task{}, ErrMissingCommand
	}
	in.clampRetryPolicy()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Task{}, fmt.Errorf("task manager is shut down")
	}
	if in.DedupeRunning {
		if existing := m.findActiveLocked(in.Command, in.Cwd); existing != nil {
			snapshot := *existing
			m.mu.Unlock()
			return snapshot, nil
		}
	}

	now := time.Now()
	t := &Task{
		ID:           uuid.NewString(),
		Command:      in.Command,
		Cwd:          in.Cwd,
		ParentTaskID: in.ParentTaskID,
		Status:       StatusQueued,
		Background:   in.Background,
		TimeoutMs:    in.TimeoutMs,
		MaxRetries:   in.MaxRetries,
		RetryDelayMs: in.RetryDelayMs,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	t.LogPath = m.paths.TaskLogFile(t.ID)
	m.tasks[t.ID] = t
	m.queue = append(m.queue, queueItem{taskID: t.ID, retryAt: now})
	m.markDirtyLocked()
	m.emit("task.queued", map[string]any{"taskId": t.ID, "command": t.Command})

	var waitCh chan Task
	if !in.Background {
		waitCh = make(chan Task, 1)
		m.waiters[t.ID] = append(m.waiters[t.ID], waitCh)
	}
	if !in.ForceQueue {
		m.dispatchLocked()
	} else {
		m.scheduleWakeLocked()
	}
	snapshot := *t
	m.mu.Unlock()

	if waitCh == nil {
		return snapshot, nil
	}
	select {
	case final := <-waitCh:
		return final, nil
	case <-ctx.Done():
		return snapshot, ctx.Err()
	}
}

// EnqueueCommand queues a command without consuming a free slot immediately.
func (m *Manager) EnqueueCommand(ctx context.Context, in RunInput) (Task, error) {
	in.Background = true
	in.ForceQueue = true
	return m.RunCommand(ctx, in)
}

// ScheduleCommand installs a repeating timer that launches a child command
// per tick. The schedule task itself stays at StatusRunning while installed.
func (m *Manager) ScheduleCommand(command, cwd string, intervalMs int64) (Task, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return Task{}, ErrMissingCommand
	}
	if intervalMs < 1000 {
		return Task{}, ErrBadInterval
	}

	now := time.Now()
	t := &Task{
		ID:         uuid.NewString(),
		Command:    command,
		Cwd:        cwd,
		Status:     StatusRunning,
		Background: true,
		Schedule:   true,
		IntervalMs: intervalMs,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Task{}, fmt.Errorf("task manager is shut down")
	}
	m.tasks[t.ID] = t
	m.installScheduleLocked(t)
	m.markDirtyLocked()
	snapshot := *t
	m.mu.Unlock()

	m.emit("task.scheduled", map[string]any{"taskId": t.ID, "intervalMs": intervalMs})
	return snapshot, nil
}

// installScheduleLocked registers the cron entry for a schedule task.
func (m *Manager) installScheduleLocked(t *Task) {
	id := t.ID
	command, cwd := t.Command, t.Cwd
	entryID := m.cron.Schedule(cron.Every(time.Duration(t.IntervalMs)*time.Millisecond), cron.FuncJob(func() {
		m.mu.Lock()
		parent, ok := m.tasks[id]
		alive := ok && parent.Schedule && parent.Status == StatusRunning
		m.mu.Unlock()
		if !alive {
			return
		}
		if _, err := m.RunCommand(context.Background(), RunInput{
			Command:      command,
			Cwd:          cwd,
			ParentTaskID: id,
			Background:   true,
		}); err != nil {
			m.logger.Warn("schedule tick failed", "taskId", id, "error", err)
		}
	}))
	m.cronIDs[id] = entryID
}

// Stop cancels a task: schedules lose their timer, queued tasks leave the
// queue, running tasks receive a terminate signal. Returns false when the
// task does not exist.
func (m *Manager) Stop(taskID string) bool {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return false
	}

	if entryID, ok := m.cronIDs[taskID]; ok {
		m.cron.Remove(entryID)
		delete(m.cronIDs, taskID)
	}
	for i, item := range m.queue {
		if item.taskID == taskID {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			break
		}
	}

	now := time.Now()
	if proc, running := m.procs[taskID]; running {
		t.Status = StatusStopped
		t.UpdatedAt = now
		m.markDirtyLocked()
		m.mu.Unlock()
		proc.terminate()
		m.emit("task.stop", map[string]any{"taskId": taskID})
		return true
	}

	if !t.Status.IsTerminal() {
		t.Status = StatusCancelled
		t.UpdatedAt = now
		t.EndedAt = &now
		m.notifyWaitersLocked(t)
		m.markDirtyLocked()
		m.recordOutcome(StatusCancelled)
	}
	m.mu.Unlock()
	m.emit("task.stop", map[string]any{"taskId": taskID})
	return true
}

// Tail returns up to lines of recent output, preferring the log file and
// falling back to the in-memory tail.
func (m *Manager) Tail(taskID string, lines int) []string {
	if lines < 1 {
		lines = 1
	}
	if lines > 500 {
		lines = 500
	}
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	var memTail []string
	if ok {
		memTail = append(memTail, m.tails[taskID]...)
	}
	var logPath string
	if ok {
		logPath = t.LogPath
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if logPath != "" {
		if fileLines, err := fsutil.TailLines(logPath, lines); err == nil && len(fileLines) > 0 {
			return fileLines
		}
	}
	if len(memTail) > lines {
		memTail = memTail[len(memTail)-lines:]
	}
	return memTail
}

// List snapshots tasks sorted by updatedAt descending. Terminal tasks are
// excluded unless includeFinished.
func (m *Manager) List(includeFinished bool) []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if !includeFinished && t.Status.IsTerminal() {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// Get returns a task snapshot by id.
func (m *Manager) Get(taskID string) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// GetHealth reports summary counters.
func (m *Manager) GetHealth() Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := Health{
		Total:         len(m.tasks),
		QueueDepth:    len(m.queue),
		MaxConcurrent: m.cfg.MaxConcurrent,
	}
	cutoff := time.Now().Add(-m.cfg.FailedRecentWindow)
	for _, t := range m.tasks {
		switch {
		case t.Schedule && t.Status == StatusRunning:
			h.Schedules++
		case t.Status == StatusRunning:
			h.Running++
		}
		if t.Status == StatusFailed && t.EndedAt != nil && t.EndedAt.After(cutoff) {
			h.FailedRecent++
		}
	}
	return h
}

// GetQueueSnapshot previews up to limit queued items in dispatch order.
func (m *Manager) GetQueueSnapshot(limit int) []QueuedPreview {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]queueItem, len(m.queue))
	copy(items, m.queue)
	sort.Slice(items, func(i, j int) bool { return items[i].retryAt.Before(items[j].retryAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([]QueuedPreview, 0, len(items))
	for _, item := range items {
		t, ok := m.tasks[item.taskID]
		if !ok {
			continue
		}
		out = append(out, QueuedPreview{
			TaskID:  item.taskID,
			Command: t.Command,
			RetryAt: item.retryAt,
			Attempt: t.Attempts + 1,
		})
	}
	return out
}

// findActiveLocked returns a running or queued command task with the same
// command and cwd, if any.
func (m *Manager) findActiveLocked(command, cwd string) *Task {
	for _, t := range m.tasks {
		if t.Schedule || t.Status.IsTerminal() {
			continue
		}
		if t.Command == command && t.Cwd == cwd {
			return t
		}
	}
	return nil
}

// dispatchLocked fills free slots with the earliest due queue items, then
// arms a single wakeup for the nearest future retryAt.
func (m *Manager) dispatchLocked() {
	if m.closed {
		return
	}
	now := time.Now()
	for m.runningCountLocked() < m.cfg.MaxConcurrent {
		best := -1
		for i, item := range m.queue {
			if item.retryAt.After(now) {
				continue
			}
			if best < 0 || item.retryAt.Before(m.queue[best].retryAt) {
				best = i
			}
		}
		if best < 0 {
			break
		}
		item := m.queue[best]
		m.queue = append(m.queue[:best], m.queue[best+1:]...)
		t, ok := m.tasks[item.taskID]
		if !ok || t.Status != StatusQueued {
			continue
		}
		m.launchLocked(t)
	}
	m.scheduleWakeLocked()
}

func (m *Manager) runningCountLocked() int {
	return len(m.procs)
}

// scheduleWakeLocked arms one timer for the minimum future retryAt.
func (m *Manager) scheduleWakeLocked() {
	if m.wake != nil {
		m.wake.Stop()
		m.wake = nil
	}
	if m.closed || len(m.queue) == 0 {
		return
	}
	now := time.Now()
	var next time.Time
	for _, item := range m.queue {
		if next.IsZero() || item.retryAt.Before(next) {
			next = item.retryAt
		}
	}
	delay := next.Sub(now)
	if delay < 0 {
		delay = 0
	}
	m.wake = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.wake = nil
		m.dispatchLocked()
		m.mu.Unlock()
	})
}

// notifyWaitersLocked resolves blocked RunCommand callers with the final
// snapshot.
func (m *Manager) notifyWaitersLocked(t *Task) {
	for _, ch := range m.waiters[t.ID] {
		ch <- *t
	}
	delete(m.waiters, t.ID)
}

// pruneLocked drops the oldest terminal tasks beyond MaxFinishedTasks.
// Schedules and non-terminal tasks never prune.
func (m *Manager) pruneLocked() {
	var finished []*Task
	for _, t := range m.tasks {
		if !t.Schedule && t.Status.IsTerminal() {
			finished = append(finished, t)
		}
	}
	if len(finished) <= m.cfg.MaxFinishedTasks {
		return
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].UpdatedAt.After(finished[j].UpdatedAt) })
	for _, t := range finished[m.cfg.MaxFinishedTasks:] {
		delete(m.tasks, t.ID)
		delete(m.tails, t.ID)
	}
}

// Shutdown stops dispatch, removes timers, terminates children, and writes
// final state. No new work is accepted afterwards.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.wake != nil {
		m.wake.Stop()
		m.wake = nil
	}
	if m.persistT != nil {
		m.persistT.Stop()
		m.persistT = nil
	}
	var procs []*process
	for _, p := range m.procs {
		procs = append(procs, p)
	}
	m.mu.Unlock()

	stopCtx := m.cron.Stop()
	for _, p := range procs {
		p.terminate()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timed out waiting for children")
	}
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}

	m.persistNow()
	m.logger.Info("task manager stopped")
}

package tasks

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nxclaw/nxclaw/internal/fsutil"
	"github.com/nxclaw/nxclaw/internal/observability"
	"github.com/nxclaw/nxclaw/internal/workspace"
)

// eventRecorder captures bus emissions for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	Type    string
	Payload map[string]any
}

func (r *eventRecorder) emit(eventType string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Type: eventType, Payload: payload})
}

func (r *eventRecorder) ofType(eventType string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *eventRecorder) {
	t.Helper()
	rec := &eventRecorder{}
	cfg.Emit = rec.emit
	if cfg.PersistDebounce == 0 {
		cfg.PersistDebounce = 20 * time.Millisecond
	}
	m, err := NewManager(workspace.NewPaths(t.TempDir()), cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})
	return m, rec
}

func waitTerminal(t *testing.T, m *Manager, taskID string, timeout time.Duration) Task {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if task, ok := m.Get(taskID); ok && task.Status.IsTerminal() {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	task, _ := m.Get(taskID)
	t.Fatalf("task %s did not finish in %s (status %s)", taskID, timeout, task.Status)
	return Task{}
}

func TestRunCommandForeground(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	task, err := m.RunCommand(context.Background(), RunInput{Command: "echo hello"})
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if task.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", task.Status)
	}
	if task.ExitCode == nil || *task.ExitCode != 0 {
		t.Errorf("exit code = %v", task.ExitCode)
	}
	tail := m.Tail(task.ID, 10)
	if len(tail) != 1 || tail[0] != "hello" {
		t.Errorf("tail = %v", tail)
	}
}

func TestRunCommandMissing(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	if _, err := m.RunCommand(context.Background(), RunInput{Command: "  "}); err != ErrMissingCommand {
		t.Errorf("err = %v, want ErrMissingCommand", err)
	}
}

func TestRunCommandRetries(t *testing.T) {
	m, rec := newTestManager(t, Config{})
	task, err := m.RunCommand(context.Background(), RunInput{
		Command:      "exit 7",
		MaxRetries:   2,
		RetryDelayMs: 500,
		Background:   true,
	})
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}

	final := waitTerminal(t, m, task.ID, 10*time.Second)
	if final.Status != StatusFailed {
		t.Errorf("status = %s, want failed", final.Status)
	}
	if final.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", final.Attempts)
	}
	if final.ExitCode == nil || *final.ExitCode != 7 {
		t.Errorf("exit code = %v, want 7", final.ExitCode)
	}

	starts := rec.ofType("task.start")
	if len(starts) != 3 {
		t.Errorf("start events = %d, want 3", len(starts))
	}
	retries := rec.ofType("task.retry")
	if len(retries) != 2 {
		t.Fatalf("retry events = %d, want 2", len(retries))
	}
	first := retries[0].Payload["retryAt"].(time.Time)
	second := retries[1].Payload["retryAt"].(time.Time)
	if second.Sub(first) < 500*time.Millisecond {
		t.Errorf("retry spacing = %s, want >= 500ms", second.Sub(first))
	}
}

func TestStartBeforeOutputBeforeEnd(t *testing.T) {
	m, rec := newTestManager(t, Config{})
	task, err := m.RunCommand(context.Background(), RunInput{Command: "echo one; echo two"})
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	_ = waitTerminal(t, m, task.ID, 5*time.Second)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	seen := map[string]int{}
	for i, e := range rec.events {
		if _, ok := seen[e.Type]; !ok {
			seen[e.Type] = i
		}
	}
	if !(seen["task.start"] < seen["task.output"] && seen["task.output"] < seen["task.end"]) {
		t.Errorf("event order start=%d output=%d end=%d", seen["task.start"], seen["task.output"], seen["task.end"])
	}
}

func TestDedupeRunning(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	first, err := m.RunCommand(context.Background(), RunInput{
		Command:       "sleep 2",
		Background:    true,
		DedupeRunning: true,
	})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := m.RunCommand(context.Background(), RunInput{
		Command:       "sleep 2",
		Background:    true,
		DedupeRunning: true,
	})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("dedupe returned a new task: %s vs %s", first.ID, second.ID)
	}
	if !m.Stop(first.ID) {
		t.Error("stop returned false")
	}
}

func TestStopQueuedTask(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxConcurrent: 1})
	blocker, err := m.RunCommand(context.Background(), RunInput{Command: "sleep 5", Background: true})
	if err != nil {
		t.Fatal(err)
	}
	queued, err := m.EnqueueCommand(context.Background(), RunInput{Command: "echo never"})
	if err != nil {
		t.Fatal(err)
	}

	if !m.Stop(queued.ID) {
		t.Fatal("stop queued returned false")
	}
	task, _ := m.Get(queued.ID)
	if task.Status != StatusCancelled {
		t.Errorf("queued task status = %s, want cancelled", task.Status)
	}
	if m.Stop("no-such-task") {
		t.Error("stop of unknown id returned true")
	}

	if !m.Stop(blocker.ID) {
		t.Fatal("stop running returned false")
	}
	final := waitTerminal(t, m, blocker.ID, 8*time.Second)
	if final.Status != StatusStopped {
		t.Errorf("running task status = %s, want stopped", final.Status)
	}
}

func TestTimeoutStopsTask(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	task, err := m.RunCommand(context.Background(), RunInput{
		Command:    "sleep 10",
		TimeoutMs:  100,
		Background: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	final := waitTerminal(t, m, task.ID, 8*time.Second)
	if final.Status != StatusStopped {
		t.Errorf("status = %s, want stopped", final.Status)
	}
	if !strings.Contains(final.Error, "timeout") {
		t.Errorf("error = %q, want timeout note", final.Error)
	}
}

func TestScheduleValidation(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	if _, err := m.ScheduleCommand("echo tick", "", 500); err != ErrBadInterval {
		t.Errorf("err = %v, want ErrBadInterval", err)
	}
	sched, err := m.ScheduleCommand("echo tick", "", 60_000)
	if err != nil {
		t.Fatalf("ScheduleCommand: %v", err)
	}
	if sched.Status != StatusRunning || !sched.Schedule {
		t.Errorf("schedule task = %+v", sched)
	}
	if h := m.GetHealth(); h.Schedules != 1 {
		t.Errorf("schedules = %d, want 1", h.Schedules)
	}
	if !m.Stop(sched.ID) {
		t.Error("stop schedule returned false")
	}
	task, _ := m.Get(sched.ID)
	if task.Status != StatusCancelled {
		t.Errorf("stopped schedule status = %s", task.Status)
	}
}

func TestQueueSnapshotAndHealth(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxConcurrent: 1})
	if _, err := m.RunCommand(context.Background(), RunInput{Command: "sleep 3", Background: true}); err != nil {
		t.Fatal(err)
	}
	q1, err := m.EnqueueCommand(context.Background(), RunInput{Command: "echo q1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.EnqueueCommand(context.Background(), RunInput{Command: "echo q2"}); err != nil {
		t.Fatal(err)
	}

	snap := m.GetQueueSnapshot(1)
	if len(snap) != 1 {
		t.Fatalf("snapshot len = %d, want 1", len(snap))
	}
	if snap[0].TaskID != q1.ID {
		t.Errorf("snapshot head = %s, want %s", snap[0].TaskID, q1.ID)
	}
	h := m.GetHealth()
	if h.Running != 1 || h.QueueDepth != 2 {
		t.Errorf("health = %+v", h)
	}
}

func TestRestartReenqueuesInterrupted(t *testing.T) {
	home := t.TempDir()
	paths := workspace.NewPaths(home)
	if err := paths.EnsureLayout(); err != nil {
		t.Fatal(err)
	}
	// State left behind by a crashed run: one command mid-flight, one
	// installed schedule.
	now := time.Now()
	state := taskState{Tasks: []Task{
		{ID: "cmd-1", Command: "echo resumed", Status: StatusRunning, Background: true, CreatedAt: now, UpdatedAt: now},
		{ID: "sched-1", Command: "echo tick", Status: StatusRunning, Schedule: true, IntervalMs: 60_000, CreatedAt: now, UpdatedAt: now},
	}}
	if err := fsutil.WriteJSONAtomic(paths.TasksFile(), state); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(paths, Config{MaxConcurrent: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	}()

	final := waitTerminal(t, m, "cmd-1", 5*time.Second)
	if final.Status != StatusCompleted {
		t.Errorf("resumed task status = %s, want completed", final.Status)
	}
	sched, ok := m.Get("sched-1")
	if !ok || sched.Status != StatusRunning {
		t.Errorf("schedule not reinstalled: %+v", sched)
	}
	if h := m.GetHealth(); h.Schedules != 1 {
		t.Errorf("schedules = %d, want 1", h.Schedules)
	}
}

func TestListSortedAndFiltered(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	done, err := m.RunCommand(context.Background(), RunInput{Command: "echo done"})
	if err != nil {
		t.Fatal(err)
	}
	running, err := m.RunCommand(context.Background(), RunInput{Command: "sleep 2", Background: true})
	if err != nil {
		t.Fatal(err)
	}

	active := m.List(false)
	for _, task := range active {
		if task.ID == done.ID {
			t.Error("finished task in active list")
		}
	}
	all := m.List(true)
	if len(all) != 2 {
		t.Fatalf("all tasks = %d, want 2", len(all))
	}
	if !all[0].UpdatedAt.After(all[1].UpdatedAt) && !all[0].UpdatedAt.Equal(all[1].UpdatedAt) {
		t.Error("list not sorted by updatedAt desc")
	}
	_ = running
}

func TestScheduleTickChildLinksParent(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	sched, err := m.ScheduleCommand("echo tick", "", 1000)
	if err != nil {
		t.Fatalf("ScheduleCommand: %v", err)
	}

	var child Task
	deadline := time.Now().Add(5 * time.Second)
	for child.ID == "" && time.Now().Before(deadline) {
		for _, task := range m.List(true) {
			if task.ParentTaskID == sched.ID {
				child = task
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	if child.ID == "" {
		t.Fatal("no tick child appeared within 5s")
	}
	if child.Schedule {
		t.Error("tick child must be a command task, not a schedule")
	}
	if child.Command != "echo tick" {
		t.Errorf("child command = %q", child.Command)
	}
	if !m.Stop(sched.ID) {
		t.Error("Stop(schedule) = false")
	}

	// The link survives a state write.
	m.persistNow()
	raw, err := os.ReadFile(m.paths.TasksFile())
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	if !strings.Contains(string(raw), `"parentTaskId":"`+sched.ID+`"`) {
		t.Error("persisted state lost the parent link")
	}
}

func TestTerminalOutcomeMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	m, _ := newTestManager(t, Config{Metrics: metrics})

	if _, err := m.RunCommand(context.Background(), RunInput{Command: "true"}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.RunCommand(context.Background(), RunInput{Command: "exit 3"}); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(metrics.TaskCounter.WithLabelValues("completed")); got != 1 {
		t.Errorf("completed count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.TaskCounter.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed count = %v, want 1", got)
	}
}

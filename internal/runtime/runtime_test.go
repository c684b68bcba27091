package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nxclaw/nxclaw/internal/agent"
	"github.com/nxclaw/nxclaw/internal/memory"
	"github.com/nxclaw/nxclaw/internal/objectives"
	"github.com/nxclaw/nxclaw/internal/observability"
	"github.com/nxclaw/nxclaw/internal/workspace"
)

// stubProvider replays canned replies or errors, recording the inputs.
type stubProvider struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   int
	systems []string
	lens    []int
}

func (p *stubProvider) Name() string  { return "stub" }
func (p *stubProvider) Model() string { return "stub-1" }

func (p *stubProvider) Complete(_ context.Context, system string, history []agent.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	p.systems = append(p.systems, system)
	p.lens = append(p.lens, len(history))
	if i < len(p.errs) && p.errs[i] != nil {
		return "", p.errs[i]
	}
	if i < len(p.replies) {
		return p.replies[i], nil
	}
	return fmt.Sprintf("reply %d", i), nil
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newTestOrchestrator(t *testing.T, provider agent.Provider, cfg Config) (*Orchestrator, *memory.Store) {
	t.Helper()
	paths := workspace.NewPaths(t.TempDir())
	if err := paths.EnsureLayout(); err != nil {
		t.Fatal(err)
	}
	mem, err := memory.NewStore(paths, memory.Config{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mem.Shutdown)
	objStore, err := objectives.NewStore(paths.ObjectivesFile(), slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	o := New(Deps{
		Paths:      paths,
		Memory:     mem,
		Objectives: objStore,
		ProviderFactory: func() (agent.Provider, error) {
			return provider, nil
		},
	}, cfg)
	return o, mem
}

func TestLaneKeyDerivation(t *testing.T) {
	cases := []struct {
		in   Incoming
		want string
	}{
		{Incoming{Source: "cli", ChannelID: "main"}, "cli:main"},
		{Incoming{Source: "slack", ChannelID: "C42", SessionID: "u1"}, "slack:C42::session::u1"},
		{Incoming{Source: "slack", ChannelID: "a/b", SessionID: "x y"}, "slack:a_b::session::x_y"},
	}
	for _, tc := range cases {
		if got := LaneKey(tc.in); got != tc.want {
			t.Errorf("LaneKey(%+v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestHandleIncomingRecordsBothTurns(t *testing.T) {
	p := &stubProvider{replies: []string{"hello back"}}
	o, mem := newTestOrchestrator(t, p, Config{})
	in := Incoming{Source: "cli", ChannelID: "main"}

	reply := o.HandleIncoming(context.Background(), in, "hello there")
	if reply != "hello back" {
		t.Fatalf("reply = %q", reply)
	}

	recent := mem.GetRecent(10)
	if len(recent) != 2 {
		t.Fatalf("raw entries = %d", len(recent))
	}
	if recent[0].Actor != memory.ActorUser || recent[1].Actor != memory.ActorAssistant {
		t.Errorf("actors = %s/%s", recent[0].Actor, recent[1].Actor)
	}
	if recent[0].SessionKey != "cli:main" {
		t.Errorf("sessionKey = %q", recent[0].SessionKey)
	}

	sessions := o.ListConversationSessions()
	if len(sessions) != 1 || sessions[0].LaneKey != "cli:main" || sessions[0].Running {
		t.Errorf("sessions = %+v", sessions)
	}
	if sessions[0].MessageCount != 2 {
		t.Errorf("messageCount = %d", sessions[0].MessageCount)
	}
}

func TestHandleIncomingComposesSystemContext(t *testing.T) {
	p := &stubProvider{replies: []string{"ok"}}
	o, _ := newTestOrchestrator(t, p, Config{})
	if _, err := o.deps.Objectives.Add(objectives.AddInput{Title: "ship the importer", Priority: 2}); err != nil {
		t.Fatal(err)
	}

	o.HandleIncoming(context.Background(), Incoming{Source: "cli", ChannelID: "main"}, "what next?")

	if p.callCount() != 1 {
		t.Fatalf("calls = %d", p.callCount())
	}
	system := p.systems[0]
	for _, want := range []string{"source=cli", "lane=cli:main", "ship the importer", "nx_chrome_session_snapshot", "Rules:"} {
		if !strings.Contains(system, want) {
			t.Errorf("system context missing %q", want)
		}
	}
}

func TestHandleIncomingRuntimeErrorOnExhaustedRetries(t *testing.T) {
	boom := errors.New("connection reset")
	p := &stubProvider{errs: []error{boom, boom}}
	o, _ := newTestOrchestrator(t, p, Config{MaxPromptRetries: 2, PromptTimeout: time.Second})

	reply := o.HandleIncoming(context.Background(), Incoming{Source: "cli", ChannelID: "main"}, "hi")
	if !strings.HasPrefix(reply, "Runtime error:") {
		t.Fatalf("reply = %q", reply)
	}
	if !strings.Contains(reply, "connection reset") {
		t.Errorf("reply lost cause: %q", reply)
	}
	if p.callCount() != 2 {
		t.Errorf("calls = %d", p.callCount())
	}
}

func TestOverflowRecoveryTruncatesHistory(t *testing.T) {
	overflow := errors.New("maximum context length exceeded")
	p := &stubProvider{errs: []error{nil}}
	o, _ := newTestOrchestrator(t, p, Config{MaxPromptRetries: 3, PromptTimeout: time.Second})
	in := Incoming{Source: "cli", ChannelID: "main"}

	// Build up history first.
	for i := 0; i < 15; i++ {
		o.HandleIncoming(context.Background(), in, fmt.Sprintf("turn %d", i))
	}
	baseline := p.callCount()

	// Next turn overflows twice: cycle 1 compacts, cycle 2 truncates.
	p.mu.Lock()
	p.errs = make([]error, baseline+2)
	p.errs[baseline] = overflow
	p.errs[baseline+1] = overflow
	p.replies = nil
	p.mu.Unlock()

	reply := o.HandleIncoming(context.Background(), in, "the overflowing turn")
	if strings.HasPrefix(reply, "Runtime error:") {
		t.Fatalf("recovery failed: %q", reply)
	}
	if got := p.callCount() - baseline; got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	// The third attempt ran over a truncated history.
	p.mu.Lock()
	lastLen := p.lens[len(p.lens)-1]
	p.mu.Unlock()
	if lastLen > 11 {
		t.Errorf("history after truncation = %d messages", lastLen)
	}
}

func TestQueueDepthRejection(t *testing.T) {
	p := &stubProvider{}
	o, _ := newTestOrchestrator(t, p, Config{MaxQueueDepth: 1, PromptTimeout: time.Second})

	// Saturate the queue with a blocked turn.
	release := make(chan struct{})
	p.mu.Lock()
	p.replies = nil
	p.mu.Unlock()
	go func() {
		o.queue.Enqueue(context.Background(), "hold:lane", func(ctx context.Context) (any, error) {
			<-release
			return "held", nil
		})
	}()
	for o.QueueDepth() == 0 {
		time.Sleep(time.Millisecond)
	}

	reply := o.HandleIncoming(context.Background(), Incoming{Source: "cli", ChannelID: "main"}, "hi")
	close(release)
	if !strings.Contains(reply, "queue overloaded") {
		t.Errorf("reply = %q", reply)
	}
}

func TestArchiveConversationSession(t *testing.T) {
	p := &stubProvider{}
	o, _ := newTestOrchestrator(t, p, Config{})
	in := Incoming{Source: "cli", ChannelID: "main"}
	o.HandleIncoming(context.Background(), in, "hello")

	if err := o.ArchiveConversationSession("cli:main"); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if got := o.ListConversationSessions(); len(got) != 0 {
		t.Errorf("sessions after archive = %+v", got)
	}
	if err := o.ArchiveConversationSession("cli:main"); err == nil {
		t.Error("second archive should fail")
	}
}

func TestCreateConversationSession(t *testing.T) {
	p := &stubProvider{}
	o, _ := newTestOrchestrator(t, p, Config{})

	info, err := o.CreateConversationSession(Incoming{Source: "web", ChannelID: "dash"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if info.LaneKey != "web:dash" || info.Running {
		t.Errorf("info = %+v", info)
	}
}

func TestGetStateAggregates(t *testing.T) {
	p := &stubProvider{}
	o, _ := newTestOrchestrator(t, p, Config{})
	o.SetChannelHealth("slack", true)
	o.AutonomousState = func() map[string]any { return map[string]any{"enabled": false} }
	o.HandleIncoming(context.Background(), Incoming{Source: "cli", ChannelID: "main"}, "hi")

	st := o.GetState(false)
	if len(st.Sessions) != 1 || st.Channels["slack"] != true {
		t.Errorf("state = %+v", st)
	}
	if st.Memory.RawEntries != 2 {
		t.Errorf("memory stats = %+v", st.Memory)
	}
	if st.Autonomous == nil {
		t.Error("autonomous snapshot missing")
	}
}

func TestSessionRegistryEviction(t *testing.T) {
	paths := workspace.NewPaths(t.TempDir())
	if err := paths.EnsureLayout(); err != nil {
		t.Fatal(err)
	}
	reg := newSessionRegistry(paths, 2, time.Hour, slog.Default())
	p := &stubProvider{}

	reg.acquire(Incoming{Source: "cli", ChannelID: "a"}, p)
	reg.release("cli:a")
	time.Sleep(2 * time.Millisecond)
	reg.acquire(Incoming{Source: "cli", ChannelID: "b"}, p)
	reg.release("cli:b")
	time.Sleep(2 * time.Millisecond)

	// Third lane evicts the least recently used (cli:a).
	reg.acquire(Incoming{Source: "cli", ChannelID: "c"}, p)
	reg.release("cli:c")

	keys := map[string]bool{}
	for _, info := range reg.list() {
		keys[info.LaneKey] = true
	}
	if keys["cli:a"] || !keys["cli:b"] || !keys["cli:c"] {
		t.Errorf("lanes = %v", keys)
	}
}

func TestSessionRegistryNeverEvictsRunning(t *testing.T) {
	paths := workspace.NewPaths(t.TempDir())
	if err := paths.EnsureLayout(); err != nil {
		t.Fatal(err)
	}
	reg := newSessionRegistry(paths, 1, time.Hour, slog.Default())
	p := &stubProvider{}

	reg.acquire(Incoming{Source: "cli", ChannelID: "busy"}, p) // stays running

	reg.acquire(Incoming{Source: "cli", ChannelID: "next"}, p)
	reg.release("cli:next")

	keys := map[string]bool{}
	for _, info := range reg.list() {
		keys[info.LaneKey] = true
	}
	if !keys["cli:busy"] {
		t.Error("running lane was evicted")
	}
}

func TestTurnMetricsRecorded(t *testing.T) {
	p := &stubProvider{replies: []string{"ok"}}
	o, _ := newTestOrchestrator(t, p, Config{})
	metrics := observability.NewMetrics()
	o.deps.Metrics = metrics

	o.HandleIncoming(context.Background(), Incoming{Source: "cli", ChannelID: "main"}, "hi")
	if got := testutil.ToFloat64(metrics.TurnCounter.WithLabelValues("cli", "success")); got != 1 {
		t.Errorf("success turns = %v, want 1", got)
	}

	p.mu.Lock()
	p.replies = nil
	p.errs = []error{errors.New("boom"), errors.New("boom")}
	p.calls = 0
	p.mu.Unlock()
	o2, _ := newTestOrchestrator(t, p, Config{MaxPromptRetries: 2, PromptTimeout: time.Second})
	o2.deps.Metrics = metrics

	reply := o2.HandleIncoming(context.Background(), Incoming{Source: "cli", ChannelID: "main"}, "hi")
	if !strings.HasPrefix(reply, "Runtime error:") {
		t.Fatalf("reply = %q", reply)
	}
	if got := testutil.ToFloat64(metrics.TurnCounter.WithLabelValues("cli", "error")); got != 1 {
		t.Errorf("error turns = %v, want 1", got)
	}
}

func TestOverflowRecoveryMetrics(t *testing.T) {
	overflow := errors.New("maximum context length exceeded")
	p := &stubProvider{errs: []error{overflow, overflow, nil}}
	o, _ := newTestOrchestrator(t, p, Config{MaxPromptRetries: 3, PromptTimeout: time.Second})
	metrics := observability.NewMetrics()
	o.deps.Metrics = metrics

	reply := o.HandleIncoming(context.Background(), Incoming{Source: "cli", ChannelID: "main"}, "hi")
	if strings.HasPrefix(reply, "Runtime error:") {
		t.Fatalf("recovery failed: %q", reply)
	}
	if got := testutil.ToFloat64(metrics.OverflowRecoveries.WithLabelValues("compact")); got != 1 {
		t.Errorf("compact recoveries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.OverflowRecoveries.WithLabelValues("truncate")); got != 1 {
		t.Errorf("truncate recoveries = %v, want 1", got)
	}
}

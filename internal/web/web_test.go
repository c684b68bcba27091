package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nxclaw/nxclaw/internal/agent"
	"github.com/nxclaw/nxclaw/internal/config"
	"github.com/nxclaw/nxclaw/internal/events"
	"github.com/nxclaw/nxclaw/internal/memory"
	"github.com/nxclaw/nxclaw/internal/objectives"
	"github.com/nxclaw/nxclaw/internal/observability"
	"github.com/nxclaw/nxclaw/internal/runtime"
	"github.com/nxclaw/nxclaw/internal/workspace"
)

type echoProvider struct{}

func (echoProvider) Name() string  { return "echo" }
func (echoProvider) Model() string { return "echo-1" }
func (echoProvider) Complete(_ context.Context, _ string, history []agent.Message) (string, error) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == agent.RoleUser {
			return "echo: " + history[i].Content, nil
		}
	}
	return "echo", nil
}

func newTestServer(t *testing.T, cfg Config) (*Server, *memory.Store) {
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
	bus := events.NewBus(events.Config{})
	t.Cleanup(bus.Close)
	orch := runtime.New(runtime.Deps{
		Paths:      paths,
		Bus:        bus,
		Memory:     mem,
		Objectives: objStore,
		ProviderFactory: func() (agent.Provider, error) {
			return echoProvider{}, nil
		},
	}, runtime.Config{})

	active := config.Default()
	s := NewServer(cfg, Deps{
		Runtime: orch,
		Memory:  mem,
		Bus:     bus,
		Metrics: observability.NewMetrics(),
		GetConfig: func() config.Config {
			return active
		},
		ApplyConfig: func(next config.Config) error {
			active = next
			return nil
		},
	})
	return s, mem
}

func doJSON(t *testing.T, s *Server, method, path, body string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.RemoteAddr = "127.0.0.1:50000"
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	decoded := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("bad JSON from %s %s: %v", method, path, err)
		}
	}
	return rec, decoded
}

func TestStateEndpoint(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	rec, body := doJSON(t, s, http.MethodGet, "/api/state", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, ok := body["queueDepth"]; !ok {
		t.Errorf("state body = %v", body)
	}
}

func TestTokenRequiredForRemoteCallers(t *testing.T) {
	s, _ := newTestServer(t, Config{Token: "s3cret"})

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.RemoteAddr = "203.0.113.7:4242"
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no-token status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["ok"] != false {
		t.Errorf("error envelope = %v", body)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.RemoteAddr = "203.0.113.7:4242"
	req.Header.Set("x-nxclaw-token", "s3cret")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("header-token status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/state?token=s3cret", nil)
	req.RemoteAddr = "203.0.113.7:4242"
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("query-token status = %d", rec.Code)
	}
}

func TestLoopbackSkipsToken(t *testing.T) {
	s, _ := newTestServer(t, Config{Token: "s3cret"})
	rec, _ := doJSON(t, s, http.MethodGet, "/api/state", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("loopback status = %d", rec.Code)
	}
}

func TestPromptEndpoint(t *testing.T) {
	s, mem := newTestServer(t, Config{})
	rec, body := doJSON(t, s, http.MethodPost, "/api/prompt", `{"text":"hello"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if body["reply"] != "echo: hello" {
		t.Errorf("reply = %v", body["reply"])
	}
	if got := mem.GetRecent(10); len(got) != 2 {
		t.Errorf("recorded turns = %d", len(got))
	}

	rec, _ = doJSON(t, s, http.MethodPost, "/api/prompt", `{}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty text status = %d", rec.Code)
	}
}

func TestSessionLifecycleEndpoints(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	rec, body := doJSON(t, s, http.MethodPost, "/api/sessions", `{"source":"web","channelId":"dash"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d", rec.Code)
	}
	session := body["session"].(map[string]any)
	if session["laneKey"] != "web:dash" {
		t.Errorf("laneKey = %v", session["laneKey"])
	}

	rec, body = doJSON(t, s, http.MethodGet, "/api/sessions", "", nil)
	if rec.Code != http.StatusOK || len(body["sessions"].([]any)) != 1 {
		t.Errorf("list = %v", body)
	}

	rec, _ = doJSON(t, s, http.MethodPost, "/api/sessions/archive", `{"laneKey":"web:dash"}`, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("archive status = %d", rec.Code)
	}
	rec, _ = doJSON(t, s, http.MethodPost, "/api/sessions/archive", `{"laneKey":"web:dash"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("double archive status = %d", rec.Code)
	}
}

func TestMemoryEndpoints(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	rec, _ := doJSON(t, s, http.MethodPost, "/api/memory/note", `{"title":"Deploy notes","content":"staging runs kubernetes 1.31"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("note status = %d body = %s", rec.Code, rec.Body.String())
	}

	rec, body := doJSON(t, s, http.MethodGet, "/api/memory/search?q=kubernetes", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d", rec.Code)
	}
	if len(body["results"].([]any)) == 0 {
		t.Error("search found nothing")
	}

	rec, _ = doJSON(t, s, http.MethodGet, "/api/memory/search", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing q status = %d", rec.Code)
	}

	rec, body = doJSON(t, s, http.MethodGet, "/api/memory/stats", "", nil)
	if rec.Code != http.StatusOK || body["stats"] == nil {
		t.Errorf("stats = %v", body)
	}

	rec, _ = doJSON(t, s, http.MethodPost, "/api/memory/soul", `{"content":"Prefers terse replies."}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("soul write status = %d", rec.Code)
	}
	rec, body = doJSON(t, s, http.MethodGet, "/api/memory/soul", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(body["soul"].(string), "terse replies") {
		t.Errorf("soul = %v", body["soul"])
	}
}

func TestSettingsMergePatch(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	rec, body := doJSON(t, s, http.MethodGet, "/api/settings", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	settings := body["settings"].(map[string]any)
	if settings["provider"] != "anthropic" {
		t.Errorf("default provider = %v", settings["provider"])
	}

	rec, body = doJSON(t, s, http.MethodPost, "/api/settings", `{"model":"claude-sonnet-4-5"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("post status = %d body = %s", rec.Code, rec.Body.String())
	}
	settings = body["settings"].(map[string]any)
	if settings["model"] != "claude-sonnet-4-5" {
		t.Errorf("patched model = %v", settings["model"])
	}
	// Untouched keys keep their values.
	if settings["provider"] != "anthropic" {
		t.Errorf("provider after patch = %v", settings["provider"])
	}
}

func TestEventsRecent(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	s.deps.Bus.Emit("test.event", map[string]any{"n": 1})

	rec, body := doJSON(t, s, http.MethodGet, "/api/events/recent", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	evs := body["events"].([]any)
	found := false
	for _, raw := range evs {
		if raw.(map[string]any)["type"] == "test.event" {
			found = true
		}
	}
	if !found {
		t.Errorf("events = %v", evs)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "127.0.0.1:50000"
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "nxclaw_queue_depth") {
		t.Error("queue depth gauge missing from scrape")
	}
}

func TestIndexServed(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	rec, _ := doJSON(t, s, http.MethodGet, "/", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "nxclaw") {
		t.Error("index body missing title")
	}
	rec, _ = doJSON(t, s, http.MethodGet, "/nope", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d", rec.Code)
	}
}

func TestMemoryCompactEndpointGating(t *testing.T) {
	s, mem := newTestServer(t, Config{})
	for _, c := range []string{"first note", "second note", "third note"} {
		if _, err := mem.AppendRaw(memory.AppendInput{Actor: memory.ActorUser, Content: c}); err != nil {
			t.Fatal(err)
		}
	}

	rec, body := doJSON(t, s, http.MethodPost, "/api/memory/compact", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["compacted"] != false || body["reason"] != "below compaction threshold" {
		t.Errorf("body = %v", body)
	}

	rec, body = doJSON(t, s, http.MethodPost, "/api/memory/compact", `{"force":true}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["compacted"] != false || body["reason"] != "nothing older than the keep-recent tail" {
		t.Errorf("forced body = %v", body)
	}
}

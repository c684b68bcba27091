package memory

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nxclaw/nxclaw/internal/workspace"
)

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	paths := workspace.NewPaths(t.TempDir())
	s, err := NewStore(paths, cfg)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(s.Shutdown)
	return s
}

func TestAppendRawDropsHealthPings(t *testing.T) {
	s := newTestStore(t, Config{})
	for _, content := range []string{"ping", "PONG", "HEARTBEAT_OK", "health check", "  "} {
		entry, err := s.AppendRaw(AppendInput{Actor: ActorUser, Content: content})
		if err != nil {
			t.Fatalf("AppendRaw(%q): %v", content, err)
		}
		if entry != nil {
			t.Errorf("AppendRaw(%q) recorded an entry", content)
		}
	}
	if got := len(s.GetRecent(0)); got != 0 {
		t.Errorf("raw log has %d entries, want 0", got)
	}
}

func TestAppendRawDedupesWithinWindow(t *testing.T) {
	s := newTestStore(t, Config{})
	first, err := s.AppendRaw(AppendInput{Actor: ActorUser, Content: "ship the release", Source: "cli"})
	if err != nil || first == nil {
		t.Fatalf("first append: entry=%v err=%v", first, err)
	}
	dup, err := s.AppendRaw(AppendInput{Actor: ActorUser, Content: "ship the release", Source: "cli"})
	if err != nil {
		t.Fatalf("dup append: %v", err)
	}
	if dup != nil {
		t.Error("duplicate within window was recorded")
	}
	// Different actor or source is not a duplicate.
	other, err := s.AppendRaw(AppendInput{Actor: ActorAssistant, Content: "ship the release", Source: "cli"})
	if err != nil || other == nil {
		t.Fatalf("different-actor append: entry=%v err=%v", other, err)
	}
	if got := len(s.GetRecent(0)); got != 2 {
		t.Errorf("raw log has %d entries, want 2", got)
	}
}

func TestAppendRawMirrorsMarkdown(t *testing.T) {
	s := newTestStore(t, Config{SessionMemoryEnabled: true})
	entry, err := s.AppendRaw(AppendInput{
		Actor:      ActorUser,
		Content:    "remember the demo is on friday",
		SessionKey: "cli:main",
	})
	if err != nil || entry == nil {
		t.Fatalf("append: entry=%v err=%v", entry, err)
	}

	daily, err := os.ReadFile(s.paths.DailyFile(entry.CreatedAt))
	if err != nil {
		t.Fatalf("daily file: %v", err)
	}
	if !strings.Contains(string(daily), "demo is on friday") {
		t.Error("daily mirror missing entry content")
	}
	session, err := os.ReadFile(s.paths.SessionFile("cli:main"))
	if err != nil {
		t.Fatalf("session file: %v", err)
	}
	if !strings.Contains(string(session), "demo is on friday") {
		t.Error("session mirror missing entry content")
	}
}

func TestAddNoteMirrorsLongTerm(t *testing.T) {
	s := newTestStore(t, Config{})
	note, err := s.AddNote(NoteInput{Title: "Deploy cadence", Content: "Releases ship on Tuesdays.", Tags: []string{"ops"}})
	if err != nil {
		t.Fatalf("AddNote: %v", err)
	}
	if note.ID == "" {
		t.Error("note has no ID")
	}
	data, err := os.ReadFile(s.paths.LongTermFile())
	if err != nil {
		t.Fatalf("MEMORY.md: %v", err)
	}
	if !strings.Contains(string(data), "## Deploy cadence") || !strings.Contains(string(data), "Tuesdays") {
		t.Errorf("MEMORY.md missing note block:\n%s", data)
	}

	if _, err := s.AddNote(NoteInput{}); err == nil {
		t.Error("empty note accepted")
	}
}

func TestWriteSoulReplaceJournalsPrior(t *testing.T) {
	s := newTestStore(t, Config{})
	if err := s.WriteSoul("I value directness.", true); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := s.WriteSoul("I value directness and patience.", true); err != nil {
		t.Fatalf("replace: %v", err)
	}
	soul, err := s.ReadSoul()
	if err != nil {
		t.Fatalf("ReadSoul: %v", err)
	}
	if !strings.Contains(soul, "patience") || strings.Count(soul, "directness") != 1 {
		t.Errorf("soul after replace:\n%s", soul)
	}

	files, err := os.ReadDir(s.paths.SoulJournalDir())
	if err != nil || len(files) == 0 {
		t.Fatalf("soul journal dir: files=%d err=%v", len(files), err)
	}
	journal, err := os.ReadFile(s.paths.SoulJournalFile(time.Now()))
	if err != nil {
		t.Fatalf("journal file: %v", err)
	}
	if !strings.Contains(string(journal), "I value directness.") {
		t.Error("journal missing prior soul text")
	}
}

func TestSearchSessionStrictScoping(t *testing.T) {
	s := newTestStore(t, Config{SessionMemoryEnabled: true})
	if _, err := s.AddNote(NoteInput{Title: "Infra", Content: "The staging cluster runs kubernetes."}); err != nil {
		t.Fatal(err)
	}
	appendFor := func(session, content string) {
		t.Helper()
		if _, err := s.AppendRaw(AppendInput{Actor: ActorUser, Content: content, SessionKey: session}); err != nil {
			t.Fatal(err)
		}
	}
	appendFor("alice", "my favorite color is teal")
	appendFor("bob", "my favorite color is crimson")

	ctx := context.Background()
	results, err := s.Search(ctx, "favorite color", 10, SearchOptions{SessionKey: "alice", Mode: ModeSessionStrict})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if strings.Contains(r.Chunk.Text, "crimson") {
			t.Error("strict search leaked another session's content")
		}
		if strings.Contains(r.Chunk.Text, "kubernetes") {
			t.Error("strict search leaked general knowledge")
		}
	}
	var sawTeal bool
	for _, r := range results {
		if strings.Contains(r.Chunk.Text, "teal") {
			sawTeal = true
		}
	}
	if !sawTeal {
		t.Error("strict search missed own session content")
	}

	global, err := s.Search(ctx, "staging cluster kubernetes", 10, SearchOptions{SessionKey: "alice", Mode: ModeGlobal})
	if err != nil {
		t.Fatalf("global search: %v", err)
	}
	var sawInfra bool
	for _, r := range global {
		if strings.Contains(r.Chunk.Text, "kubernetes") {
			sawInfra = true
		}
		if strings.Contains(r.Chunk.Text, "crimson") {
			t.Error("global search leaked another session's content")
		}
	}
	if !sawInfra {
		t.Error("global search missed general knowledge")
	}
}

// countingEmbedder wraps the local embedder and counts texts embedded.
type countingEmbedder struct {
	inner Embedder
	calls int
	texts int
}

func (c *countingEmbedder) Name() string { return "counting" }
func (c *countingEmbedder) Dims() int    { return c.inner.Dims() }
func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	c.texts += len(texts)
	return c.inner.Embed(ctx, texts)
}

func TestSyncKnowledgeIndexReusesCachedVectors(t *testing.T) {
	s := newTestStore(t, Config{
		Vector: VectorConfig{Enabled: true, Provider: "local", Dims: 64, CacheEnabled: true},
	})
	counter := &countingEmbedder{inner: s.embedder}
	s.embedder = counter

	if _, err := s.AddNote(NoteInput{Title: "Stable fact", Content: "The API listens on port 8800."}); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := s.SyncKnowledgeIndex(ctx); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if counter.texts == 0 {
		t.Fatal("first sync embedded nothing")
	}
	embedded := counter.texts

	s.MarkDirty()
	if err := s.SyncKnowledgeIndex(ctx); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if counter.texts != embedded {
		t.Errorf("unchanged content re-embedded: %d texts after, %d before", counter.texts, embedded)
	}

	if _, err := os.Stat(s.paths.EmbeddingCacheFile()); err != nil {
		t.Errorf("embedding cache not persisted: %v", err)
	}
	if _, err := os.Stat(s.paths.MemoryIndexFile()); err != nil {
		t.Errorf("memory index not persisted: %v", err)
	}
}

func TestCompactIfNeeded(t *testing.T) {
	s := newTestStore(t, Config{
		CompactThreshold: 5,
		CompactBatch:     3,
		KeepRecent:       2,
	})
	contents := []string{
		"set up the build",
		"important: never deploy on fridays",
		"reviewed the dashboard",
		"filed a bug about timeouts",
		"answered the support thread",
		"rotated the api key",
		"checked disk usage",
		"wrote the weekly summary",
	}
	for _, c := range contents {
		if _, err := s.AppendRaw(AppendInput{Actor: ActorUser, Content: c}); err != nil {
			t.Fatal(err)
		}
	}

	ran, err := s.CompactIfNeeded(context.Background())
	if err != nil {
		t.Fatalf("CompactIfNeeded: %v", err)
	}
	if !ran {
		t.Fatal("compaction did not run above threshold")
	}
	if got := len(s.GetRecent(0)); got != 5 {
		t.Errorf("raw entries after compaction = %d, want 5", got)
	}

	// Batch contained an importance-flagged entry; it must survive as its
	// own note alongside the summary note.
	stats := s.GetStats()
	if stats.Notes < 2 {
		t.Errorf("notes after compaction = %d, want >= 2", stats.Notes)
	}
	longTerm, err := os.ReadFile(s.paths.LongTermFile())
	if err != nil {
		t.Fatalf("MEMORY.md: %v", err)
	}
	if !strings.Contains(string(longTerm), "never deploy on fridays") {
		t.Error("importance-flagged entry not promoted to long-term memory")
	}
	if !strings.Contains(string(longTerm), "Compacted 3 entries") {
		t.Error("summary note missing from long-term memory")
	}

	mdFiles, err := os.ReadDir(s.paths.CompactMdDir())
	if err != nil || len(mdFiles) != 1 {
		t.Errorf("compact-md files = %d err=%v, want 1", len(mdFiles), err)
	}

	ran, err = s.CompactIfNeeded(context.Background())
	if err != nil {
		t.Fatalf("second CompactIfNeeded: %v", err)
	}
	if ran {
		t.Error("compaction ran below threshold")
	}
}

func TestWorkingContextBounded(t *testing.T) {
	s := newTestStore(t, Config{})
	for i := 0; i < 10; i++ {
		if _, err := s.AddNote(NoteInput{Title: "Note", Content: strings.Repeat("x", 10) + string(rune('a'+i))}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.WriteSoul("stay curious", false); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendRaw(AppendInput{Actor: ActorUser, Content: "today I planted tomatoes"}); err != nil {
		t.Fatal(err)
	}

	wc := s.WorkingContext()
	if !strings.Contains(wc, "Long-term memory") || !strings.Contains(wc, "Soul") || !strings.Contains(wc, "Recent activity") {
		t.Errorf("working context missing tiers:\n%s", wc)
	}
	if got := strings.Count(wc, "## Note"); got > workingMainLimit {
		t.Errorf("working context has %d long-term sections, cap is %d", got, workingMainLimit)
	}
	if !strings.Contains(wc, "tomatoes") {
		t.Error("working context missing today's activity")
	}
}

func TestStoreReloadsPersistedState(t *testing.T) {
	home := t.TempDir()
	paths := workspace.NewPaths(home)
	s, err := NewStore(paths, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendRaw(AppendInput{Actor: ActorUser, Content: "persist me"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddNote(NoteInput{Title: "Kept", Content: "still here"}); err != nil {
		t.Fatal(err)
	}
	s.Shutdown()

	s2, err := NewStore(paths, Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Shutdown()
	if got := len(s2.GetRecent(0)); got != 1 {
		t.Errorf("reloaded raw entries = %d, want 1", got)
	}
	if stats := s2.GetStats(); stats.Notes != 1 {
		t.Errorf("reloaded notes = %d, want 1", stats.Notes)
	}
}

func TestCompactNowBelowThreshold(t *testing.T) {
	s := newTestStore(t, Config{
		CompactThreshold: 100,
		CompactBatch:     10,
		KeepRecent:       2,
	})
	for _, c := range []string{
		"checked the backlog",
		"replied to the standup thread",
		"archived stale branches",
		"updated the changelog",
		"verified the backup job",
	} {
		if _, err := s.AppendRaw(AppendInput{Actor: ActorUser, Content: c}); err != nil {
			t.Fatal(err)
		}
	}

	ran, err := s.CompactIfNeeded(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ran {
		t.Fatal("threshold compaction ran below the threshold")
	}

	ran, err = s.CompactNow(context.Background())
	if err != nil {
		t.Fatalf("CompactNow: %v", err)
	}
	if !ran {
		t.Fatal("forced compaction did not run")
	}
	if got := len(s.GetRecent(0)); got != 2 {
		t.Errorf("raw entries after forced compaction = %d, want 2", got)
	}

	// Only the keep-recent tail is left; a second force is a no-op.
	ran, err = s.CompactNow(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ran {
		t.Error("forced compaction ran with nothing beyond the keep-recent tail")
	}
}

package runtime

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/nxclaw/nxclaw/internal/workspace"
)

func TestCoreContextPassThroughWhenSmall(t *testing.T) {
	paths := workspace.NewPaths(t.TempDir())
	if err := paths.EnsureLayout(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(paths.IdentityFile(), []byte("I am the test agent."), 0o600); err != nil {
		t.Fatal(err)
	}
	composer := newPromptComposer(paths, slog.Default())

	got := composer.coreContext(context.Background(), &stubProvider{})
	if !strings.Contains(got, "I am the test agent.") {
		t.Errorf("core context = %q", got)
	}
	if !strings.Contains(got, "nx_memory_search") {
		t.Error("tool list missing")
	}
}

func TestCoreContextCompressesAndCaches(t *testing.T) {
	paths := workspace.NewPaths(t.TempDir())
	if err := paths.EnsureLayout(); err != nil {
		t.Fatal(err)
	}
	big := strings.Repeat("All work and no play makes a dull agent. ", 400)
	if err := os.WriteFile(paths.IdentityFile(), []byte(big), 0o600); err != nil {
		t.Fatal(err)
	}
	composer := newPromptComposer(paths, slog.Default())
	p := &stubProvider{replies: []string{"condensed context"}}

	first := composer.coreContext(context.Background(), p)
	if !strings.Contains(first, "condensed context") {
		t.Errorf("compressed context = %q", first)
	}
	second := composer.coreContext(context.Background(), p)
	if second != first {
		t.Error("cache miss on identical inputs")
	}
	if p.callCount() != 1 {
		t.Errorf("summarize calls = %d", p.callCount())
	}
}

func TestCoreContextFallsBackToTruncation(t *testing.T) {
	paths := workspace.NewPaths(t.TempDir())
	if err := paths.EnsureLayout(); err != nil {
		t.Fatal(err)
	}
	big := strings.Repeat("word ", 4000)
	if err := os.WriteFile(paths.UserFile(), []byte(big), 0o600); err != nil {
		t.Fatal(err)
	}
	composer := newPromptComposer(paths, slog.Default())

	got := composer.coreContext(context.Background(), nil)
	if len(got) > coreCompressionThreshold {
		t.Errorf("fallback context = %d chars", len(got))
	}
}

func TestClampText(t *testing.T) {
	if got := clampText("short", 10); got != "short" {
		t.Errorf("clampText = %q", got)
	}
	got := clampText(strings.Repeat("a", 20), 5)
	if got != "aaaaa…" {
		t.Errorf("clampText = %q", got)
	}
}

package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSafeKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"telegram:123::session::abc", "telegram_123__session__abc"},
		{"simple-key_1.2", "simple-key_1.2"},
		{"", "default"},
		{"a/b\\c d", "a_b_c_d"},
	}
	for _, tt := range tests {
		if got := SafeKey(tt.in); got != tt.want {
			t.Errorf("SafeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPathsLayout(t *testing.T) {
	p := NewPaths("/tmp/nx-home")
	if p.ConfigFile() != "/tmp/nx-home/config.json" {
		t.Errorf("ConfigFile = %s", p.ConfigFile())
	}
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	if !strings.HasSuffix(p.DailyFile(day), "memory/2026-03-14.md") {
		t.Errorf("DailyFile = %s", p.DailyFile(day))
	}
	if !strings.HasSuffix(p.SessionFile("a:b"), "sessions/a_b.md") {
		t.Errorf("SessionFile = %s", p.SessionFile("a:b"))
	}
}

func TestEnsureLayoutAndBootstrap(t *testing.T) {
	p := NewPaths(filepath.Join(t.TempDir(), "home"))

	result, err := Bootstrap(p)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if len(result.Created) == 0 {
		t.Error("expected bootstrap to create files")
	}

	info, err := os.Stat(p.StateDir())
	if err != nil {
		t.Fatalf("state dir: %v", err)
	}
	if info.Mode().Perm() != 0o700 {
		t.Errorf("state dir mode = %v, want 0700", info.Mode().Perm())
	}

	// Second run skips everything it created before.
	again, err := Bootstrap(p)
	if err != nil {
		t.Fatalf("Bootstrap again: %v", err)
	}
	if len(again.Created) != 0 {
		t.Errorf("second bootstrap created %v", again.Created)
	}
	if len(again.Skipped) != len(result.Created) {
		t.Errorf("skipped %d, want %d", len(again.Skipped), len(result.Created))
	}
}

func TestLoadCoreContext(t *testing.T) {
	p := NewPaths(filepath.Join(t.TempDir(), "home"))
	if _, err := Bootstrap(p); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p.IdentityFile(), []byte("# IDENTITY\n- Name: Pip\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	core := LoadCoreContext(p)
	if !strings.Contains(core.Identity, "Pip") {
		t.Errorf("identity = %q", core.Identity)
	}
	sections := core.Sections()
	if len(sections) == 0 || sections[0].Label != "IDENTITY" {
		t.Errorf("sections = %+v", sections)
	}
}

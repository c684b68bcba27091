package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nxclaw/nxclaw/internal/workspace"
)

const sampleSkill = `---
name: release-notes
description: Draft release notes from the recent commit log.
emoji: "📝"
version: "1.0"
---

# Release notes

Collect merged changes since the last tag and group them by area.
`

func newTestManager(t *testing.T, cfg Config) (*Manager, workspace.Paths) {
	t.Helper()
	paths := workspace.NewPaths(t.TempDir())
	if err := paths.EnsureLayout(); err != nil {
		t.Fatal(err)
	}
	cfg.Enabled = true
	m, err := NewManager(paths, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return m, paths
}

func writeSkillDir(t *testing.T, root, name, content string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, SkillFilename), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestParseSkill(t *testing.T) {
	skill, err := ParseSkill([]byte(sampleSkill))
	if err != nil {
		t.Fatalf("ParseSkill: %v", err)
	}
	if skill.Name != "release-notes" || skill.Emoji != "📝" || skill.Version != "1.0" {
		t.Errorf("skill = %+v", skill)
	}
	if !strings.HasPrefix(skill.Content, "# Release notes") {
		t.Errorf("content = %q", skill.Content)
	}
}

func TestParseSkillRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"no frontmatter": "# just markdown",
		"unclosed":       "---\nname: x",
		"missing name":   "---\ndescription: d\n---\nbody",
		"uppercase name": "---\nname: BadName\ndescription: d\n---\nbody",
		"no description": "---\nname: ok-name\n---\nbody",
		"empty":          "",
		"space in name":  "---\nname: two words\ndescription: d\n---\nbody",
	}
	for label, input := range cases {
		if _, err := ParseSkill([]byte(input)); err == nil {
			t.Errorf("%s: expected parse error", label)
		}
	}
}

func TestInstallEnableDisableRemove(t *testing.T) {
	m, paths := newTestManager(t, Config{AutoEnableOnInstall: true})
	src := writeSkillDir(t, t.TempDir(), "pkg", sampleSkill)

	skill, err := m.Install(context.Background(), src)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if skill.Name != "release-notes" || !skill.Enabled {
		t.Errorf("installed = %+v", skill)
	}
	if _, err := os.Stat(filepath.Join(paths.SkillsDir(), "release-notes", SkillFilename)); err != nil {
		t.Errorf("skill file missing: %v", err)
	}

	list := m.List()
	if len(list) != 1 || list[0].Name != "release-notes" {
		t.Fatalf("list = %+v", list)
	}

	if err := m.Disable("release-notes"); err != nil {
		t.Fatal(err)
	}
	got, err := m.Get("release-notes")
	if err != nil {
		t.Fatal(err)
	}
	if got.Enabled {
		t.Error("skill still enabled after Disable")
	}

	if err := m.Enable("release-notes"); err != nil {
		t.Fatal(err)
	}
	if err := m.Remove("release-notes"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get("release-notes"); err == nil {
		t.Error("skill still present after Remove")
	}
}

func TestInstallRejectsOversizedPackage(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxInstallFiles: 2})
	src := writeSkillDir(t, t.TempDir(), "pkg", sampleSkill)
	for _, name := range []string{"a.md", "b.md"} {
		if err := os.WriteFile(filepath.Join(src, name), []byte("extra"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := m.Install(context.Background(), src); err == nil {
		t.Fatal("expected file-count error")
	}
}

func TestEnabledStatePersistsAcrossReload(t *testing.T) {
	m, paths := newTestManager(t, Config{AutoEnableOnInstall: true})
	src := writeSkillDir(t, t.TempDir(), "pkg", sampleSkill)
	if _, err := m.Install(context.Background(), src); err != nil {
		t.Fatal(err)
	}

	reloaded, err := NewManager(paths, Config{Enabled: true})
	if err != nil {
		t.Fatal(err)
	}
	skill, err := reloaded.Get("release-notes")
	if err != nil {
		t.Fatal(err)
	}
	if !skill.Enabled {
		t.Error("enabled flag lost across reload")
	}
}

func TestCatalogIncludesCodexDir(t *testing.T) {
	codexDir := t.TempDir()
	writeSkillDir(t, codexDir, "outside", `---
name: outside-skill
description: Lives in the codex directory.
---
body
`)
	m, _ := newTestManager(t, Config{CodexSkillsDir: codexDir})

	catalog := m.Catalog()
	if len(catalog) != 1 || catalog[0].Name != "outside-skill" {
		t.Fatalf("catalog = %+v", catalog)
	}
	// Codex-dir skills are cataloged but not "installed".
	if got := m.List(); len(got) != 0 {
		t.Errorf("list = %+v", got)
	}
}

func TestBootstrapSeedsOnce(t *testing.T) {
	m, _ := newTestManager(t, Config{AutoEnableOnInstall: true})

	created, err := m.Bootstrap()
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if len(created) != len(starterSkills) {
		t.Errorf("created = %v", created)
	}
	again, err := m.Bootstrap()
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("second bootstrap created %v", again)
	}
}

func TestPromptContextBounded(t *testing.T) {
	m, paths := newTestManager(t, Config{AutoEnableOnInstall: true, MaxPromptSkills: 2, MaxPromptChars: 400})
	for _, name := range []string{"alpha-skill", "beta-skill", "gamma-skill"} {
		writeSkillDir(t, paths.SkillsDir(), name, "---\nname: "+name+"\ndescription: Skill "+name+".\n---\nGuidance body for "+name+".\n")
		if err := m.Enable(name); err != nil {
			t.Fatal(err)
		}
	}

	ctxBlock := m.PromptContext()
	if ctxBlock == "" {
		t.Fatal("empty prompt context")
	}
	if len(ctxBlock) > 400 {
		t.Errorf("prompt context = %d chars", len(ctxBlock))
	}
	count := strings.Count(ctxBlock, "**")
	if count/2 > 2 {
		t.Errorf("too many skills injected: %q", ctxBlock)
	}

	disabled, err := NewManager(paths, Config{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	if disabled.PromptContext() != "" {
		t.Error("disabled subsystem produced prompt context")
	}
}

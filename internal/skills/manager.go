package skills

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nxclaw/nxclaw/internal/fsutil"
	"github.com/nxclaw/nxclaw/internal/workspace"
)

// Config bounds the skill subsystem. Zero values take the documented
// defaults.
type Config struct {
	// Enabled gates the whole subsystem; a disabled manager still answers
	// queries but refuses installs and yields no prompt context.
	Enabled bool

	// MaxCatalogEntries caps catalog scans. Defaults to 200.
	MaxCatalogEntries int

	// MaxSkillFileBytes caps a single SKILL.md. Defaults to 64 KiB.
	MaxSkillFileBytes int64

	// MaxInstallFiles caps files copied per install. Defaults to 40.
	MaxInstallFiles int

	// MaxInstallBytes caps total bytes copied per install. Defaults to
	// 2 MiB.
	MaxInstallBytes int64

	// InstallTimeout bounds one install. Defaults to 60s.
	InstallTimeout time.Duration

	// MaxPromptSkills caps skills injected into prompt context. Defaults
	// to 6.
	MaxPromptSkills int

	// MaxPromptChars caps the rendered prompt-context block. Defaults to
	// 6000.
	MaxPromptChars int

	// CodexSkillsDir is an extra read-only catalog source.
	CodexSkillsDir string

	// AutoEnableOnInstall enables freshly installed skills.
	AutoEnableOnInstall bool

	Logger *slog.Logger
	Emit   func(eventType string, payload map[string]any)
}

// skillState is the skills.json document: which installed skills are
// enabled.
type skillState struct {
	Enabled map[string]bool `json:"enabled"`
}

// Manager owns the skills directory and its enable/disable state.
type Manager struct {
	cfg    Config
	paths  workspace.Paths
	logger *slog.Logger

	mu sync.Mutex
	st skillState
}

// NewManager loads skills.json, tolerating its absence or corruption.
func NewManager(paths workspace.Paths, cfg Config) (*Manager, error) {
	if cfg.MaxCatalogEntries <= 0 {
		cfg.MaxCatalogEntries = 200
	}
	if cfg.MaxSkillFileBytes <= 0 {
		cfg.MaxSkillFileBytes = 64 * 1024
	}
	if cfg.MaxInstallFiles <= 0 {
		cfg.MaxInstallFiles = 40
	}
	if cfg.MaxInstallBytes <= 0 {
		cfg.MaxInstallBytes = 2 * 1024 * 1024
	}
	if cfg.InstallTimeout <= 0 {
		cfg.InstallTimeout = 60 * time.Second
	}
	if cfg.MaxPromptSkills <= 0 {
		cfg.MaxPromptSkills = 6
	}
	if cfg.MaxPromptChars <= 0 {
		cfg.MaxPromptChars = 6000
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:    cfg,
		paths:  paths,
		logger: logger.With("component", "skills"),
		st:     skillState{Enabled: map[string]bool{}},
	}
	var loaded skillState
	if err := fsutil.ReadJSON(paths.SkillsStateFile(), &loaded); err != nil {
		if !os.IsNotExist(err) {
			backup, bErr := fsutil.BackupCorrupt(paths.SkillsStateFile())
			if bErr != nil {
				return nil, fmt.Errorf("recover skills state: %w", bErr)
			}
			m.logger.Warn("skills state unreadable, starting fresh", "backup", backup)
		}
	} else if loaded.Enabled != nil {
		m.st = loaded
	}
	return m, nil
}

// persistLocked writes skills.json. Caller holds m.mu.
func (m *Manager) persistLocked() error {
	if err := fsutil.WriteJSONAtomic(m.paths.SkillsStateFile(), m.st); err != nil {
		return fmt.Errorf("write skills state: %w", err)
	}
	return nil
}

func (m *Manager) emit(eventType string, payload map[string]any) {
	if m.cfg.Emit != nil {
		m.cfg.Emit(eventType, payload)
	}
}

// Catalog scans the installed skills directory plus the codex skills
// directory and returns every parseable skill, capped at
// MaxCatalogEntries. Files over MaxSkillFileBytes are skipped.
func (m *Manager) Catalog() []*Skill {
	var out []*Skill
	seen := map[string]bool{}
	dirs := []string{m.paths.SkillsDir()}
	if m.cfg.CodexSkillsDir != "" {
		dirs = append(dirs, m.cfg.CodexSkillsDir)
	}
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if len(out) >= m.cfg.MaxCatalogEntries {
				return out
			}
			if !entry.IsDir() {
				continue
			}
			path := filepath.Join(dir, entry.Name(), SkillFilename)
			if size := fsutil.FileSize(path); size <= 0 || size > m.cfg.MaxSkillFileBytes {
				continue
			}
			skill, err := ParseSkillFile(path)
			if err != nil {
				m.logger.Debug("skipping unparseable skill", "path", path, "error", err)
				continue
			}
			if seen[skill.Name] {
				continue
			}
			seen[skill.Name] = true
			skill.Enabled = m.isEnabled(skill.Name)
			out = append(out, skill)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// List returns installed skills (those under the skills home directory)
// with their enabled flags.
func (m *Manager) List() []*Skill {
	var out []*Skill
	for _, skill := range m.Catalog() {
		if strings.HasPrefix(skill.Dir, m.paths.SkillsDir()) {
			out = append(out, skill)
		}
	}
	return out
}

// Get returns an installed or cataloged skill by name.
func (m *Manager) Get(name string) (*Skill, error) {
	for _, skill := range m.Catalog() {
		if skill.Name == name {
			return skill, nil
		}
	}
	return nil, fmt.Errorf("skill not found: %s", name)
}

// Install copies a skill package directory into the skills home. The
// source must contain a valid SKILL.md; the copy is bounded by
// MaxInstallFiles, MaxInstallBytes, and InstallTimeout.
func (m *Manager) Install(ctx context.Context, srcDir string) (*Skill, error) {
	if !m.cfg.Enabled {
		return nil, fmt.Errorf("skills subsystem is disabled")
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.InstallTimeout)
	defer cancel()

	skillPath := filepath.Join(srcDir, SkillFilename)
	if size := fsutil.FileSize(skillPath); size > m.cfg.MaxSkillFileBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes", SkillFilename, m.cfg.MaxSkillFileBytes)
	}
	skill, err := ParseSkillFile(skillPath)
	if err != nil {
		return nil, fmt.Errorf("invalid skill package: %w", err)
	}

	destDir := filepath.Join(m.paths.SkillsDir(), skill.Name)
	stageDir := destDir + ".stage"
	if err := os.RemoveAll(stageDir); err != nil {
		return nil, fmt.Errorf("clear staging dir: %w", err)
	}
	if err := copyTree(ctx, srcDir, stageDir, m.cfg.MaxInstallFiles, m.cfg.MaxInstallBytes); err != nil {
		os.RemoveAll(stageDir)
		return nil, err
	}
	if err := os.RemoveAll(destDir); err != nil {
		os.RemoveAll(stageDir)
		return nil, fmt.Errorf("replace existing skill: %w", err)
	}
	if err := os.Rename(stageDir, destDir); err != nil {
		os.RemoveAll(stageDir)
		return nil, fmt.Errorf("activate skill: %w", err)
	}

	skill.Dir = destDir
	skill.InstalledAt = time.Now()
	skill.UpdatedAt = skill.InstalledAt
	if m.cfg.AutoEnableOnInstall {
		m.mu.Lock()
		m.st.Enabled[skill.Name] = true
		err := m.persistLocked()
		m.mu.Unlock()
		if err != nil {
			return nil, err
		}
		skill.Enabled = true
	}
	m.logger.Info("skill installed", "name", skill.Name, "dir", destDir)
	m.emit("skill.installed", map[string]any{"name": skill.Name})
	return skill, nil
}

// copyTree copies regular files from src to dst, enforcing file-count and
// byte caps and honoring ctx cancellation between files.
func copyTree(ctx context.Context, src, dst string, maxFiles int, maxBytes int64) error {
	files := 0
	var bytes int64
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("install aborted: %w", err)
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, fsutil.DirMode)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		files++
		if files > maxFiles {
			return fmt.Errorf("skill package exceeds %d files", maxFiles)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		bytes += info.Size()
		if bytes > maxBytes {
			return fmt.Errorf("skill package exceeds %d bytes", maxBytes)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fsutil.FileMode)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", dst, err)
	}
	return out.Close()
}

// Enable turns a skill on for prompt injection.
func (m *Manager) Enable(name string) error {
	return m.setEnabled(name, true)
}

// Disable turns a skill off.
func (m *Manager) Disable(name string) error {
	return m.setEnabled(name, false)
}

func (m *Manager) setEnabled(name string, enabled bool) error {
	if _, err := m.Get(name); err != nil {
		return err
	}
	m.mu.Lock()
	m.st.Enabled[name] = enabled
	err := m.persistLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	eventType := "skill.disabled"
	if enabled {
		eventType = "skill.enabled"
	}
	m.emit(eventType, map[string]any{"name": name})
	return nil
}

// Remove deletes an installed skill directory and forgets its state.
func (m *Manager) Remove(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	dir := filepath.Join(m.paths.SkillsDir(), name)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("skill not installed: %s", name)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove skill %s: %w", name, err)
	}
	m.mu.Lock()
	delete(m.st.Enabled, name)
	err := m.persistLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.emit("skill.removed", map[string]any{"name": name})
	return nil
}

func (m *Manager) isEnabled(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Enabled[name]
}

// PromptContext renders previews of the enabled skills for prompt
// composition, bounded by MaxPromptSkills and MaxPromptChars. Returns ""
// when the subsystem is disabled or nothing is enabled.
func (m *Manager) PromptContext() string {
	if !m.cfg.Enabled {
		return ""
	}
	var b strings.Builder
	count := 0
	for _, skill := range m.Catalog() {
		if !skill.Enabled {
			continue
		}
		if count >= m.cfg.MaxPromptSkills {
			break
		}
		preview := skill.Preview(4)
		if b.Len()+len(preview)+1 > m.cfg.MaxPromptChars {
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(preview)
		count++
	}
	return b.String()
}

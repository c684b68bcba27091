// Package workspace owns the on-disk home layout of the runtime and the
// bootstrap markdown set seeded into a fresh workspace.
package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nxclaw/nxclaw/internal/fsutil"
)

// Paths resolves every file the runtime persists under its home directory.
//
//	<home>/
//	  config.json
//	  agent/{auth.json, models.json}
//	  state/{objectives.json, tasks.json, dashboard.json, events.jsonl, ...}
//	  memory/{raw.jsonl, compact.jsonl}
//	  workspace/ (markdown tiers)
//	  chrome/shots, logs/, skills/, docs/
type Paths struct {
	Home string
}

// DefaultHome returns the home directory, honoring NXCLAW_HOME.
func DefaultHome() string {
	if env := strings.TrimSpace(os.Getenv("NXCLAW_HOME")); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".nxclaw")
}

// NewPaths creates a resolver rooted at home (DefaultHome when empty).
func NewPaths(home string) Paths {
	if strings.TrimSpace(home) == "" {
		home = DefaultHome()
	}
	return Paths{Home: home}
}

func (p Paths) ConfigFile() string      { return filepath.Join(p.Home, "config.json") }
func (p Paths) AgentDir() string        { return filepath.Join(p.Home, "agent") }
func (p Paths) AuthFile() string        { return filepath.Join(p.AgentDir(), "auth.json") }
func (p Paths) ModelsFile() string      { return filepath.Join(p.AgentDir(), "models.json") }
func (p Paths) StateDir() string        { return filepath.Join(p.Home, "state") }
func (p Paths) ObjectivesFile() string  { return filepath.Join(p.StateDir(), "objectives.json") }
func (p Paths) TasksFile() string       { return filepath.Join(p.StateDir(), "tasks.json") }
func (p Paths) DashboardFile() string   { return filepath.Join(p.StateDir(), "dashboard.json") }
func (p Paths) EventsFile() string      { return filepath.Join(p.StateDir(), "events.jsonl") }
func (p Paths) MemoryIndexFile() string { return filepath.Join(p.StateDir(), "memory-index.json") }
func (p Paths) EmbeddingCacheFile() string {
	return filepath.Join(p.StateDir(), "embedding-cache.json")
}
func (p Paths) SkillsStateFile() string  { return filepath.Join(p.StateDir(), "skills.json") }
func (p Paths) LaneSessionsDir() string  { return filepath.Join(p.StateDir(), "lane-sessions") }
func (p Paths) MemoryDir() string        { return filepath.Join(p.Home, "memory") }
func (p Paths) RawMemoryFile() string    { return filepath.Join(p.MemoryDir(), "raw.jsonl") }
func (p Paths) CompactLogFile() string   { return filepath.Join(p.MemoryDir(), "compact.jsonl") }
func (p Paths) WorkspaceDir() string     { return filepath.Join(p.Home, "workspace") }
func (p Paths) IdentityFile() string     { return filepath.Join(p.WorkspaceDir(), "IDENTITY.md") }
func (p Paths) UserFile() string         { return filepath.Join(p.WorkspaceDir(), "USER.md") }
func (p Paths) AgentsFile() string       { return filepath.Join(p.WorkspaceDir(), "AGENTS.md") }
func (p Paths) BootstrapFile() string    { return filepath.Join(p.WorkspaceDir(), "BOOTSTRAP.md") }
func (p Paths) HeartbeatFile() string    { return filepath.Join(p.WorkspaceDir(), "HEARTBEAT.md") }
func (p Paths) ToolsFile() string        { return filepath.Join(p.WorkspaceDir(), "TOOLS.md") }
func (p Paths) LongTermFile() string     { return filepath.Join(p.WorkspaceDir(), "MEMORY.md") }
func (p Paths) SoulFile() string         { return filepath.Join(p.WorkspaceDir(), "SOUL.md") }
func (p Paths) WorkspaceMemDir() string  { return filepath.Join(p.WorkspaceDir(), "memory") }
func (p Paths) SessionsDir() string      { return filepath.Join(p.WorkspaceMemDir(), "sessions") }
func (p Paths) SoulJournalDir() string   { return filepath.Join(p.WorkspaceMemDir(), "soul-journal") }
func (p Paths) CompactMdDir() string     { return filepath.Join(p.WorkspaceMemDir(), "compact-md") }
func (p Paths) ChromeShotsDir() string   { return filepath.Join(p.Home, "chrome", "shots") }
func (p Paths) LogsDir() string          { return filepath.Join(p.Home, "logs") }
func (p Paths) SkillsDir() string        { return filepath.Join(p.Home, "skills") }
func (p Paths) DocsDir() string          { return filepath.Join(p.Home, "docs") }
func (p Paths) WorkspaceRoot() string    { return filepath.Join(p.Home, "workspace") }

// DailyFile returns the daily markdown file for day.
func (p Paths) DailyFile(day time.Time) string {
	return filepath.Join(p.WorkspaceMemDir(), day.Format("2006-01-02")+".md")
}

// SessionFile returns the per-session markdown file for a sanitized key.
func (p Paths) SessionFile(sessionKey string) string {
	return filepath.Join(p.SessionsDir(), SafeKey(sessionKey)+".md")
}

// SoulJournalFile returns the soul-journal file for day.
func (p Paths) SoulJournalFile(day time.Time) string {
	return filepath.Join(p.SoulJournalDir(), day.Format("2006-01-02")+".md")
}

// TaskLogFile returns the per-task log path.
func (p Paths) TaskLogFile(taskID string) string {
	return filepath.Join(p.LogsDir(), SafeKey(taskID)+".log")
}

// EnsureLayout creates the directory skeleton with 0700 permissions.
func (p Paths) EnsureLayout() error {
	dirs := []string{
		p.Home, p.AgentDir(), p.StateDir(), p.LaneSessionsDir(),
		p.MemoryDir(), p.WorkspaceDir(), p.WorkspaceMemDir(),
		p.SessionsDir(), p.SoulJournalDir(), p.CompactMdDir(),
		p.ChromeShotsDir(), p.LogsDir(), p.SkillsDir(), p.DocsDir(),
	}
	for _, dir := range dirs {
		if err := fsutil.EnsureDir(dir); err != nil {
			return err
		}
	}
	return nil
}

// SafeKey sanitizes an identifier for use as a filename component.
func SafeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" {
		out = "default"
	}
	if len(out) > 120 {
		out = out[:120]
	}
	return out
}

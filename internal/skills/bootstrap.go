package skills

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nxclaw/nxclaw/internal/fsutil"
)

// starterSkills are seeded by Bootstrap into an empty skills directory.
var starterSkills = map[string]string{
	"daily-review": `---
name: daily-review
description: Summarize the day's activity and surface loose ends worth following up.
emoji: "📋"
---

Review today's daily memory file and the task list. Produce a short
summary of what happened, what failed, and up to three follow-ups worth
queueing as objectives.
`,
	"web-research": `---
name: web-research
description: Research a topic in the browser and store findings as a long-term note.
emoji: "🔎"
---

Open a browser session, search for the topic, snapshot the top results,
and read the most relevant pages. Save the distilled findings as a
long-term memory note with source links.
`,
	"task-triage": `---
name: task-triage
description: Inspect failed background tasks and decide whether to retry, fix, or drop them.
emoji: "🛠"
---

List recent failed tasks with their log tails. For each, decide whether
the failure is transient (retry), a fixable command error (fix and
re-run), or obsolete (stop and note why).
`,
}

// Bootstrap seeds the starter skill set. Existing skills are never
// overwritten. Returns the names of skills it created.
func (m *Manager) Bootstrap() ([]string, error) {
	if !m.cfg.Enabled {
		return nil, fmt.Errorf("skills subsystem is disabled")
	}
	var created []string
	for name, content := range starterSkills {
		dir := filepath.Join(m.paths.SkillsDir(), name)
		path := filepath.Join(dir, SkillFilename)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := fsutil.EnsureDir(dir); err != nil {
			return created, err
		}
		if err := os.WriteFile(path, []byte(content), fsutil.FileMode); err != nil {
			return created, fmt.Errorf("seed skill %s: %w", name, err)
		}
		if m.cfg.AutoEnableOnInstall {
			m.mu.Lock()
			m.st.Enabled[name] = true
			m.mu.Unlock()
		}
		created = append(created, name)
	}
	if len(created) > 0 {
		m.mu.Lock()
		err := m.persistLocked()
		m.mu.Unlock()
		if err != nil {
			return created, err
		}
		m.logger.Info("bootstrapped starter skills", "count", len(created))
		m.emit("skill.bootstrapped", map[string]any{"skills": created})
	}
	return created, nil
}

package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nxclaw/nxclaw/internal/fsutil"
)

// BootstrapFile represents a file to seed in a workspace.
type BootstrapFile struct {
	Name    string
	Content string
}

// BootstrapResult captures the files created or skipped.
type BootstrapResult struct {
	Created []string
	Skipped []string
}

// DefaultBootstrapFiles returns the markdown set seeded into a fresh home.
func DefaultBootstrapFiles() []BootstrapFile {
	return []BootstrapFile{
		{
			Name: "IDENTITY.md",
			Content: "# IDENTITY.md - Agent Identity\n\n" +
				"- Name:\n" +
				"- Creature:\n" +
				"- Vibe:\n" +
				"- Emoji:\n",
		},
		{
			Name: "USER.md",
			Content: "# USER.md - User Profile\n\n" +
				"- Name:\n" +
				"- Preferred address:\n" +
				"- Pronouns (optional):\n" +
				"- Timezone (optional):\n" +
				"- Notes:\n",
		},
		{
			Name: "AGENTS.md",
			Content: "# AGENTS.md - Workspace Instructions\n\n" +
				"This workspace is the assistant's working directory.\n\n" +
				"## Safety\n" +
				"- Do not exfiltrate secrets or private data.\n" +
				"- Avoid destructive actions unless explicitly requested.\n\n" +
				"## Workflow\n" +
				"- Be concise in chat; put longer output in files.\n" +
				"- Append day notes in memory/YYYY-MM-DD.md.\n",
		},
		{
			Name: "BOOTSTRAP.md",
			Content: "# BOOTSTRAP.md - First Run\n\n" +
				"On first contact, introduce yourself, learn the user's name,\n" +
				"and record durable facts in MEMORY.md.\n",
		},
		{
			Name: "HEARTBEAT.md",
			Content: "# HEARTBEAT.md\n\n" +
				"- Only report items that are new or changed.\n" +
				"- If nothing needs attention, reply HEARTBEAT_OK.\n",
		},
		{
			Name: "TOOLS.md",
			Content: "# TOOLS.md - User Tool Notes (editable)\n\n" +
				"Add notes about local tools, conventions, or shortcuts here.\n",
		},
		{
			Name: "MEMORY.md",
			Content: "# MEMORY.md - Long-Term Memory\n\n" +
				"Capture durable facts, preferences, and decisions here.\n",
		},
		{
			Name: "SOUL.md",
			Content: "# SOUL.md - Persona & Boundaries\n\n" +
				"- Tone: concise, direct, and friendly.\n" +
				"- Ask clarifying questions when needed.\n" +
				"- Keep promises small and kept.\n",
		},
	}
}

// DefaultDocFiles returns the operator documentation seeded under docs/.
func DefaultDocFiles() []BootstrapFile {
	return []BootstrapFile{
		{
			Name: "START_HERE.md",
			Content: "# START HERE\n\n" +
				"1. `nxclaw auth` to connect a model provider.\n" +
				"2. `nxclaw onboard --quick` to seed the workspace.\n" +
				"3. `nxclaw start` to run the agent.\n",
		},
		{
			Name: "RUNBOOK.md",
			Content: "# RUNBOOK\n\n" +
				"- State lives under the home directory; back it up whole.\n" +
				"- Corrupt JSON files are moved aside as `*.corrupt-<ts>` and rebuilt.\n" +
				"- The dashboard listens on the configured host:port; token optional.\n",
		},
	}
}

// EnsureWorkspaceFiles creates missing files under root. Existing files are
// skipped unless overwrite is set.
func EnsureWorkspaceFiles(root string, files []BootstrapFile, overwrite bool) (BootstrapResult, error) {
	result := BootstrapResult{}
	base := strings.TrimSpace(root)
	if base == "" {
		base = "."
	}
	if err := fsutil.EnsureDir(base); err != nil {
		return result, fmt.Errorf("create workspace dir: %w", err)
	}

	for _, file := range files {
		name := strings.TrimSpace(file.Name)
		if name == "" {
			continue
		}
		path := filepath.Join(base, name)
		if !overwrite {
			if _, err := os.Stat(path); err == nil {
				result.Skipped = append(result.Skipped, path)
				continue
			} else if !os.IsNotExist(err) {
				return result, fmt.Errorf("stat %s: %w", path, err)
			}
		}
		if err := os.WriteFile(path, []byte(file.Content), fsutil.FileMode); err != nil {
			return result, fmt.Errorf("write %s: %w", path, err)
		}
		result.Created = append(result.Created, path)
	}
	return result, nil
}

// Bootstrap seeds the full home layout: directories, workspace markdown, and
// operator docs. Safe to call repeatedly.
func Bootstrap(paths Paths) (BootstrapResult, error) {
	if err := paths.EnsureLayout(); err != nil {
		return BootstrapResult{}, err
	}
	result, err := EnsureWorkspaceFiles(paths.WorkspaceDir(), DefaultBootstrapFiles(), false)
	if err != nil {
		return result, err
	}
	docs, err := EnsureWorkspaceFiles(paths.DocsDir(), DefaultDocFiles(), false)
	if err != nil {
		return result, err
	}
	result.Created = append(result.Created, docs.Created...)
	result.Skipped = append(result.Skipped, docs.Skipped...)
	return result, nil
}

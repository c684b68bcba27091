package workspace

import (
	"os"
	"strings"
)

// CoreContext holds the markdown files injected into every prompt.
type CoreContext struct {
	Identity  string
	User      string
	Agents    string
	Bootstrap string
	Heartbeat string
	Tools     string
}

// LoadCoreContext reads the core markdown set. Missing files read as empty.
func LoadCoreContext(paths Paths) CoreContext {
	return CoreContext{
		Identity:  readOrEmpty(paths.IdentityFile()),
		User:      readOrEmpty(paths.UserFile()),
		Agents:    readOrEmpty(paths.AgentsFile()),
		Bootstrap: readOrEmpty(paths.BootstrapFile()),
		Heartbeat: readOrEmpty(paths.HeartbeatFile()),
		Tools:     readOrEmpty(paths.ToolsFile()),
	}
}

// Sections returns the non-empty core files as labelled sections in a stable
// order, ready for prompt concatenation.
func (c CoreContext) Sections() []struct{ Label, Text string } {
	all := []struct{ Label, Text string }{
		{"IDENTITY", c.Identity},
		{"USER", c.User},
		{"AGENTS", c.Agents},
		{"BOOTSTRAP", c.Bootstrap},
		{"HEARTBEAT", c.Heartbeat},
		{"TOOLS", c.Tools},
	}
	out := all[:0]
	for _, s := range all {
		if strings.TrimSpace(s.Text) != "" {
			out = append(out, s)
		}
	}
	return out
}

func readOrEmpty(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

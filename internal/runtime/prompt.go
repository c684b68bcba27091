package runtime

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nxclaw/nxclaw/internal/agent"
	"github.com/nxclaw/nxclaw/internal/memory"
	"github.com/nxclaw/nxclaw/internal/objectives"
	"github.com/nxclaw/nxclaw/internal/tasks"
	"github.com/nxclaw/nxclaw/internal/workspace"
)

// coreCompressionThreshold is the raw core-context size above which the
// concatenation is summarized before injection.
const coreCompressionThreshold = 12000

// toolList enumerates the runtime tools advertised in every prompt.
var toolList = []string{
	"nx_memory_search", "nx_memory_note", "nx_memory_soul",
	"nx_task_run", "nx_task_schedule", "nx_task_stop", "nx_task_tail",
	"nx_objective_add", "nx_objective_update",
	"nx_chrome_session_open", "nx_chrome_session_snapshot",
	"nx_chrome_click", "nx_chrome_type", "nx_chrome_screenshot",
}

// behaviourRules is the short rule block closing every system prompt.
const behaviourRules = `Rules:
- Answer directly; keep replies short unless the work demands detail.
- Use long-term memory for anything worth keeping past this conversation.
- Prefer background tasks for commands that may run longer than a few seconds.
- Never invent tool output; report failures as they happened.`

// promptComposer builds the system context for each turn. Core markdown is
// compressed by summarization when it outgrows the threshold; compressed
// renditions are cached by the SHA-1 of their inputs.
type promptComposer struct {
	paths  workspace.Paths
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]string
}

func newPromptComposer(paths workspace.Paths, logger *slog.Logger) *promptComposer {
	return &promptComposer{
		paths:  paths,
		logger: logger.With("component", "prompt"),
		cache:  make(map[string]string),
	}
}

// promptInputs carries the per-turn snapshots injected into the system
// context.
type promptInputs struct {
	incoming   Incoming
	laneKey    string
	queueDepth int

	objectives []*objectives.Objective
	taskList   []tasks.Task
	matches    []memory.SearchResult
	soul       string
	working    string
	skills     string
}

// compose renders the full system context per the fixed block order.
func (p *promptComposer) compose(ctx context.Context, provider agent.Provider, in promptInputs) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are nxclaw, a persistent autonomous agent.\nNow: %s\n", time.Now().Format(time.RFC1123))
	fmt.Fprintf(&b, "Request origin: source=%s channel=%s", in.incoming.Source, in.incoming.ChannelID)
	if in.incoming.SessionID != "" {
		fmt.Fprintf(&b, " session=%s", in.incoming.SessionID)
	}
	fmt.Fprintf(&b, " lane=%s queueDepth=%d\n", in.laneKey, in.queueDepth)

	b.WriteString("\n")
	b.WriteString(p.coreContext(ctx, provider))

	if block := objectivesBlock(in.objectives); block != "" {
		b.WriteString("\n### Active objectives\n")
		b.WriteString(block)
	}
	if block := tasksBlock(in.taskList); block != "" {
		b.WriteString("\n### Active tasks\n")
		b.WriteString(block)
	}
	if block := matchesBlock(in.matches); block != "" {
		b.WriteString("\n### Relevant memory\n")
		b.WriteString(block)
	}
	if soul := strings.TrimSpace(in.soul); soul != "" {
		b.WriteString("\n### Soul\n")
		b.WriteString(clampText(soul, 600))
		b.WriteString("\n")
	}
	if working := strings.TrimSpace(in.working); working != "" {
		b.WriteString("\n")
		b.WriteString(working)
		b.WriteString("\n")
	}
	if skills := strings.TrimSpace(in.skills); skills != "" {
		b.WriteString("\n### Enabled skills\n")
		b.WriteString(skills)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(behaviourRules)
	return b.String()
}

// coreContext concatenates the core markdown set plus the tool list,
// summarizing it through the provider once it exceeds the threshold.
func (p *promptComposer) coreContext(ctx context.Context, provider agent.Provider) string {
	core := workspace.LoadCoreContext(p.paths)
	var b strings.Builder
	for _, section := range core.Sections() {
		fmt.Fprintf(&b, "### %s\n%s\n\n", section.Label, strings.TrimSpace(section.Text))
	}
	fmt.Fprintf(&b, "### Tools\nAvailable runtime tools: %s\n", strings.Join(toolList, ", "))
	raw := b.String()
	if len(raw) <= coreCompressionThreshold {
		return raw
	}

	sum := sha1.Sum([]byte(raw))
	key := hex.EncodeToString(sum[:])
	p.mu.Lock()
	cached, ok := p.cache[key]
	p.mu.Unlock()
	if ok {
		return cached
	}

	compressed := p.summarize(ctx, provider, raw)
	p.mu.Lock()
	p.cache[key] = compressed
	p.mu.Unlock()
	return compressed
}

func (p *promptComposer) summarize(ctx context.Context, provider agent.Provider, raw string) string {
	if provider != nil {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		history := []agent.Message{{
			Role:    agent.RoleUser,
			Content: "Condense the following agent context files into at most 4000 characters. Keep every hard rule, identity fact, and tool name; drop prose.\n\n" + raw,
			At:      time.Now(),
		}}
		reply, err := provider.Complete(ctx, "", history)
		if err == nil && strings.TrimSpace(reply) != "" {
			return reply + "\n"
		}
		p.logger.Warn("core context summarization failed, truncating", "error", err)
	}
	return clampText(raw, coreCompressionThreshold/2) + "\n"
}

func objectivesBlock(list []*objectives.Objective) string {
	var b strings.Builder
	count := 0
	for _, obj := range list {
		if obj.Status != objectives.StatusPending && obj.Status != objectives.StatusInProgress {
			continue
		}
		if count >= 5 {
			break
		}
		fmt.Fprintf(&b, "- [%s p%d] %s\n", obj.Status, obj.Priority, obj.Title)
		count++
	}
	return b.String()
}

func tasksBlock(list []tasks.Task) string {
	var b strings.Builder
	count := 0
	for _, t := range list {
		if t.Status != tasks.StatusRunning && t.Status != tasks.StatusQueued {
			continue
		}
		if count >= 5 {
			break
		}
		fmt.Fprintf(&b, "- [%s] %s (id %s)\n", t.Status, clampText(t.Command, 80), t.ID)
		count++
	}
	return b.String()
}

func matchesBlock(matches []memory.SearchResult) string {
	var b strings.Builder
	for i, match := range matches {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&b, "- (%.2f) %s\n", match.Score, clampText(match.Chunk.Text, 240))
	}
	return b.String()
}

// clampText truncates on a rune boundary with an ellipsis marker.
func clampText(text string, maxLen int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "…"
}

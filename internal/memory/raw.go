package memory

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nxclaw/nxclaw/internal/fsutil"
)

// dedupeWindow is how far back an identical same-actor same-source entry
// suppresses a new append.
const dedupeWindow = 6 * time.Hour

// healthPingPatterns match synthetic liveness traffic that must never reach
// durable memory.
var healthPingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(ping|pong)\s*$`),
	regexp.MustCompile(`(?i)^\s*HEARTBEAT_OK\s*$`),
	regexp.MustCompile(`(?i)^\s*health[\s-]*check\s*$`),
	regexp.MustCompile(`(?i)^\s*\[?system ping\]?\s*$`),
}

func isHealthPing(content string) bool {
	for _, re := range healthPingPatterns {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}

// AppendInput describes one conversation turn to record.
type AppendInput struct {
	Actor      Actor
	Content    string
	Source     string
	Tags       []string
	SessionKey string
}

// AppendRaw records a conversation turn: JSONL append, daily markdown
// mirror, and per-session markdown mirror when session memory is enabled.
// Health pings and near-duplicates within the dedupe window are dropped;
// the returned entry is nil in that case.
func (s *Store) AppendRaw(in AppendInput) (*RawEntry, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, nil
	}
	if isHealthPing(content) {
		return nil, nil
	}
	actor := in.Actor
	if actor == "" {
		actor = ActorUser
	}

	s.mu.Lock()
	cutoff := time.Now().Add(-dedupeWindow)
	for i := len(s.raw) - 1; i >= 0; i-- {
		prev := s.raw[i]
		if prev.CreatedAt.Before(cutoff) {
			break
		}
		if prev.Actor == actor && prev.Source == in.Source && prev.Content == content {
			s.mu.Unlock()
			return nil, nil
		}
	}

	entry := RawEntry{
		ID:         uuid.NewString(),
		Actor:      actor,
		Content:    content,
		Source:     in.Source,
		Tags:       in.Tags,
		CreatedAt:  time.Now(),
		SessionKey: in.SessionKey,
	}
	s.raw = append(s.raw, entry)
	s.dirty = true
	s.mu.Unlock()

	if err := fsutil.AppendJSONL(s.paths.RawMemoryFile(), entry); err != nil {
		return nil, fmt.Errorf("append raw log: %w", err)
	}
	if err := s.appendDaily(entry); err != nil {
		s.logger.Warn("daily markdown append failed", "error", err)
	}
	if s.cfg.SessionMemoryEnabled && entry.SessionKey != "" {
		if err := s.appendSession(entry); err != nil {
			s.logger.Warn("session markdown append failed", "error", err)
		}
	}

	s.emit("memory.raw", map[string]any{
		"actor":      string(entry.Actor),
		"source":     entry.Source,
		"sessionKey": entry.SessionKey,
	})
	return &entry, nil
}

// rewriteRaw atomically replaces the raw log with entries. Caller holds s.mu.
func (s *Store) rewriteRawLocked(entries []RawEntry) error {
	var buf strings.Builder
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal raw entry: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := fsutil.WriteFileAtomic(s.paths.RawMemoryFile(), []byte(buf.String())); err != nil {
		return fmt.Errorf("rewrite raw log: %w", err)
	}
	s.raw = entries
	return nil
}

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nxclaw/nxclaw/internal/fsutil"
	"github.com/nxclaw/nxclaw/internal/workspace"
)

// truncation bounds for overflow recovery: the first messages carry the
// conversation's framing, the last ones its current thread.
const (
	truncateKeepFirst = 2
	truncateKeepLast  = 8
)

// historyPlaceholder marks where truncation removed messages.
const historyPlaceholder = "[earlier conversation truncated]"

// Session is one lane's conversation with a provider. History is persisted
// per lane so a restart resumes mid-conversation.
type Session struct {
	LaneKey string

	provider   Provider
	paths      workspace.Paths
	logger     *slog.Logger
	maxHistory int

	mu      sync.Mutex
	history []Message
}

// SessionConfig configures a session.
type SessionConfig struct {
	// MaxHistory bounds retained messages; older ones roll off. Defaults
	// to 60.
	MaxHistory int

	Logger *slog.Logger
}

// NewSession creates a session for laneKey, restoring any persisted
// history.
func NewSession(laneKey string, provider Provider, paths workspace.Paths, cfg SessionConfig) *Session {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 60
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		LaneKey:    laneKey,
		provider:   provider,
		paths:      paths,
		logger:     logger.With("component", "session", "lane", laneKey),
		maxHistory: cfg.MaxHistory,
	}
	s.load()
	return s
}

func (s *Session) historyFile() string {
	return filepath.Join(s.paths.LaneSessionsDir(), workspace.SafeKey(s.LaneKey), "history.json")
}

func (s *Session) load() {
	var history []Message
	if err := fsutil.ReadJSON(s.historyFile(), &history); err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("session history unreadable, starting fresh", "error", err)
		}
		return
	}
	s.history = history
}

// persistLocked writes history atomically. Caller holds s.mu.
func (s *Session) persistLocked() {
	if err := fsutil.WriteJSONAtomic(s.historyFile(), s.history); err != nil {
		s.logger.Warn("persist session history failed", "error", err)
	}
}

// Prompt sends the user text with full history and records both sides of
// the exchange. The provider error passes through unchanged so callers can
// classify overflow.
func (s *Session) Prompt(ctx context.Context, system, userText string) (string, error) {
	s.mu.Lock()
	s.history = append(s.history, Message{Role: RoleUser, Content: userText, At: time.Now()})
	s.trimLocked()
	history := make([]Message, len(s.history))
	copy(history, s.history)
	s.mu.Unlock()

	reply, err := s.provider.Complete(ctx, system, history)
	if err != nil {
		return "", err
	}
	if reply == "" {
		return "", fmt.Errorf("empty completion from %s", s.provider.Name())
	}

	s.mu.Lock()
	s.history = append(s.history, Message{Role: RoleAssistant, Content: reply, At: time.Now()})
	s.trimLocked()
	s.persistLocked()
	s.mu.Unlock()
	return reply, nil
}

// Complete re-runs the provider over the existing history without adding a
// user turn. Used for retries after Prompt failed: the user turn is already
// recorded.
func (s *Session) Complete(ctx context.Context, system string) (string, error) {
	s.mu.Lock()
	history := make([]Message, len(s.history))
	copy(history, s.history)
	s.mu.Unlock()

	reply, err := s.provider.Complete(ctx, system, history)
	if err != nil {
		return "", err
	}
	if reply == "" {
		return "", fmt.Errorf("empty completion from %s", s.provider.Name())
	}

	s.mu.Lock()
	s.history = append(s.history, Message{Role: RoleAssistant, Content: reply, At: time.Now()})
	s.trimLocked()
	s.persistLocked()
	s.mu.Unlock()
	return reply, nil
}

// trimLocked rolls off the oldest messages beyond maxHistory. Caller holds
// s.mu.
func (s *Session) trimLocked() {
	if len(s.history) > s.maxHistory {
		s.history = append([]Message(nil), s.history[len(s.history)-s.maxHistory:]...)
	}
}

// TruncateHistory is the overflow last resort: keep the first
// truncateKeepFirst and last truncateKeepLast messages with a placeholder
// between. Returns the number of messages dropped.
func (s *Session) TruncateHistory() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) <= truncateKeepFirst+truncateKeepLast {
		return 0
	}
	dropped := len(s.history) - truncateKeepFirst - truncateKeepLast
	trimmed := make([]Message, 0, truncateKeepFirst+truncateKeepLast+1)
	trimmed = append(trimmed, s.history[:truncateKeepFirst]...)
	trimmed = append(trimmed, Message{Role: RoleUser, Content: historyPlaceholder, At: time.Now()})
	trimmed = append(trimmed, s.history[len(s.history)-truncateKeepLast:]...)
	s.history = trimmed
	s.persistLocked()
	s.logger.Info("truncated session history", "dropped", dropped)
	return dropped
}

// MessageCount returns the current history length.
func (s *Session) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// History returns a copy of the message history.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// Archive deletes the persisted history and clears the in-memory copy.
func (s *Session) Archive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	dir := filepath.Dir(s.historyFile())
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("archive session %s: %w", s.LaneKey, err)
	}
	return nil
}

package runtime

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nxclaw/nxclaw/internal/agent"
	"github.com/nxclaw/nxclaw/internal/workspace"
)

// Incoming identifies the origin of one request.
type Incoming struct {
	Source    string `json:"source"`
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// sanitize maps every identifier through SafeKey so lane keys and file
// names stay filesystem-clean.
func (in Incoming) sanitize() Incoming {
	out := Incoming{
		Source:    workspace.SafeKey(in.Source),
		ChannelID: workspace.SafeKey(in.ChannelID),
	}
	if in.UserID != "" {
		out.UserID = workspace.SafeKey(in.UserID)
	}
	if in.SessionID != "" {
		out.SessionID = workspace.SafeKey(in.SessionID)
	}
	return out
}

// LaneKey derives the serialization key: source ":" channel, with an
// optional "::session::" suffix for per-session isolation.
func LaneKey(in Incoming) string {
	in = in.sanitize()
	key := in.Source + ":" + in.ChannelID
	if in.SessionID != "" {
		key += "::session::" + in.SessionID
	}
	return key
}

// SessionInfo is the dashboard view of one conversation lane.
type SessionInfo struct {
	LaneKey      string    `json:"laneKey"`
	Source       string    `json:"source"`
	ChannelID    string    `json:"channelId"`
	SessionID    string    `json:"sessionId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastUsedAt   time.Time `json:"lastUsedAt"`
	MessageCount int       `json:"messageCount"`
	Running      bool      `json:"running"`
}

type laneSession struct {
	agent      *agent.Session
	laneKey    string
	source     string
	channelID  string
	sessionID  string
	createdAt  time.Time
	lastUsedAt time.Time
	running    bool
}

// sessionRegistry owns the conversation lanes: creation, idle timeout, and
// LRU eviction bounded by maxLanes. Lanes currently executing are never
// evicted.
type sessionRegistry struct {
	maxLanes int
	maxIdle  time.Duration
	paths    workspace.Paths
	logger   *slog.Logger

	mu    sync.Mutex
	lanes map[string]*laneSession
}

func newSessionRegistry(paths workspace.Paths, maxLanes int, maxIdle time.Duration, logger *slog.Logger) *sessionRegistry {
	if maxLanes <= 0 {
		maxLanes = 24
	}
	if maxIdle <= 0 {
		maxIdle = 4 * time.Hour
	}
	return &sessionRegistry{
		maxLanes: maxLanes,
		maxIdle:  maxIdle,
		paths:    paths,
		logger:   logger.With("component", "sessions"),
		lanes:    make(map[string]*laneSession),
	}
}

// acquire returns the lane session, creating it if needed, and marks it
// running until release. Idle and LRU eviction happen here so capacity is
// enforced before a new lane is admitted.
func (r *sessionRegistry) acquire(in Incoming, provider agent.Provider) *laneSession {
	in = in.sanitize()
	key := LaneKey(in)
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictIdleLocked(now)

	sess, ok := r.lanes[key]
	if !ok {
		r.evictLRULocked()
		sess = &laneSession{
			agent:     agent.NewSession(key, provider, r.paths, agent.SessionConfig{Logger: r.logger}),
			laneKey:   key,
			source:    in.Source,
			channelID: in.ChannelID,
			sessionID: in.SessionID,
			createdAt: now,
		}
		r.lanes[key] = sess
	}
	sess.lastUsedAt = now
	sess.running = true
	return sess
}

// release clears the running flag after the lane turn finishes.
func (r *sessionRegistry) release(laneKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.lanes[laneKey]; ok {
		sess.running = false
		sess.lastUsedAt = time.Now()
	}
}

// evictIdleLocked drops lanes idle beyond maxIdle. Caller holds r.mu.
func (r *sessionRegistry) evictIdleLocked(now time.Time) {
	for key, sess := range r.lanes {
		if sess.running {
			continue
		}
		if now.Sub(sess.lastUsedAt) > r.maxIdle {
			delete(r.lanes, key)
			r.logger.Info("evicted idle lane", "lane", key)
		}
	}
}

// evictLRULocked makes room for one new lane when at capacity. Caller
// holds r.mu.
func (r *sessionRegistry) evictLRULocked() {
	for len(r.lanes) >= r.maxLanes {
		var oldest *laneSession
		for _, sess := range r.lanes {
			if sess.running {
				continue
			}
			if oldest == nil || sess.lastUsedAt.Before(oldest.lastUsedAt) {
				oldest = sess
			}
		}
		if oldest == nil {
			return
		}
		delete(r.lanes, oldest.laneKey)
		r.logger.Info("evicted lane at capacity", "lane", oldest.laneKey)
	}
}

// list returns every lane sorted by most recent use.
func (r *sessionRegistry) list() []SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SessionInfo, 0, len(r.lanes))
	for _, sess := range r.lanes {
		out = append(out, r.infoLocked(sess))
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].LastUsedAt.After(out[j-1].LastUsedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func (r *sessionRegistry) infoLocked(sess *laneSession) SessionInfo {
	return SessionInfo{
		LaneKey:      sess.laneKey,
		Source:       sess.source,
		ChannelID:    sess.channelID,
		SessionID:    sess.sessionID,
		CreatedAt:    sess.createdAt,
		LastUsedAt:   sess.lastUsedAt,
		MessageCount: sess.agent.MessageCount(),
		Running:      sess.running,
	}
}

// archive drops the lane and deletes its persisted history.
func (r *sessionRegistry) archive(laneKey string) error {
	r.mu.Lock()
	sess, ok := r.lanes[laneKey]
	if ok {
		if sess.running {
			r.mu.Unlock()
			return fmt.Errorf("lane %s is currently running", laneKey)
		}
		delete(r.lanes, laneKey)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown lane %s", laneKey)
	}
	return sess.agent.Archive()
}

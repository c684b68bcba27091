package runtime

import (
	"time"

	"github.com/nxclaw/nxclaw/internal/browser"
	"github.com/nxclaw/nxclaw/internal/events"
	"github.com/nxclaw/nxclaw/internal/fsutil"
	"github.com/nxclaw/nxclaw/internal/memory"
	"github.com/nxclaw/nxclaw/internal/objectives"
	"github.com/nxclaw/nxclaw/internal/tasks"
)

// State is the aggregate runtime snapshot served by /api/state and
// persisted to dashboard.json.
type State struct {
	Now        time.Time `json:"now"`
	QueueDepth int       `json:"queueDepth"`
	LaneCount  int       `json:"laneCount"`

	Sessions   []SessionInfo          `json:"sessions"`
	Tasks      tasks.Health           `json:"tasks"`
	TaskQueue  []tasks.QueuedPreview  `json:"taskQueue,omitempty"`
	Memory     memory.Stats           `json:"memory"`
	Objectives objectives.Stats       `json:"objectives"`
	Browser    []browser.SessionInfo  `json:"browser,omitempty"`
	Channels   map[string]bool        `json:"channels,omitempty"`
	Autonomous map[string]any         `json:"autonomous,omitempty"`
	Events     []events.Event         `json:"events,omitempty"`
}

// GetState aggregates subsystem snapshots. Recent events are included only
// when includeEvents is set.
func (o *Orchestrator) GetState(includeEvents bool) State {
	st := State{
		Now:        time.Now(),
		QueueDepth: o.queue.Depth(),
		LaneCount:  o.queue.LaneCount(),
		Sessions:   o.sessions.list(),
	}
	if o.deps.Tasks != nil {
		st.Tasks = o.deps.Tasks.GetHealth()
		st.TaskQueue = o.deps.Tasks.GetQueueSnapshot(10)
	}
	if o.deps.Memory != nil {
		st.Memory = o.deps.Memory.GetStats()
	}
	if o.deps.Objectives != nil {
		st.Objectives = o.deps.Objectives.GetStats()
	}
	if o.deps.Browser != nil {
		st.Browser = o.deps.Browser.ListSessions()
	}
	o.channelMu.Lock()
	if len(o.channels) > 0 {
		st.Channels = make(map[string]bool, len(o.channels))
		for name, healthy := range o.channels {
			st.Channels[name] = healthy
		}
	}
	o.channelMu.Unlock()
	if o.AutonomousState != nil {
		st.Autonomous = o.AutonomousState()
	}
	if includeEvents && o.deps.Bus != nil {
		st.Events = o.deps.Bus.GetRecent(50)
	}
	return st
}

// persistDashboard writes the current snapshot for the next dashboard
// load. Failures only log; the snapshot is advisory.
func (o *Orchestrator) persistDashboard() {
	st := o.GetState(false)
	if err := fsutil.WriteJSONAtomic(o.deps.Paths.DashboardFile(), st); err != nil {
		o.logger.Warn("dashboard snapshot failed", "error", err)
	}
}

package tasks

import (
	"os"
	"sort"
	"time"

	"github.com/nxclaw/nxclaw/internal/fsutil"
)

// taskState is the on-disk form of the task list.
type taskState struct {
	Tasks []Task `json:"tasks"`
}

// loadState restores the task list; an unreadable file is backed up and the
// manager starts empty.
func (m *Manager) loadState() {
	path := m.paths.TasksFile()
	var state taskState
	if err := fsutil.ReadJSON(path, &state); err != nil {
		if !os.IsNotExist(err) {
			if backup, berr := fsutil.BackupCorrupt(path); berr == nil {
				m.logger.Warn("task state unreadable, backed up", "backup", backup)
			} else {
				m.logger.Warn("task state unreadable", "error", err)
			}
		}
		return
	}
	for i := range state.Tasks {
		t := state.Tasks[i]
		m.tasks[t.ID] = &t
	}
}

// resumeLocked reinstates interrupted work after a restart: schedules
// reinstall their timers, previously running or queued commands re-enter the
// queue. Caller holds m.mu.
func (m *Manager) resumeLocked() {
	now := time.Now()
	for _, t := range m.tasks {
		if t.Schedule {
			if !t.Status.IsTerminal() {
				t.Status = StatusRunning
				m.installScheduleLocked(t)
			}
			continue
		}
		if t.Status == StatusRunning || t.Status == StatusQueued {
			t.Status = StatusQueued
			t.UpdatedAt = now
			m.queue = append(m.queue, queueItem{taskID: t.ID, retryAt: now})
			m.logger.Info("re-enqueued interrupted task", "taskId", t.ID, "command", t.Command)
		}
	}
	m.markDirtyLocked()
}

// markDirtyLocked arms the debounced persist timer. Caller holds m.mu.
func (m *Manager) markDirtyLocked() {
	if m.persistT != nil || m.closed {
		return
	}
	m.persistT = time.AfterFunc(m.cfg.PersistDebounce, func() {
		m.mu.Lock()
		m.persistT = nil
		m.mu.Unlock()
		m.persistNow()
	})
}

// persistNow writes the task list atomically. persistMu chains writes so the
// state file is single-writer.
func (m *Manager) persistNow() {
	m.mu.Lock()
	state := taskState{Tasks: make([]Task, 0, len(m.tasks))}
	for _, t := range m.tasks {
		state.Tasks = append(state.Tasks, *t)
	}
	m.mu.Unlock()
	sort.Slice(state.Tasks, func(i, j int) bool {
		return state.Tasks[i].CreatedAt.Before(state.Tasks[j].CreatedAt)
	})

	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	if err := fsutil.WriteJSONAtomic(m.paths.TasksFile(), state); err != nil {
		m.logger.Error("persist task state failed", "error", err)
	}
}

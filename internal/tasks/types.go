// Package tasks supervises background child processes: a bounded-concurrency
// queue with timed retries, recurring schedules, per-task log capture, and
// crash-resilient JSON state.
package tasks

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a task. Schedules sit at StatusRunning as
// a sentinel while their timer is installed.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusStopped   Status = "stopped"
)

// IsTerminal reports whether a task in this status will never run again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusStopped:
		return true
	}
	return false
}

var (
	// ErrMissingCommand is returned when runCommand gets an empty command.
	ErrMissingCommand = errors.New("task command is required")
	// ErrBadInterval is returned when a schedule interval is below 1s.
	ErrBadInterval = errors.New("schedule interval must be at least 1000ms")
)

// Task is one supervised command or recurring schedule.
type Task struct {
	ID           string     `json:"id"`
	Command      string     `json:"command"`
	Cwd          string     `json:"cwd,omitempty"`
	Status       Status     `json:"status"`
	Background   bool       `json:"background"`
	Schedule     bool       `json:"schedule"`
	IntervalMs   int64      `json:"intervalMs,omitempty"`
	ParentTaskID string     `json:"parentTaskId,omitempty"`
	TimeoutMs    int64      `json:"timeoutMs,omitempty"`
	MaxRetries   int        `json:"maxRetries"`
	RetryDelayMs int64      `json:"retryDelayMs"`
	Attempts     int        `json:"attempts"`
	ExitCode     *int       `json:"exitCode,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
	LogPath      string     `json:"logPath,omitempty"`
}

// RunInput parameterizes runCommand and enqueueCommand. ParentTaskID links
// a schedule-tick child back to its schedule.
type RunInput struct {
	Command       string
	Cwd           string
	ParentTaskID  string
	TimeoutMs     int64
	MaxRetries    int
	RetryDelayMs  int64
	Background    bool
	ForceQueue    bool
	DedupeRunning bool
}

// clampRetryPolicy applies the documented bounds: maxRetries 0-20,
// retryDelayMs 250ms-1h.
func (in *RunInput) clampRetryPolicy() {
	if in.MaxRetries < 0 {
		in.MaxRetries = 0
	}
	if in.MaxRetries > 20 {
		in.MaxRetries = 20
	}
	if in.RetryDelayMs < 250 {
		in.RetryDelayMs = 250
	}
	if in.RetryDelayMs > 3_600_000 {
		in.RetryDelayMs = 3_600_000
	}
	if in.TimeoutMs < 0 {
		in.TimeoutMs = 0
	}
}

// Health summarizes the manager for skip-checks and the dashboard.
type Health struct {
	Total         int `json:"total"`
	Running       int `json:"running"`
	QueueDepth    int `json:"queueDepth"`
	Schedules     int `json:"schedules"`
	FailedRecent  int `json:"failedRecent"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// QueuedPreview is one pending queue slot for getQueueSnapshot.
type QueuedPreview struct {
	TaskID  string    `json:"taskId"`
	Command string    `json:"command"`
	RetryAt time.Time `json:"retryAt"`
	Attempt int       `json:"attempt"`
}

// Package objectives implements the durable objective queue that feeds the
// autonomous loop: a single ordered JSON file with a status lifecycle,
// priority-based picking, and staleness expiry.
package objectives

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nxclaw/nxclaw/internal/fsutil"
)

// Status is the lifecycle state of an objective.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether the status ends the objective's lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsValid reports whether s is a recognized status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusBlocked, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Note is a timestamped audit entry on an objective.
type Note struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// Objective is one unit of autonomous work.
type Objective struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    int        `json:"priority"` // 1 = highest, 5 = lowest
	Status      Status     `json:"status"`
	Source      string     `json:"source,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	RunCount    int        `json:"runCount"`
	LastRunAt   *time.Time `json:"lastRunAt,omitempty"`
	Notes       []Note     `json:"notes,omitempty"`
}

// AddInput describes a new objective.
type AddInput struct {
	Title       string
	Description string
	Priority    int
	Source      string
}

// UpdateInput patches an existing objective.
type UpdateInput struct {
	ID     string
	Status Status
	Note   string
}

// Stats summarizes the queue by status.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"byStatus"`
}

// Store is the durable objective queue. All mutations rewrite the backing
// file atomically before returning.
type Store struct {
	mu         sync.Mutex
	path       string
	logger     *slog.Logger
	objectives []*Objective
}

// NewStore loads (or initializes) the queue at path. An unreadable file is
// backed up and replaced with an empty queue.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:   path,
		logger: logger.With("component", "objectives"),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

type fileShape struct {
	Objectives []*Objective `json:"objectives"`
}

func (s *Store) load() error {
	var shape fileShape
	err := fsutil.ReadJSON(s.path, &shape)
	switch {
	case err == nil:
		s.objectives = shape.Objectives
	case os.IsNotExist(err):
		s.objectives = nil
	default:
		backup, backupErr := fsutil.BackupCorrupt(s.path)
		if backupErr != nil {
			return fmt.Errorf("objectives file unreadable and backup failed: %w", err)
		}
		s.logger.Warn("backed up corrupt objectives file", "backup", backup, "error", err)
		s.objectives = nil
	}
	return nil
}

// Reload re-reads the backing file, discarding in-memory state. The
// autonomous loop calls this at tick start so dashboard edits are honored.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) persistLocked() error {
	return fsutil.WriteJSONAtomic(s.path, fileShape{Objectives: s.objectives})
}

// Add appends a new pending objective and persists.
func (s *Store) Add(in AddInput) (*Objective, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("objective title is required")
	}
	priority := in.Priority
	if priority < 1 || priority > 5 {
		priority = 3
	}

	now := time.Now()
	obj := &Objective{
		ID:          uuid.NewString(),
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Priority:    priority,
		Status:      StatusPending,
		Source:      in.Source,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objectives = append(s.objectives, obj)
	if err := s.persistLocked(); err != nil {
		s.objectives = s.objectives[:len(s.objectives)-1]
		return nil, err
	}
	cp := *obj
	return &cp, nil
}

// List returns objectives, optionally filtered by status, newest update first.
func (s *Store) List(status Status) []*Objective {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Objective, 0, len(s.objectives))
	for _, obj := range s.objectives {
		if status != "" && obj.Status != status {
			continue
		}
		cp := *obj
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// GetByID returns a copy of the objective, or nil when absent.
func (s *Store) GetByID(id string) *Objective {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, obj := range s.objectives {
		if obj.ID == id {
			cp := *obj
			return &cp
		}
	}
	return nil
}

// Update patches status and/or appends a note. This is the only path allowed
// to move an objective out of a terminal status.
func (s *Store) Update(in UpdateInput) (*Objective, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, obj := range s.objectives {
		if obj.ID != in.ID {
			continue
		}
		if in.Status != "" {
			if !in.Status.IsValid() {
				return nil, fmt.Errorf("unknown objective status %q", in.Status)
			}
			obj.Status = in.Status
		}
		if text := strings.TrimSpace(in.Note); text != "" {
			obj.Notes = append(obj.Notes, Note{At: time.Now(), Text: text})
		}
		obj.UpdatedAt = time.Now()
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
		cp := *obj
		return &cp, nil
	}
	return nil, fmt.Errorf("objective %s not found", in.ID)
}

// PickForAutonomous selects the next objective for autonomous work: the
// oldest-updated in-progress objective first, otherwise the highest-priority
// pending objective (oldest created wins ties). Returns nil when idle.
func (s *Store) PickForAutonomous() *Objective {
	s.mu.Lock()
	defer s.mu.Unlock()

	var inProgress *Objective
	for _, obj := range s.objectives {
		if obj.Status != StatusInProgress {
			continue
		}
		if inProgress == nil || obj.UpdatedAt.Before(inProgress.UpdatedAt) {
			inProgress = obj
		}
	}
	if inProgress != nil {
		cp := *inProgress
		return &cp
	}

	var pending *Objective
	for _, obj := range s.objectives {
		if obj.Status != StatusPending {
			continue
		}
		if pending == nil ||
			obj.Priority < pending.Priority ||
			(obj.Priority == pending.Priority && obj.CreatedAt.Before(pending.CreatedAt)) {
			pending = obj
		}
	}
	if pending != nil {
		cp := *pending
		return &cp
	}
	return nil
}

// MarkPicked transitions the objective to in_progress and counts the run.
// Terminal objectives are left untouched.
func (s *Store) MarkPicked(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, obj := range s.objectives {
		if obj.ID != id {
			continue
		}
		if obj.Status.IsTerminal() {
			return nil
		}
		now := time.Now()
		obj.Status = StatusInProgress
		obj.RunCount++
		obj.LastRunAt = &now
		obj.UpdatedAt = now
		return s.persistLocked()
	}
	return fmt.Errorf("objective %s not found", id)
}

// ExpireStale cancels pending objectives older than pendingMaxAge and blocks
// in-progress objectives idle beyond inProgressMaxIdle, appending an audit
// note in each case. Terminal objectives are never touched. Returns how many
// objectives changed.
func (s *Store) ExpireStale(pendingMaxAge, inProgressMaxIdle time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	changed := 0
	for _, obj := range s.objectives {
		switch obj.Status {
		case StatusPending:
			if pendingMaxAge > 0 && now.Sub(obj.CreatedAt) > pendingMaxAge {
				obj.Status = StatusCancelled
				obj.Notes = append(obj.Notes, Note{
					At:   now,
					Text: fmt.Sprintf("auto-cancelled: pending for more than %s", pendingMaxAge),
				})
				obj.UpdatedAt = now
				changed++
			}
		case StatusInProgress:
			if inProgressMaxIdle > 0 && now.Sub(obj.UpdatedAt) > inProgressMaxIdle {
				obj.Status = StatusBlocked
				obj.Notes = append(obj.Notes, Note{
					At:   now,
					Text: fmt.Sprintf("auto-blocked: idle for more than %s", inProgressMaxIdle),
				})
				obj.UpdatedAt = now
				changed++
			}
		}
	}
	if changed == 0 {
		return 0, nil
	}
	return changed, s.persistLocked()
}

// GetStats summarizes the queue.
func (s *Store) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{ByStatus: make(map[Status]int)}
	for _, obj := range s.objectives {
		stats.Total++
		stats.ByStatus[obj.Status]++
	}
	return stats
}

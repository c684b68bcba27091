// Package lane provides the keyed FIFO scheduler that serializes work within
// a conversation lane while letting distinct lanes run in parallel. A single
// global depth counter bounds total pending+active work.
package lane

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrQueueOverflow is returned by Enqueue when the global depth cap is hit.
// The rejected work is never attached to a lane.
var ErrQueueOverflow = errors.New("lane queue overflow")

// EventKind identifies a queue lifecycle observation.
type EventKind string

const (
	EventEnqueue EventKind = "enqueue"
	EventStart   EventKind = "start"
	EventEnd     EventKind = "end"
)

// Snapshot captures queue state at event time.
type Snapshot struct {
	Lane       string    `json:"lane"`
	LaneDepth  int       `json:"laneDepth"`
	LaneActive int       `json:"laneActive"`
	TotalDepth int       `json:"totalDepth"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// NotifyFunc observes queue events. Called outside the queue lock.
type NotifyFunc func(kind EventKind, snap Snapshot)

type entry struct {
	fn       func(ctx context.Context) (any, error)
	ctx      context.Context
	resultCh chan any
	errCh    chan error
}

type laneState struct {
	key    string
	queue  []*entry
	active int
}

// Queue is the per-lane serializer. Construct with NewQueue.
type Queue struct {
	mu       sync.Mutex
	lanes    map[string]*laneState
	total    int
	maxDepth int
	notify   NotifyFunc
}

// NewQueue creates a queue with the given global depth cap.
func NewQueue(maxDepth int, notify NotifyFunc) *Queue {
	if maxDepth <= 0 {
		maxDepth = 64
	}
	return &Queue{
		lanes:    make(map[string]*laneState),
		maxDepth: maxDepth,
		notify:   notify,
	}
}

// Enqueue schedules fn on the lane and blocks until it completes, returning
// its result. Work on the same lane runs strictly in submission order; work
// on different lanes runs concurrently. Returns ErrQueueOverflow without
// side effects when the global depth cap is reached.
func (q *Queue) Enqueue(ctx context.Context, laneKey string, fn func(ctx context.Context) (any, error)) (any, error) {
	if laneKey == "" {
		laneKey = "main"
	}
	if fn == nil {
		return nil, fmt.Errorf("lane %s: nil task", laneKey)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	e := &entry{
		fn:       fn,
		ctx:      ctx,
		resultCh: make(chan any, 1),
		errCh:    make(chan error, 1),
	}

	q.mu.Lock()
	if q.total >= q.maxDepth {
		total := q.total
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: depth %d >= max %d", ErrQueueOverflow, total, q.maxDepth)
	}
	q.total++
	state, ok := q.lanes[laneKey]
	if !ok {
		state = &laneState{key: laneKey}
		q.lanes[laneKey] = state
	}
	state.queue = append(state.queue, e)
	enqSnap := q.snapshotLocked(state)

	var started *entry
	var startSnap Snapshot
	if state.active == 0 {
		started = q.popLocked(state)
		startSnap = q.snapshotLocked(state)
	}
	q.mu.Unlock()

	q.emit(EventEnqueue, enqSnap)
	if started != nil {
		q.emit(EventStart, startSnap)
		go q.run(state, started)
	}

	select {
	case res := <-e.resultCh:
		return res, nil
	case err := <-e.errCh:
		return nil, err
	}
}

// popLocked removes the lane head and marks it active. Caller holds q.mu and
// has verified the lane is idle with queued work.
func (q *Queue) popLocked(state *laneState) *entry {
	e := state.queue[0]
	state.queue = state.queue[1:]
	state.active = 1
	return e
}

// run executes one entry, recovers panics into errors, then starts the next
// queued entry on the lane or drops the empty lane record.
func (q *Queue) run(state *laneState, e *entry) {
	var (
		result any
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("lane %s: task panic: %v", state.key, r)
			}
		}()
		result, err = e.fn(e.ctx)
	}()

	q.mu.Lock()
	state.active = 0
	q.total--
	endSnap := q.snapshotLocked(state)
	var next *entry
	var nextSnap Snapshot
	if len(state.queue) > 0 {
		next = q.popLocked(state)
		nextSnap = q.snapshotLocked(state)
	} else {
		delete(q.lanes, state.key)
	}
	q.mu.Unlock()

	q.emit(EventEnd, endSnap)

	if err != nil {
		e.errCh <- err
	} else {
		e.resultCh <- result
	}

	if next != nil {
		q.emit(EventStart, nextSnap)
		go q.run(state, next)
	}
}

// snapshotLocked captures lane + global state. Caller holds q.mu.
func (q *Queue) snapshotLocked(state *laneState) Snapshot {
	return Snapshot{
		Lane:       state.key,
		LaneDepth:  len(state.queue),
		LaneActive: state.active,
		TotalDepth: q.total,
		UpdatedAt:  time.Now(),
	}
}

func (q *Queue) emit(kind EventKind, snap Snapshot) {
	if q.notify != nil {
		q.notify(kind, snap)
	}
}

// Depth returns the current global pending+active count.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.total
}

// LaneCount returns the number of live lane records.
func (q *Queue) LaneCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}

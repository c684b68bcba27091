// Package events implements the process-wide observability bus: a bounded
// in-memory ring of recent events plus an append-only JSONL sink with
// debounced flushing and single-backup rotation.
package events

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/nxclaw/nxclaw/internal/fsutil"
)

// Event is one observability record. Seq is monotonic per process.
type Event struct {
	Seq     int64          `json:"seq"`
	TS      int64          `json:"ts"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// Listener receives every event synchronously at emit time.
type Listener func(Event)

// Config tunes the bus. Zero values fall back to defaults.
type Config struct {
	// Path is the JSONL sink. Empty disables file persistence.
	Path string
	// BufferSize bounds the in-memory ring (default 500).
	BufferSize int
	// MaxFileBytes triggers rotation to <path>.1 (default 5 MiB).
	MaxFileBytes int64
	// FlushInterval is the debounce window for batched writes (default 500ms).
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// Bus is the shared event sink. Emission is synchronous to listeners and
// buffered toward the file sink; a flush failure drops the batch without
// affecting the in-memory ring.
type Bus struct {
	mu        sync.Mutex
	cfg       Config
	logger    *slog.Logger
	seq       int64
	ring      []Event
	pending   []Event
	listeners map[int64]Listener
	nextSub   int64
	flushTmr  *time.Timer
	closed    bool
}

// NewBus creates a bus with the given configuration.
func NewBus(cfg Config) *Bus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 500
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = 5 * 1024 * 1024
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		cfg:       cfg,
		logger:    logger.With("component", "events"),
		ring:      make([]Event, 0, cfg.BufferSize),
		listeners: make(map[int64]Listener),
	}
}

// Emit records an event, notifies listeners synchronously, and schedules a
// debounced flush toward the JSONL sink.
func (b *Bus) Emit(eventType string, payload map[string]any) Event {
	b.mu.Lock()
	b.seq++
	ev := Event{
		Seq:     b.seq,
		TS:      time.Now().UnixMilli(),
		Type:    eventType,
		Payload: payload,
	}

	b.ring = append(b.ring, ev)
	if len(b.ring) > b.cfg.BufferSize {
		b.ring = b.ring[len(b.ring)-b.cfg.BufferSize:]
	}

	listeners := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}

	if b.cfg.Path != "" && !b.closed {
		b.pending = append(b.pending, ev)
		b.scheduleFlushLocked()
	}
	b.mu.Unlock()

	for _, l := range listeners {
		l(ev)
	}
	return ev
}

// On registers a listener and returns its unsubscribe function.
func (b *Bus) On(l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	id := b.nextSub
	b.listeners[id] = l
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

// GetRecent returns up to limit most-recent events, oldest first.
func (b *Bus) GetRecent(limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > len(b.ring) {
		limit = len(b.ring)
	}
	out := make([]Event, limit)
	copy(out, b.ring[len(b.ring)-limit:])
	return out
}

// scheduleFlushLocked arms the debounce timer if not already armed.
func (b *Bus) scheduleFlushLocked() {
	if b.flushTmr != nil {
		return
	}
	b.flushTmr = time.AfterFunc(b.cfg.FlushInterval, b.flush)
}

// flush writes the pending batch to disk, rotating first when the file would
// exceed the configured size. A failed batch is dropped by design.
func (b *Bus) flush() {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.flushTmr = nil
	path := b.cfg.Path
	maxBytes := b.cfg.MaxFileBytes
	b.mu.Unlock()

	if len(batch) == 0 || path == "" {
		return
	}

	var buf []byte
	for _, ev := range batch {
		line, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	if fsutil.FileSize(path)+int64(len(buf)) > maxBytes {
		if err := os.Rename(path, path+".1"); err != nil && !os.IsNotExist(err) {
			b.logger.Warn("event log rotation failed", "error", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, fsutil.FileMode)
	if err != nil {
		b.logger.Warn("event flush failed", "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(buf); err != nil {
		b.logger.Warn("event flush failed", "error", err)
	}
}

// Flush forces any pending batch to disk. Used at shutdown and in tests.
func (b *Bus) Flush() {
	b.mu.Lock()
	if b.flushTmr != nil {
		b.flushTmr.Stop()
		b.flushTmr = nil
	}
	b.mu.Unlock()
	b.flush()
}

// Close flushes and stops accepting file writes. Listeners keep working so a
// shutting-down process can still observe its own teardown.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.Flush()
}

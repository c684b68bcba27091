// Package memory implements the multi-layer knowledge substrate: an
// append-only raw conversation log, markdown tiers (daily, session, SOUL,
// long-term), a hash-keyed embedding cache, a hybrid BM25+vector knowledge
// index, and threshold-based compaction into summarized long-term records.
package memory

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/nxclaw/nxclaw/internal/fsutil"
	"github.com/nxclaw/nxclaw/internal/workspace"
)

// SearchConfig tunes hybrid scoring.
type SearchConfig struct {
	VectorWeight float64 `json:"vectorWeight"`
	TextWeight   float64 `json:"textWeight"`
	MinScore     float64 `json:"minScore"`
}

// weights normalizes so vector+text sum to 1, defaulting to 0.65/0.35.
func (c SearchConfig) weights() (vector, text float64) {
	vector, text = c.VectorWeight, c.TextWeight
	if vector <= 0 && text <= 0 {
		return 0.65, 0.35
	}
	total := vector + text
	return vector / total, text / total
}

// Config configures the store.
type Config struct {
	Vector               VectorConfig `json:"vector"`
	Search               SearchConfig `json:"search"`
	SessionMemoryEnabled bool         `json:"sessionMemoryEnabled"`
	ExtraPaths           []string     `json:"extraPaths,omitempty"`

	// CompactThreshold is the raw-entry count that triggers compaction
	// (default 120). CompactBatch entries move per cycle (default 250),
	// always keeping the most recent KeepRecent entries (default 80).
	CompactThreshold int `json:"compactThreshold"`
	CompactBatch     int `json:"compactBatch"`
	KeepRecent       int `json:"keepRecent"`

	Logger *slog.Logger `json:"-"`
	// Emit publishes store events to the shared bus; optional.
	Emit func(eventType string, payload map[string]any) `json:"-"`
	// Summarize, when set, produces the compaction summary (typically via
	// the model provider). Nil falls back to an extractive digest.
	Summarize func(ctx context.Context, batch []RawEntry) (string, error) `json:"-"`
}

// Store is the memory subsystem root. All mutation goes through its API;
// the raw log and index files are single-writer by construction.
type Store struct {
	cfg      Config
	paths    workspace.Paths
	logger   *slog.Logger
	embedder Embedder

	mu             sync.Mutex
	raw            []RawEntry
	notes          []Note
	chunks         []Chunk
	textIdx        *textIndex
	cache          map[string][]float32
	dirty          bool
	lastIndexedAt  time.Time
	lastIndexError string

	indexMu sync.Mutex // serializes SyncKnowledgeIndex

	watcher   *watcher
	closeOnce sync.Once
}

// NewStore loads existing raw entries, notes, the persisted index, and the
// embedding cache, then starts the filesystem watcher.
func NewStore(paths workspace.Paths, cfg Config) (*Store, error) {
	if cfg.CompactThreshold <= 0 {
		cfg.CompactThreshold = 120
	}
	if cfg.CompactBatch <= 0 {
		cfg.CompactBatch = 250
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = 80
	}
	if cfg.Search.MinScore == 0 {
		cfg.Search.MinScore = 0.12
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "memory")

	embedder, err := newEmbedder(cfg.Vector)
	if err != nil {
		logger.Warn("embedding provider unavailable, falling back to local", "error", err)
		embedder = &localEmbedder{dims: max(cfg.Vector.Dims, 256)}
	}

	s := &Store{
		cfg:      cfg,
		paths:    paths,
		logger:   logger,
		embedder: embedder,
		cache:    make(map[string][]float32),
		dirty:    true,
	}

	if err := paths.EnsureLayout(); err != nil {
		return nil, err
	}
	s.loadRaw()
	s.loadNotes()
	s.loadPersistedIndex()
	s.loadEmbeddingCache()

	s.watcher = newWatcher(s)
	if err := s.watcher.start(); err != nil {
		logger.Warn("memory watcher unavailable", "error", err)
	}
	return s, nil
}

func (s *Store) emit(eventType string, payload map[string]any) {
	if s.cfg.Emit != nil {
		s.cfg.Emit(eventType, payload)
	}
}

// loadRaw reads the raw JSONL log; a corrupt file is backed up and skipped.
func (s *Store) loadRaw() {
	path := s.paths.RawMemoryFile()
	var entries []RawEntry
	_, err := fsutil.ReadJSONL(path, func(line []byte) error {
		var e RawEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		s.logger.Warn("raw memory log has unreadable lines", "error", err)
	}
	s.raw = entries
}

func (s *Store) loadNotes() {
	var notes []Note
	_, err := fsutil.ReadJSONL(s.paths.CompactLogFile(), func(line []byte) error {
		var n Note
		if err := json.Unmarshal(line, &n); err != nil {
			return err
		}
		notes = append(notes, n)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		s.logger.Warn("long-term log has unreadable lines", "error", err)
	}
	s.notes = notes
}

// GetRecent returns the newest limit raw entries, oldest first.
func (s *Store) GetRecent(limit int) []RawEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.raw) {
		limit = len(s.raw)
	}
	out := make([]RawEntry, limit)
	copy(out, s.raw[len(s.raw)-limit:])
	return out
}

// GetStats reports store counters for the dashboard.
func (s *Store) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		RawEntries:     len(s.raw),
		Notes:          len(s.notes),
		Chunks:         len(s.chunks),
		CachedVectors:  len(s.cache),
		VectorEnabled:  s.cfg.Vector.Enabled,
		Provider:       s.embedder.Name(),
		Dims:           s.embedder.Dims(),
		LastIndexedAt:  s.lastIndexedAt,
		LastIndexError: s.lastIndexError,
	}
}

// Shutdown stops the watcher. Pending state is already on disk because every
// write path persists before returning.
func (s *Store) Shutdown() {
	s.closeOnce.Do(func() {
		if s.watcher != nil {
			s.watcher.stop()
		}
	})
}

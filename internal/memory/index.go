package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nxclaw/nxclaw/internal/fsutil"
)

// persistedIndex is the on-disk form of the knowledge index.
type persistedIndex struct {
	IndexedAt time.Time `json:"indexedAt"`
	Chunks    []Chunk   `json:"chunks"`
}

// loadPersistedIndex restores chunks and text statistics from the last run so
// search works before the first resync.
func (s *Store) loadPersistedIndex() {
	path := s.paths.MemoryIndexFile()
	var idx persistedIndex
	if err := fsutil.ReadJSON(path, &idx); err != nil {
		if !os.IsNotExist(err) {
			if backup, berr := fsutil.BackupCorrupt(path); berr == nil {
				s.logger.Warn("memory index unreadable, backed up", "backup", backup)
			} else {
				s.logger.Warn("memory index unreadable", "error", err)
			}
		}
		return
	}
	s.chunks = idx.Chunks
	s.textIdx = buildTextIndex(idx.Chunks)
	s.lastIndexedAt = idx.IndexedAt
}

// loadEmbeddingCache restores the hash-keyed vector cache.
func (s *Store) loadEmbeddingCache() {
	path := s.paths.EmbeddingCacheFile()
	cache := make(map[string][]float32)
	if err := fsutil.ReadJSON(path, &cache); err != nil {
		if !os.IsNotExist(err) {
			if backup, berr := fsutil.BackupCorrupt(path); berr == nil {
				s.logger.Warn("embedding cache unreadable, backed up", "backup", backup)
			} else {
				s.logger.Warn("embedding cache unreadable", "error", err)
			}
		}
		return
	}
	s.cache = cache
}

// indexSource pairs a markdown file with its chunking treatment.
type indexSource struct {
	path       string
	sourceType SourceType
	sections   bool
}

// collectSources enumerates every markdown file that feeds the index.
func (s *Store) collectSources() []indexSource {
	var sources []indexSource
	add := func(path string, st SourceType, sections bool) {
		if fsutil.FileSize(path) > 0 {
			sources = append(sources, indexSource{path: path, sourceType: st, sections: sections})
		}
	}

	add(s.paths.LongTermFile(), SourceMain, false)
	add(s.paths.SoulFile(), SourceSoul, true)

	// Daily files live directly under the workspace memory dir.
	if entries, err := os.ReadDir(s.paths.WorkspaceMemDir()); err == nil {
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}
			add(filepath.Join(s.paths.WorkspaceMemDir(), entry.Name()), SourceDaily, true)
		}
	}

	if s.cfg.SessionMemoryEnabled {
		if files, err := fsutil.WalkMarkdown(s.paths.SessionsDir()); err == nil {
			for _, f := range files {
				add(f, SourceSession, true)
			}
		}
	}
	if files, err := fsutil.WalkMarkdown(s.paths.CompactMdDir()); err == nil {
		for _, f := range files {
			add(f, SourceCompact, true)
		}
	}
	if files, err := fsutil.WalkMarkdown(s.paths.SoulJournalDir()); err == nil {
		for _, f := range files {
			add(f, SourceSoul, true)
		}
	}
	for _, extra := range s.cfg.ExtraPaths {
		info, err := os.Stat(extra)
		if err != nil {
			continue
		}
		if info.IsDir() {
			if files, werr := fsutil.WalkMarkdown(extra); werr == nil {
				for _, f := range files {
					add(f, SourceExtra, false)
				}
			}
			continue
		}
		add(extra, SourceExtra, false)
	}
	return sources
}

// SyncKnowledgeIndex rebuilds the chunk corpus from the markdown tiers,
// embedding only content whose hash is not already cached, and persists the
// index and cache atomically. Concurrent calls serialize; a call that finds
// the store clean returns immediately.
func (s *Store) SyncKnowledgeIndex(ctx context.Context) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	started := time.Now()
	var chunks []Chunk
	for _, src := range s.collectSources() {
		data, err := os.ReadFile(src.path)
		if err != nil {
			s.logger.Warn("index source unreadable", "path", src.path, "error", err)
			continue
		}
		if src.sections {
			chunks = append(chunks, chunkSections(src.path, src.sourceType, string(data))...)
		} else {
			chunks = append(chunks, chunkWindows(src.path, src.sourceType, string(data))...)
		}
	}

	if s.cfg.Vector.Enabled {
		if err := s.embedChunks(ctx, chunks); err != nil {
			s.mu.Lock()
			s.lastIndexError = err.Error()
			s.mu.Unlock()
			return err
		}
	}

	idx := persistedIndex{IndexedAt: started, Chunks: chunks}
	if err := fsutil.WriteJSONAtomic(s.paths.MemoryIndexFile(), idx); err != nil {
		return fmt.Errorf("persist memory index: %w", err)
	}

	s.mu.Lock()
	s.chunks = chunks
	s.textIdx = buildTextIndex(chunks)
	s.lastIndexedAt = started
	s.lastIndexError = ""
	s.dirty = false
	cacheCopy := make(map[string][]float32, len(s.cache))
	for k, v := range s.cache {
		cacheCopy[k] = v
	}
	s.mu.Unlock()

	if s.cfg.Vector.Enabled && s.cfg.Vector.CacheEnabled {
		if err := fsutil.WriteJSONAtomic(s.paths.EmbeddingCacheFile(), cacheCopy); err != nil {
			s.logger.Warn("persist embedding cache failed", "error", err)
		}
	}

	s.logger.Debug("knowledge index synced",
		"chunks", len(chunks), "elapsed", time.Since(started).Round(time.Millisecond))
	s.emit("memory.indexed", map[string]any{"chunks": len(chunks)})
	return nil
}

// embedChunks fills chunk vectors, reusing cached vectors by content hash and
// batch-embedding only the misses.
func (s *Store) embedChunks(ctx context.Context, chunks []Chunk) error {
	s.mu.Lock()
	var missIdx []int
	seen := make(map[string]bool)
	for i := range chunks {
		if vec, ok := s.cache[chunks[i].ContentHash]; ok {
			chunks[i].Vector = vec
			continue
		}
		if !seen[chunks[i].ContentHash] {
			seen[chunks[i].ContentHash] = true
			missIdx = append(missIdx, i)
		}
	}
	s.mu.Unlock()

	if len(missIdx) == 0 {
		s.fillFromCache(chunks)
		return nil
	}

	batchSize := s.cfg.Vector.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}
	for start := 0; start < len(missIdx); start += batchSize {
		end := start + batchSize
		if end > len(missIdx) {
			end = len(missIdx)
		}
		batch := missIdx[start:end]
		texts := make([]string, len(batch))
		for j, idx := range batch {
			texts[j] = chunks[idx].Text
		}
		vecs, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}
		if len(vecs) != len(batch) {
			return fmt.Errorf("embed batch: got %d vectors for %d inputs", len(vecs), len(batch))
		}
		s.mu.Lock()
		for j, idx := range batch {
			chunks[idx].Vector = vecs[j]
			s.cache[chunks[idx].ContentHash] = vecs[j]
		}
		s.mu.Unlock()
	}

	s.fillFromCache(chunks)
	return nil
}

// fillFromCache resolves duplicate-hash chunks that were skipped during the
// miss scan.
func (s *Store) fillFromCache(chunks []Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range chunks {
		if chunks[i].Vector == nil {
			chunks[i].Vector = s.cache[chunks[i].ContentHash]
		}
	}
}

// MarkDirty flags the index for resync on the next search.
func (s *Store) MarkDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

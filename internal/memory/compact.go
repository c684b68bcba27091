package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nxclaw/nxclaw/internal/fsutil"
)

// importancePattern flags raw entries that must survive compaction as
// individual long-term notes rather than being folded into a summary.
var importancePattern = regexp.MustCompile(`(?i)\b(remember (this|that)|important|don'?t forget|do not forget|note to self|never do|always do)\b`)

// IsImportant reports whether text matches the importance pattern. The
// orchestrator uses it to decide when a reply earns a soul-journal entry.
func IsImportant(text string) bool {
	return importancePattern.MatchString(text)
}

// CompactIfNeeded folds the oldest raw entries into a summarized long-term
// note once the raw log exceeds its threshold. The most recent KeepRecent
// entries always stay; entries matching the importance pattern are promoted
// to standalone notes before the batch is summarized. Returns true when a
// compaction cycle ran.
func (s *Store) CompactIfNeeded(ctx context.Context) (bool, error) {
	return s.compactCycle(ctx, false)
}

// CompactNow runs a compaction cycle even below the threshold; only the
// KeepRecent tail is exempt. Backs the dashboard's explicit compact.
func (s *Store) CompactNow(ctx context.Context) (bool, error) {
	return s.compactCycle(ctx, true)
}

func (s *Store) compactCycle(ctx context.Context, force bool) (bool, error) {
	s.mu.Lock()
	total := len(s.raw)
	if !force && total <= s.cfg.CompactThreshold {
		s.mu.Unlock()
		return false, nil
	}
	batchEnd := total - s.cfg.KeepRecent
	if batchEnd > s.cfg.CompactBatch {
		batchEnd = s.cfg.CompactBatch
	}
	if batchEnd <= 0 {
		s.mu.Unlock()
		return false, nil
	}
	batch := make([]RawEntry, batchEnd)
	copy(batch, s.raw[:batchEnd])
	s.mu.Unlock()

	// Flush flagged entries first so their exact wording survives in both
	// the long-term file and today's daily file.
	for _, entry := range batch {
		if !importancePattern.MatchString(entry.Content) {
			continue
		}
		if _, err := s.AddNote(NoteInput{
			Title:   firstLine(entry.Content, 80),
			Content: entry.Content,
			Source:  "compaction-flush",
			Tags:    entry.Tags,
		}); err != nil {
			s.logger.Warn("importance flush failed", "id", entry.ID, "error", err)
		}
		if err := s.Annotate("flushed", firstLine(entry.Content, 140)); err != nil {
			s.logger.Warn("daily flush mirror failed", "id", entry.ID, "error", err)
		}
	}

	summary, err := s.summarize(ctx, batch)
	if err != nil {
		return false, fmt.Errorf("summarize batch: %w", err)
	}

	now := time.Now()
	rangeLabel := fmt.Sprintf("%s .. %s",
		batch[0].CreatedAt.Format("2006-01-02 15:04"),
		batch[len(batch)-1].CreatedAt.Format("2006-01-02 15:04"))

	mdPath := filepath.Join(s.paths.CompactMdDir(), "compact-"+now.Format("20060102-150405")+".md")
	var md strings.Builder
	fmt.Fprintf(&md, "# Compaction %s\n\n", now.Format("2006-01-02 15:04"))
	fmt.Fprintf(&md, "%d entries, %s\n\n", len(batch), rangeLabel)
	md.WriteString(summary)
	md.WriteString("\n")
	if err := fsutil.WriteFileAtomic(mdPath, []byte(md.String())); err != nil {
		return false, fmt.Errorf("write compaction markdown: %w", err)
	}

	note := Note{
		ID:             uuid.NewString(),
		Title:          fmt.Sprintf("Compacted %d entries (%s)", len(batch), rangeLabel),
		Content:        summary,
		Source:         "compaction",
		CreatedAt:      now,
		CompactedRange: rangeLabel,
		CompactedCount: len(batch),
		MarkdownPath:   mdPath,
	}
	if err := fsutil.AppendJSONL(s.paths.CompactLogFile(), note); err != nil {
		return false, fmt.Errorf("append long-term log: %w", err)
	}
	if err := s.appendLongTermBlock(note); err != nil {
		s.logger.Warn("long-term markdown mirror failed", "error", err)
	}
	if err := s.appendSoulJournal(now, fmt.Sprintf("\n## %s — compaction\n\nFolded %d raw entries (%s) into long-term memory.\n",
		now.Format("15:04:05"), len(batch), rangeLabel)); err != nil {
		s.logger.Warn("soul journal append failed", "error", err)
	}

	s.mu.Lock()
	s.notes = append(s.notes, note)
	// Entries may have been appended since the snapshot; drop exactly the
	// batch prefix by count.
	remaining := make([]RawEntry, len(s.raw)-batchEnd)
	copy(remaining, s.raw[batchEnd:])
	err = s.rewriteRawLocked(remaining)
	s.dirty = true
	s.mu.Unlock()
	if err != nil {
		return false, err
	}

	s.emit("memory.compacted", map[string]any{
		"entries": len(batch),
		"range":   rangeLabel,
	})
	s.logger.Info("compacted raw memory", "entries", len(batch), "remaining", len(remaining))

	if err := s.SyncKnowledgeIndex(ctx); err != nil {
		s.logger.Warn("post-compaction reindex failed", "error", err)
	}
	return true, nil
}

// summarize produces the long-term text for a batch: the configured
// Summarize hook when present, otherwise a deterministic extractive digest.
func (s *Store) summarize(ctx context.Context, batch []RawEntry) (string, error) {
	if s.cfg.Summarize != nil {
		summary, err := s.cfg.Summarize(ctx, batch)
		if err == nil && strings.TrimSpace(summary) != "" {
			return strings.TrimSpace(summary), nil
		}
		if err != nil {
			s.logger.Warn("summarize hook failed, using extractive digest", "error", err)
		}
	}
	return extractiveDigest(batch), nil
}

// extractiveDigest builds a bounded bullet list of entry first-lines with
// per-actor counts and top keywords. It loses detail but never loses the
// thread entirely.
func extractiveDigest(batch []RawEntry) string {
	counts := map[Actor]int{}
	freq := map[string]int{}
	for _, e := range batch {
		counts[e.Actor]++
		for _, tok := range tokenize(e.Content) {
			freq[tok]++
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d user turns, %d assistant turns.\n", counts[ActorUser], counts[ActorAssistant])
	if keywords := topKeywords(freq, 10); len(keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s.\n", strings.Join(keywords, ", "))
	}
	b.WriteString("\n")

	const maxBullets = 40
	step := 1
	if len(batch) > maxBullets {
		step = (len(batch) + maxBullets - 1) / maxBullets
	}
	for i := 0; i < len(batch); i += step {
		e := batch[i]
		fmt.Fprintf(&b, "- [%s %s] %s\n", e.CreatedAt.Format("01-02 15:04"), e.Actor, firstLine(e.Content, 140))
	}
	return strings.TrimRight(b.String(), "\n")
}

// topKeywords returns the n most frequent tokens, ties broken alphabetically.
func topKeywords(freq map[string]int, n int) []string {
	words := make([]string, 0, len(freq))
	for w := range freq {
		if freq[w] > 1 {
			words = append(words, w)
		}
	}
	sort.Slice(words, func(i, j int) bool {
		if freq[words[i]] != freq[words[j]] {
			return freq[words[i]] > freq[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > n {
		words = words[:n]
	}
	return words
}

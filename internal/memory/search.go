package memory

import (
	"context"
	"math"
	"sort"
	"strings"
)

// BM25 parameters, fixed by design.
const (
	bm25K1 = 1.4
	bm25B  = 0.75
)

// sourceBoost nudges ranking toward curated corpora.
var sourceBoost = map[SourceType]float64{
	SourceMain:    0.06,
	SourceSoul:    0.04,
	SourceDaily:   0.02,
	SourceSession: 0.02,
	SourceCompact: 0.01,
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"her": true, "was": true, "one": true, "our": true, "out": true,
	"has": true, "have": true, "this": true, "that": true, "with": true,
	"they": true, "them": true, "from": true, "what": true, "when": true,
	"your": true, "will": true, "would": true, "there": true, "their": true,
	"about": true, "which": true, "been": true, "were": true, "into": true,
}

// tokenize lowercases, splits on non-alphanumerics, and drops stop words and
// tokens of length <= 2.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) <= 2 || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// textIndex holds the precomputed BM25 statistics over the chunk corpus.
type textIndex struct {
	termFreqs []map[string]int // per chunk
	docLens   []int
	docFreq   map[string]int
	avgDocLen float64
}

// buildTextIndex computes term statistics for the given chunks.
func buildTextIndex(chunks []Chunk) *textIndex {
	idx := &textIndex{
		termFreqs: make([]map[string]int, len(chunks)),
		docLens:   make([]int, len(chunks)),
		docFreq:   make(map[string]int),
	}
	var totalLen int
	for i, chunk := range chunks {
		tf := make(map[string]int)
		tokens := tokenize(chunk.Text)
		for _, tok := range tokens {
			tf[tok]++
		}
		idx.termFreqs[i] = tf
		idx.docLens[i] = len(tokens)
		totalLen += len(tokens)
		for tok := range tf {
			idx.docFreq[tok]++
		}
	}
	if len(chunks) > 0 {
		idx.avgDocLen = float64(totalLen) / float64(len(chunks))
	}
	return idx
}

// bm25 scores query terms against chunk i.
func (idx *textIndex) bm25(i int, terms []string) float64 {
	if i >= len(idx.termFreqs) || idx.avgDocLen == 0 {
		return 0
	}
	tf := idx.termFreqs[i]
	docLen := float64(idx.docLens[i])
	n := float64(len(idx.termFreqs))

	var score float64
	for _, term := range terms {
		f := float64(tf[term])
		if f == 0 {
			continue
		}
		df := float64(idx.docFreq[term])
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		score += idf * (f * (bm25K1 + 1)) / (f + bm25K1*(1-bm25B+bm25B*docLen/idx.avgDocLen))
	}
	return score
}

// cosine returns the non-negative cosine similarity of two unit vectors.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	if dot < 0 {
		return 0
	}
	return dot
}

// Search runs hybrid BM25+vector retrieval over the knowledge index plus
// in-memory raw entries, honoring session scoping rules.
func (s *Store) Search(ctx context.Context, query string, limit int, opts SearchOptions) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 8
	}
	if err := s.SyncKnowledgeIndex(ctx); err != nil {
		// Degraded search over whatever is indexed is better than none.
		s.mu.Lock()
		s.lastIndexError = err.Error()
		s.mu.Unlock()
	}

	terms := tokenize(query)

	var queryVec []float32
	if s.cfg.Vector.Enabled {
		vecs, err := s.embedder.Embed(ctx, []string{query})
		if err == nil && len(vecs) == 1 {
			queryVec = vecs[0]
		}
	}

	s.mu.Lock()
	chunks := make([]Chunk, len(s.chunks))
	copy(chunks, s.chunks)
	idx := s.textIdx
	raw := s.rawScopedLocked(opts.SessionKey)
	s.mu.Unlock()

	sessionPath := ""
	if opts.SessionKey != "" {
		sessionPath = s.paths.SessionFile(opts.SessionKey)
	}

	vectorWeight, textWeight := s.cfg.Search.weights()
	var results []SearchResult
	for i, chunk := range chunks {
		if !chunkEligible(chunk, sessionPath, opts, s.paths.SessionsDir()) {
			continue
		}
		textScore := 0.0
		if idx != nil {
			textScore = idx.bm25(i, terms)
		}
		vecScore := cosine(queryVec, chunk.Vector)
		score := textWeight*textScore + vectorWeight*vecScore + sourceBoost[chunk.SourceType]
		if score < s.cfg.Search.MinScore {
			continue
		}
		chunk.Vector = nil // callers never need the raw vector
		results = append(results, SearchResult{
			Chunk:       chunk,
			TextScore:   textScore,
			VectorScore: vecScore,
			Score:       score,
		})
	}

	// Raw entries from the caller's own session participate as synthetic
	// chunks so recent unindexed turns are findable.
	for _, entry := range raw {
		textScore := overlapScore(terms, entry.Content)
		if textScore <= 0 {
			continue
		}
		score := textWeight * textScore
		if score < s.cfg.Search.MinScore {
			continue
		}
		results = append(results, SearchResult{
			Chunk: Chunk{
				ContentHash: hashText(entry.Content),
				Text:        entry.Content,
				Path:        s.paths.RawMemoryFile(),
				SourceType:  SourceRaw,
			},
			TextScore: textScore,
			Score:     score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// chunkEligible applies session scoping: strict mode admits only the exact
// session file; global mode with a session key excludes other sessions'
// files but keeps general knowledge.
func chunkEligible(chunk Chunk, sessionPath string, opts SearchOptions, sessionsDir string) bool {
	if opts.Mode == ModeSessionStrict {
		if opts.SessionKey == "" {
			return false
		}
		return chunk.Path == sessionPath
	}
	if opts.SessionKey != "" && chunk.SourceType == SourceSession && chunk.Path != sessionPath {
		return false
	}
	if opts.SessionKey == "" && chunk.SourceType == SourceSession {
		// Without a session context, other conversations stay private.
		return false
	}
	_ = sessionsDir
	return true
}

// rawScopedLocked returns in-memory raw entries visible to sessionKey.
// Caller holds s.mu.
func (s *Store) rawScopedLocked(sessionKey string) []RawEntry {
	if sessionKey == "" {
		return nil
	}
	var out []RawEntry
	for _, e := range s.raw {
		if e.SessionKey == sessionKey {
			out = append(out, e)
		}
	}
	return out
}

// overlapScore is a cheap term-overlap ratio used for unindexed raw entries.
func overlapScore(terms []string, content string) float64 {
	if len(terms) == 0 {
		return 0
	}
	have := make(map[string]bool)
	for _, tok := range tokenize(content) {
		have[tok] = true
	}
	matched := 0
	for _, term := range terms {
		if have[term] {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

package memory

import "time"

// Actor identifies who produced a raw conversation entry.
type Actor string

const (
	ActorUser      Actor = "user"
	ActorAssistant Actor = "assistant"
)

// SourceType classifies where a knowledge chunk came from.
type SourceType string

const (
	SourceMain    SourceType = "memory_main"
	SourceDaily   SourceType = "memory_daily"
	SourceSession SourceType = "session"
	SourceExtra   SourceType = "extra"
	SourceSoul    SourceType = "soul"
	SourceCompact SourceType = "compact"
	SourceRaw     SourceType = "raw"
)

// RawEntry is one conversation turn in the append-only raw log.
type RawEntry struct {
	ID         string    `json:"id"`
	Actor      Actor     `json:"actor"`
	Content    string    `json:"content"`
	Source     string    `json:"source,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	SessionKey string    `json:"sessionKey,omitempty"`
}

// Note is a curated long-term record, mirrored into MEMORY.md.
type Note struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	Source         string    `json:"source,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	CompactedRange string    `json:"compactedRange,omitempty"`
	CompactedCount int       `json:"compactedCount,omitempty"`
	MarkdownPath   string    `json:"markdownPath,omitempty"`
}

// Chunk is a bounded slice of a markdown source with its embedding.
type Chunk struct {
	ContentHash string     `json:"contentHash"`
	Text        string     `json:"text"`
	Path        string     `json:"path"`
	SourceType  SourceType `json:"sourceType"`
	StartLine   int        `json:"startLine"`
	EndLine     int        `json:"endLine"`
	Vector      []float32  `json:"vector,omitempty"`
}

// SearchMode selects the scoping rule for hybrid search.
type SearchMode string

const (
	// ModeGlobal searches general knowledge plus the caller's own session.
	ModeGlobal SearchMode = "global"
	// ModeSessionStrict restricts results to the exact session corpus.
	ModeSessionStrict SearchMode = "session_strict"
)

// SearchOptions scopes one search call.
type SearchOptions struct {
	SessionKey string
	Mode       SearchMode
}

// SearchResult is one scored hit.
type SearchResult struct {
	Chunk       Chunk   `json:"chunk"`
	TextScore   float64 `json:"textScore"`
	VectorScore float64 `json:"vectorScore"`
	Score       float64 `json:"score"`
}

// Stats summarizes the store for the dashboard.
type Stats struct {
	RawEntries     int       `json:"rawEntries"`
	Notes          int       `json:"notes"`
	Chunks         int       `json:"chunks"`
	CachedVectors  int       `json:"cachedVectors"`
	VectorEnabled  bool      `json:"vectorEnabled"`
	Provider       string    `json:"provider"`
	Dims           int       `json:"dims"`
	LastIndexedAt  time.Time `json:"lastIndexedAt,omitempty"`
	LastIndexError string    `json:"lastIndexError,omitempty"`
}

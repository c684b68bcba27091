package memory

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

const (
	sectionChunkLimit  = 2200
	mainWindowLimit    = 1400
	defaultWindowLimit = 1100
	windowOverlap      = 180
)

// hashText returns the SHA-1 hex digest used to key embeddings.
func hashText(text string) string {
	sum := sha1.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// chunkSections splits markdown on `##` headings; oversized sections fall
// back to overlapping windows. Used for daily and session files where the
// write path emits one heading per turn.
func chunkSections(path string, sourceType SourceType, content string) []Chunk {
	lines := strings.Split(content, "\n")
	var chunks []Chunk

	sectionStart := 0
	flush := func(start, end int) {
		if end <= start {
			return
		}
		text := strings.TrimSpace(strings.Join(lines[start:end], "\n"))
		if text == "" {
			return
		}
		if len(text) <= sectionChunkLimit {
			chunks = append(chunks, newChunk(path, sourceType, text, start+1, end))
			return
		}
		chunks = append(chunks, windowChunks(path, sourceType, text, start+1, sectionChunkLimit)...)
	}

	for i, line := range lines {
		if i > sectionStart && strings.HasPrefix(line, "## ") {
			flush(sectionStart, i)
			sectionStart = i
		}
	}
	flush(sectionStart, len(lines))
	return chunks
}

// chunkWindows splits content into overlapping fixed-size windows. Used for
// the main long-term file (wider windows) and extra corpora.
func chunkWindows(path string, sourceType SourceType, content string) []Chunk {
	limit := defaultWindowLimit
	if sourceType == SourceMain {
		limit = mainWindowLimit
	}
	text := strings.TrimSpace(content)
	if text == "" {
		return nil
	}
	return windowChunks(path, sourceType, text, 1, limit)
}

// windowChunks walks text in limit-sized steps with a fixed overlap. Line
// numbers are approximate within the window, anchored at startLine.
func windowChunks(path string, sourceType SourceType, text string, startLine, limit int) []Chunk {
	var chunks []Chunk
	runes := []rune(text)
	step := limit - windowOverlap
	if step <= 0 {
		step = limit
	}
	for offset := 0; offset < len(runes); offset += step {
		end := offset + limit
		if end > len(runes) {
			end = len(runes)
		}
		piece := strings.TrimSpace(string(runes[offset:end]))
		if piece != "" {
			lineOffset := strings.Count(string(runes[:offset]), "\n")
			lineSpan := strings.Count(piece, "\n")
			chunks = append(chunks, newChunk(path, sourceType, piece,
				startLine+lineOffset, startLine+lineOffset+lineSpan))
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func newChunk(path string, sourceType SourceType, text string, startLine, endLine int) Chunk {
	return Chunk{
		ContentHash: hashText(text),
		Text:        text,
		Path:        path,
		SourceType:  sourceType,
		StartLine:   startLine,
		EndLine:     endLine,
	}
}

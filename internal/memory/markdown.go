package memory

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nxclaw/nxclaw/internal/fsutil"
)

// appendDaily mirrors a raw entry into the daily markdown file with a
// timestamped heading.
func (s *Store) appendDaily(entry RawEntry) error {
	path := s.paths.DailyFile(entry.CreatedAt)
	block := fmt.Sprintf("\n## %s — %s\n\n%s\n",
		entry.CreatedAt.Format("15:04:05"), entry.Actor, entry.Content)
	if fsutil.FileSize(path) == 0 {
		header := fmt.Sprintf("# Daily Log %s\n", entry.CreatedAt.Format("2006-01-02"))
		return fsutil.AppendLine(path, header+block)
	}
	return fsutil.AppendLine(path, block)
}

// appendSession mirrors a raw entry into its per-session markdown file.
func (s *Store) appendSession(entry RawEntry) error {
	path := s.paths.SessionFile(entry.SessionKey)
	block := fmt.Sprintf("\n## %s — %s\n\n%s\n",
		entry.CreatedAt.Format("2006-01-02 15:04:05"), entry.Actor, entry.Content)
	if fsutil.FileSize(path) == 0 {
		header := fmt.Sprintf("# Session %s\n", entry.SessionKey)
		return fsutil.AppendLine(path, header+block)
	}
	return fsutil.AppendLine(path, block)
}

// NoteInput describes a curated long-term record.
type NoteInput struct {
	Title   string
	Content string
	Source  string
	Tags    []string
}

// AddNote persists a long-term note to the compact log and mirrors it as a
// block in MEMORY.md, then marks the index dirty.
func (s *Store) AddNote(in NoteInput) (*Note, error) {
	title := strings.TrimSpace(in.Title)
	content := strings.TrimSpace(in.Content)
	if title == "" && content == "" {
		return nil, fmt.Errorf("note requires a title or content")
	}
	if title == "" {
		title = firstLine(content, 80)
	}

	note := Note{
		ID:        uuid.NewString(),
		Title:     title,
		Content:   content,
		Source:    in.Source,
		Tags:      in.Tags,
		CreatedAt: time.Now(),
	}
	if err := fsutil.AppendJSONL(s.paths.CompactLogFile(), note); err != nil {
		return nil, fmt.Errorf("append long-term log: %w", err)
	}
	if err := s.appendLongTermBlock(note); err != nil {
		s.logger.Warn("long-term markdown mirror failed", "error", err)
	}

	s.mu.Lock()
	s.notes = append(s.notes, note)
	s.dirty = true
	s.mu.Unlock()

	s.emit("memory.note", map[string]any{"id": note.ID, "title": note.Title})
	return &note, nil
}

// appendLongTermBlock appends a note block to MEMORY.md, seeding the header
// on first write.
func (s *Store) appendLongTermBlock(note Note) error {
	path := s.paths.LongTermFile()
	var b strings.Builder
	if fsutil.FileSize(path) == 0 {
		b.WriteString("# Long-Term Memory\n")
	}
	fmt.Fprintf(&b, "\n## %s\n\n", note.Title)
	fmt.Fprintf(&b, "_%s", note.CreatedAt.Format("2006-01-02 15:04"))
	if len(note.Tags) > 0 {
		fmt.Fprintf(&b, " · %s", strings.Join(note.Tags, ", "))
	}
	b.WriteString("_\n\n")
	if note.Content != "" {
		b.WriteString(note.Content)
		b.WriteString("\n")
	}
	return fsutil.AppendLine(path, b.String())
}

// ReadSoul returns the current SOUL.md contents, empty when missing.
func (s *Store) ReadSoul() (string, error) {
	data, err := os.ReadFile(s.paths.SoulFile())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// WriteSoul updates SOUL.md. With replace=true the whole file is rewritten
// and the prior text is journaled first so self-edits stay auditable; with
// replace=false the content is appended as a dated section. Either way the
// change is mirrored into today's soul-journal file.
func (s *Store) WriteSoul(content string, replace bool) error {
	content = strings.TrimRight(content, "\n") + "\n"
	now := time.Now()

	if replace {
		prior, err := s.ReadSoul()
		if err != nil {
			return err
		}
		if strings.TrimSpace(prior) != "" {
			entry := fmt.Sprintf("\n## %s — replaced\n\nPrior text:\n\n%s\n", now.Format("15:04:05"), strings.TrimRight(prior, "\n"))
			if err := s.appendSoulJournal(now, entry); err != nil {
				return err
			}
		}
		if err := fsutil.WriteFileAtomic(s.paths.SoulFile(), []byte(content)); err != nil {
			return fmt.Errorf("write soul: %w", err)
		}
	} else {
		block := fmt.Sprintf("\n## %s\n\n%s", now.Format("2006-01-02 15:04"), content)
		if err := fsutil.AppendLine(s.paths.SoulFile(), block); err != nil {
			return fmt.Errorf("append soul: %w", err)
		}
		entry := fmt.Sprintf("\n## %s — appended\n\n%s", now.Format("15:04:05"), content)
		if err := s.appendSoulJournal(now, entry); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
	s.emit("memory.soul", map[string]any{"replace": replace})
	return nil
}

// JournalSoul appends a dated reflection to today's soul-journal file and
// marks the index dirty.
func (s *Store) JournalSoul(text string) error {
	now := time.Now()
	entry := fmt.Sprintf("\n## %s\n\n%s", now.Format("15:04:05"), strings.TrimSpace(text))
	if err := s.appendSoulJournal(now, entry); err != nil {
		return err
	}
	s.MarkDirty()
	return nil
}

func (s *Store) appendSoulJournal(day time.Time, entry string) error {
	path := s.paths.SoulJournalFile(day)
	if fsutil.FileSize(path) == 0 {
		header := fmt.Sprintf("# Soul Journal %s\n", day.Format("2006-01-02"))
		return fsutil.AppendLine(path, header+entry)
	}
	return fsutil.AppendLine(path, entry)
}

// firstLine returns the first line of text truncated to maxLen runes.
func firstLine(text string, maxLen int) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	runes := []rune(text)
	if len(runes) > maxLen {
		return string(runes[:maxLen])
	}
	return text
}

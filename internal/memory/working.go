package memory

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	workingMainLimit  = 4
	workingSoulLimit  = 3
	workingDailyLimit = 6
)

// WorkingContext renders a bounded markdown block of recent memory for
// prompt composition: the newest long-term excerpts, a few SOUL sections,
// and today's plus yesterday's daily headlines. Empty tiers are skipped; an
// empty store yields an empty string.
func (s *Store) WorkingContext() string {
	var b strings.Builder

	if mains := tailSections(s.readFile(s.paths.LongTermFile()), workingMainLimit); len(mains) > 0 {
		b.WriteString("### Long-term memory\n\n")
		for _, sec := range mains {
			b.WriteString(sec)
			b.WriteString("\n\n")
		}
	}

	if souls := tailSections(s.readFile(s.paths.SoulFile()), workingSoulLimit); len(souls) > 0 {
		b.WriteString("### Soul\n\n")
		for _, sec := range souls {
			b.WriteString(sec)
			b.WriteString("\n\n")
		}
	}

	now := time.Now()
	var daily []string
	for _, day := range []time.Time{now.AddDate(0, 0, -1), now} {
		daily = append(daily, tailSections(s.readFile(s.paths.DailyFile(day)), workingDailyLimit)...)
	}
	if len(daily) > workingDailyLimit {
		daily = daily[len(daily)-workingDailyLimit:]
	}
	if len(daily) > 0 {
		b.WriteString("### Recent activity\n\n")
		for _, sec := range daily {
			b.WriteString(sec)
			b.WriteString("\n\n")
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func (s *Store) readFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// tailSections returns the last n `##` sections of a markdown document.
// Text before the first heading is ignored.
func tailSections(content string, n int) []string {
	if strings.TrimSpace(content) == "" || n <= 0 {
		return nil
	}
	lines := strings.Split(content, "\n")
	var sections []string
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(lines[start:end], "\n"))
		if text != "" {
			sections = append(sections, text)
		}
	}
	for i, line := range lines {
		if strings.HasPrefix(line, "## ") {
			flush(i)
			start = i
		}
	}
	flush(len(lines))
	if len(sections) > n {
		sections = sections[len(sections)-n:]
	}
	return sections
}

// Annotate lets callers stamp arbitrary markdown into today's daily file,
// used for autonomous milestones and task completions.
func (s *Store) Annotate(label, content string) error {
	now := time.Now()
	entry := RawEntry{
		Actor:     ActorAssistant,
		Content:   fmt.Sprintf("%s: %s", label, content),
		CreatedAt: now,
	}
	return s.appendDaily(entry)
}

// Package skills manages installable SKILL.md packages: discovery,
// install with size caps, enable/disable state, and bounded prompt-context
// previews.
package skills

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SkillFilename is the definition file every skill directory must carry.
const SkillFilename = "SKILL.md"

const frontmatterDelimiter = "---"

// Skill is one parsed skill package.
type Skill struct {
	// ID is the directory name under skills/, derived from Name.
	ID string `json:"id"`

	// Name is the unique identifier (lowercase, digits, hyphens).
	Name string `json:"name" yaml:"name"`

	// Description says what the skill does and when to reach for it.
	Description string `json:"description" yaml:"description"`

	// Homepage links to documentation.
	Homepage string `json:"homepage,omitempty" yaml:"homepage"`

	// Emoji decorates listings.
	Emoji string `json:"emoji,omitempty" yaml:"emoji"`

	// Version is free-form, informational only.
	Version string `json:"version,omitempty" yaml:"version"`

	// Content is the markdown body after the frontmatter.
	Content string `json:"-"`

	// Dir is where the skill lives on disk.
	Dir string `json:"dir,omitempty"`

	Enabled     bool      `json:"enabled"`
	InstalledAt time.Time `json:"installedAt,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`
}

// ParseSkillFile reads and parses a SKILL.md.
func ParseSkillFile(path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill file: %w", err)
	}
	skill, err := ParseSkill(data)
	if err != nil {
		return nil, err
	}
	skill.Dir = filepath.Dir(path)
	return skill, nil
}

// ParseSkill parses SKILL.md bytes: YAML frontmatter between --- markers,
// markdown body after.
func ParseSkill(data []byte) (*Skill, error) {
	front, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}
	var skill Skill
	if err := yaml.Unmarshal(front, &skill); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	if err := validateName(skill.Name); err != nil {
		return nil, err
	}
	if strings.TrimSpace(skill.Description) == "" {
		return nil, fmt.Errorf("skill description is required")
	}
	skill.ID = skill.Name
	skill.Content = strings.TrimSpace(string(body))
	return &skill, nil
}

func splitFrontmatter(data []byte) ([]byte, []byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return nil, nil, fmt.Errorf("empty skill file")
	}
	if strings.TrimSpace(scanner.Text()) != frontmatterDelimiter {
		return nil, nil, fmt.Errorf("missing opening frontmatter delimiter")
	}

	var front []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == frontmatterDelimiter {
			closed = true
			break
		}
		front = append(front, line)
	}
	if !closed {
		return nil, nil, fmt.Errorf("missing closing frontmatter delimiter")
	}

	var body []string
	for scanner.Scan() {
		body = append(body, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan skill file: %w", err)
	}
	return []byte(strings.Join(front, "\n")), []byte(strings.Join(body, "\n")), nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("skill name is required")
	}
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-') {
			return fmt.Errorf("skill name must be lowercase alphanumeric with hyphens: %q", name)
		}
	}
	return nil
}

// Preview returns the skill header plus the first previewLines body lines,
// for prompt-context injection.
func (s *Skill) Preview(previewLines int) string {
	var b strings.Builder
	if s.Emoji != "" {
		b.WriteString(s.Emoji)
		b.WriteString(" ")
	}
	b.WriteString("**")
	b.WriteString(s.Name)
	b.WriteString("** — ")
	b.WriteString(s.Description)
	lines := strings.Split(s.Content, "\n")
	if len(lines) > previewLines {
		lines = lines[:previewLines]
	}
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		b.WriteString("\n")
		b.WriteString(line)
	}
	return b.String()
}

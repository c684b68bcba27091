// Package fsutil provides the durable-write primitives shared by every
// file-backed store in the runtime: atomic JSON rewrites, append-only JSONL
// and markdown writes, and recursive markdown walks.
package fsutil

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// FileMode is applied to every data file the runtime creates.
	FileMode = 0o600
	// DirMode is applied to every directory the runtime creates.
	DirMode = 0o700
)

// EnsureDir creates dir (and parents) with DirMode if it does not exist.
func EnsureDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("directory path is required")
	}
	return os.MkdirAll(dir, DirMode)
}

// tempPath returns a collision-resistant sibling path for atomic writes.
func tempPath(path string) string {
	return fmt.Sprintf("%s.tmp-%d-%d-%d", path, os.Getpid(), time.Now().UnixNano(), rand.Intn(1_000_000))
}

// WriteFileAtomic writes data to path via a temp file and rename so readers
// never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	tmp := tempPath(path)
	if err := os.WriteFile(tmp, data, FileMode); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// WriteJSONAtomic marshals v with indentation and writes it atomically.
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	return WriteFileAtomic(path, append(data, '\n'))
}

// ReadJSON unmarshals the file at path into v. A missing file returns
// os.ErrNotExist unwrapped so callers can fall back to defaults.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// BackupCorrupt renames an unreadable file to <path>.corrupt-<ts> so the
// caller can start over with defaults without losing evidence.
func BackupCorrupt(path string) (string, error) {
	backup := fmt.Sprintf("%s.corrupt-%s", path, time.Now().Format("20060102-150405"))
	if err := os.Rename(path, backup); err != nil {
		return "", err
	}
	return backup, nil
}

// AppendLine appends a single line of text to path, creating it if needed.
func AppendLine(path, line string) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, FileMode)
	if err != nil {
		return err
	}
	defer f.Close()
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	_, err = f.WriteString(line)
	return err
}

// AppendJSONL marshals v to a single line and appends it to path.
func AppendJSONL(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal jsonl record: %w", err)
	}
	return AppendLine(path, string(data))
}

// ReadJSONL decodes each non-empty line of path, invoking decode with the raw
// line. Lines that fail to decode are skipped; the first decode error is
// returned alongside the successfully decoded count so callers can log it.
func ReadJSONL(path string, decode func(line []byte) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var firstErr error
	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := decode([]byte(line)); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		count++
	}
	if err := scanner.Err(); err != nil && firstErr == nil {
		firstErr = err
	}
	return count, firstErr
}

// ReadLines returns all lines of path. A missing file yields nil, nil.
func ReadLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}

// TailLines returns at most n trailing lines of path.
func TailLines(path string, n int) ([]string, error) {
	lines, err := ReadLines(path)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// WalkMarkdown returns every .md file under root, sorted for deterministic
// indexing. Missing roots yield an empty slice.
func WalkMarkdown(root string) ([]string, error) {
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".md") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// FileSize returns the size of path, or 0 when it does not exist.
func FileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

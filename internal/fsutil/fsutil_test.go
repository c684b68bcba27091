package fsutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteJSONAtomicRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.json")

	in := map[string]any{"name": "alpha", "count": float64(3)}
	if err := WriteJSONAtomic(path, in); err != nil {
		t.Fatalf("WriteJSONAtomic: %v", err)
	}

	var out map[string]any
	if err := ReadJSON(path, &out); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if out["name"] != "alpha" || out["count"] != float64(3) {
		t.Errorf("round trip mismatch: %#v", out)
	}

	// No temp files should survive a successful write.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only state.json, found %d entries", len(entries))
	}
}

func TestWriteFileAtomicMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	if err := WriteFileAtomic(path, []byte("{}")); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != FileMode {
		t.Errorf("mode = %v, want %v", info.Mode().Perm(), os.FileMode(FileMode))
	}
}

func TestAppendJSONLAndRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.jsonl")

	type rec struct {
		ID string `json:"id"`
	}
	for _, id := range []string{"a", "b", "c"} {
		if err := AppendJSONL(path, rec{ID: id}); err != nil {
			t.Fatalf("AppendJSONL(%s): %v", id, err)
		}
	}

	var got []string
	n, err := ReadJSONL(path, func(line []byte) error {
		got = append(got, string(line))
		return nil
	})
	if err != nil {
		t.Fatalf("ReadJSONL: %v", err)
	}
	if n != 3 || len(got) != 3 {
		t.Errorf("decoded %d lines, want 3", n)
	}
}

func TestReadJSONLSkipsBadLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.jsonl")
	if err := AppendLine(path, `{"id":"ok"}`); err != nil {
		t.Fatal(err)
	}
	if err := AppendLine(path, `not-json`); err != nil {
		t.Fatal(err)
	}
	if err := AppendLine(path, `{"id":"ok2"}`); err != nil {
		t.Fatal(err)
	}

	type rec struct {
		ID string `json:"id"`
	}
	count := 0
	n, err := ReadJSONL(path, func(line []byte) error {
		var r rec
		if e := json.Unmarshal(line, &r); e != nil {
			return e
		}
		count++
		return nil
	})
	if err == nil {
		t.Error("expected first decode error to be reported")
	}
	if n != 2 || count != 2 {
		t.Errorf("decoded %d lines, want 2", n)
	}
}

func TestTailLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task.log")
	for _, l := range []string{"one", "two", "three", "four"} {
		if err := AppendLine(path, l); err != nil {
			t.Fatal(err)
		}
	}
	tail, err := TailLines(path, 2)
	if err != nil {
		t.Fatalf("TailLines: %v", err)
	}
	if len(tail) != 2 || tail[0] != "three" || tail[1] != "four" {
		t.Errorf("tail = %v", tail)
	}
}

func TestWalkMarkdown(t *testing.T) {
	dir := t.TempDir()
	for _, p := range []string{"a.md", "sub/b.md", "sub/c.txt"} {
		full := filepath.Join(dir, p)
		if err := EnsureDir(filepath.Dir(full)); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x"), FileMode); err != nil {
			t.Fatal(err)
		}
	}
	files, err := WalkMarkdown(dir)
	if err != nil {
		t.Fatalf("WalkMarkdown: %v", err)
	}
	if len(files) != 2 {
		t.Errorf("found %d markdown files, want 2", len(files))
	}

	none, err := WalkMarkdown(filepath.Join(dir, "missing"))
	if err != nil {
		t.Fatalf("WalkMarkdown(missing): %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no files for missing root, got %d", len(none))
	}
}

func TestBackupCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, []byte("garbage"), FileMode); err != nil {
		t.Fatal(err)
	}
	backup, err := BackupCorrupt(path)
	if err != nil {
		t.Fatalf("BackupCorrupt: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("original should be gone after backup")
	}
	if _, err := os.Stat(backup); err != nil {
		t.Errorf("backup missing: %v", err)
	}
}

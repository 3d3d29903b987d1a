package fs

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	if err := WriteFileAtomic(path, []byte("hello"), 0o600); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("content = %q, want %q", got, "hello")
	}
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("Stat: %v", err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Errorf("perm = %v, want 0600", info.Mode().Perm())
		}
	}

	// Overwrite keeps the file whole.
	if err := WriteFileAtomic(path, []byte("second"), 0o600); err != nil {
		t.Fatalf("WriteFileAtomic overwrite: %v", err)
	}
	got, _ = os.ReadFile(path)
	if string(got) != "second" {
		t.Errorf("content after overwrite = %q", got)
	}
}

func TestWriteFileAtomic_NoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	if err := WriteFileAtomic(filepath.Join(dir, "a"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "a" {
		t.Errorf("unexpected directory contents: %v", entries)
	}
}

func TestWriteJSONAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	type doc struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	if err := WriteJSONAtomic(path, doc{Name: "x", Count: 3}, 0o644); err != nil {
		t.Fatalf("WriteJSONAtomic: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.HasSuffix(string(raw), "\n") {
		t.Error("json document must end with a newline")
	}
	if !strings.Contains(string(raw), "  \"name\"") {
		t.Error("json document must be two-space indented")
	}

	var got doc
	if err := UnmarshalJSON(raw, &got); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if got.Name != "x" || got.Count != 3 {
		t.Errorf("round trip = %+v", got)
	}
}

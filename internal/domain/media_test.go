package domain

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTemporaryMedia_Release(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.ogg")
	if err := os.WriteFile(path, []byte("data"), 0o600); err != nil {
		t.Fatal(err)
	}

	calls := 0
	m := NewTemporaryMedia(path, 4, "audio/ogg", func() { calls++ })
	if err := m.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("file should be removed")
	}
	if err := m.Release(); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if calls != 1 {
		t.Fatalf("onRelease should run once, ran %d times", calls)
	}
}

func TestTemporaryMedia_ReleaseMissingFile(t *testing.T) {
	m := NewTemporaryMedia(filepath.Join(t.TempDir(), "gone"), 0, "", nil)
	if err := m.Release(); err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
}

func TestTemporaryMedia_NilRelease(t *testing.T) {
	var m *TemporaryMedia
	if err := m.Release(); err != nil {
		t.Fatal(err)
	}
}

func TestNewTranscriptionResult(t *testing.T) {
	r := NewTranscriptionResult("  hello world \n")
	if r.Text != "hello world" || r.IsEmpty {
		t.Fatalf("unexpected result %+v", r)
	}
	r = NewTranscriptionResult(" \t\n")
	if !r.IsEmpty || r.Text != "" {
		t.Fatalf("whitespace-only should be empty: %+v", r)
	}
}

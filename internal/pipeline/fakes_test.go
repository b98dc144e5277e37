package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"transcribebot/internal/config"
	"transcribebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMessages() config.MessagesConfig {
	return config.DefaultMessages()
}

type stubValidator struct {
	ok    bool
	calls int
}

func (v *stubValidator) Validate(string, map[string]string, string) bool {
	v.calls++
	return v.ok
}

// diskFetcher writes a real temporary file so release can be observed.
type diskFetcher struct {
	dir   string
	err   error
	mu    sync.Mutex
	calls int
}

func (f *diskFetcher) Fetch(_ context.Context, mediaURL, contentType string) (*domain.TemporaryMedia, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	file, err := os.CreateTemp(f.dir, "media-*.ogg")
	if err != nil {
		return nil, err
	}
	n, _ := file.WriteString("audio:" + mediaURL)
	file.Close()
	return domain.NewTemporaryMedia(file.Name(), int64(n), contentType, nil), nil
}

func (f *diskFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type stubTranscriber struct {
	text      string
	err       error
	mu        sync.Mutex
	calls     int
	sawFile   bool
	lastInput string
}

func (s *stubTranscriber) Name() string { return "stub" }

func (s *stubTranscriber) Transcribe(_ context.Context, path string) (domain.TranscriptionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastInput = path
	_, statErr := os.Stat(path)
	s.sawFile = statErr == nil
	if s.err != nil {
		return domain.TranscriptionResult{}, s.err
	}
	return domain.NewTranscriptionResult(s.text), nil
}

func (s *stubTranscriber) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type sentMessage struct {
	To          string
	Body        string
	TempsAtSend int
}

// recordingSender records sends and how many temp files existed at the
// moment of each send.
type recordingSender struct {
	dir  string
	err  error
	mu   sync.Mutex
	sent []sentMessage
	ch   chan sentMessage
}

func newRecordingSender(dir string) *recordingSender {
	return &recordingSender{dir: dir, ch: make(chan sentMessage, 8)}
}

func (r *recordingSender) Send(_ context.Context, to, body string) error {
	entries, _ := os.ReadDir(r.dir)
	msg := sentMessage{To: to, Body: body, TempsAtSend: len(entries)}
	r.mu.Lock()
	r.sent = append(r.sent, msg)
	r.mu.Unlock()
	r.ch <- msg
	return r.err
}

func (r *recordingSender) Sent() []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentMessage(nil), r.sent...)
}

func (r *recordingSender) wait(t *testing.T) sentMessage {
	t.Helper()
	select {
	case m := <-r.ch:
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for dispatch")
		return sentMessage{}
	}
}

type memoryStore struct {
	mu      sync.Mutex
	records []domain.EventRecord
}

func (m *memoryStore) RecordEvent(_ context.Context, rec domain.EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryStore) RecentEvents(context.Context, int) ([]domain.EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.EventRecord(nil), m.records...), nil
}

func (m *memoryStore) OutcomeCounts(context.Context, time.Time) (map[domain.OutcomeKind]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[domain.OutcomeKind]int{}
	for _, r := range m.records {
		counts[r.Outcome]++
	}
	return counts, nil
}

func (m *memoryStore) Close() error { return nil }

type rejectingPool struct{ err error }

func (p rejectingPool) Submit(string, TaskFunc) (string, error) { return "", p.err }

var errPoolDown = errors.New("down")

// tempCount returns how many files are left in dir.
func tempCount(t *testing.T, dir string) int {
	t.Helper()
	entries, err := filepath.Glob(filepath.Join(dir, "*"))
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func audioForm(sender string) map[string]string {
	return map[string]string{
		domain.FieldFrom:      sender,
		domain.FieldNumMedia:  "1",
		domain.FieldMediaURL:  "https://media.example.com/ME1",
		domain.FieldMediaType: "audio/ogg",
	}
}

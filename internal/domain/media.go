package domain

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"sync"
)

// TemporaryMedia is a downloaded attachment on local disk.
// The flow that receives it from a fetcher owns it and must call Release
// exactly once on every exit path; extra calls are no-ops.
type TemporaryMedia struct {
	path        string
	size        int64
	contentType string

	once      sync.Once
	releaseFn func()
	err       error
}

// NewTemporaryMedia wraps an existing file. onRelease, if set, runs after
// the file is removed.
func NewTemporaryMedia(path string, size int64, contentType string, onRelease func()) *TemporaryMedia {
	return &TemporaryMedia{
		path:        path,
		size:        size,
		contentType: contentType,
		releaseFn:   onRelease,
	}
}

func (m *TemporaryMedia) Path() string        { return m.path }
func (m *TemporaryMedia) Size() int64         { return m.size }
func (m *TemporaryMedia) ContentType() string { return m.contentType }

// Release deletes the file. A file that is already gone is not an error.
func (m *TemporaryMedia) Release() error {
	if m == nil {
		return nil
	}
	m.once.Do(func() {
		if err := os.Remove(m.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.err = err
		}
		if m.releaseFn != nil {
			m.releaseFn()
		}
	})
	return m.err
}

// TranscriptionResult is the normalized output of a transcription engine.
type TranscriptionResult struct {
	Text    string
	IsEmpty bool
}

// NewTranscriptionResult trims raw engine output.
func NewTranscriptionResult(raw string) TranscriptionResult {
	text := strings.TrimSpace(raw)
	return TranscriptionResult{Text: text, IsEmpty: text == ""}
}

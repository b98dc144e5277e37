package domain

import "context"

// MediaFetcher downloads an attachment into a TemporaryMedia owned by the caller.
type MediaFetcher interface {
	Fetch(ctx context.Context, mediaURL, contentType string) (*TemporaryMedia, error)
}

// Transcriber turns an audio file into text. Implementations must be safe
// for concurrent use.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, path string) (TranscriptionResult, error)
}

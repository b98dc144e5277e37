package domain

import (
	"context"
	"time"
)

// EventStore keeps an operational log of processed events. It stores
// outcome metadata only, never message bodies or transcripts.
type EventStore interface {
	RecordEvent(ctx context.Context, rec EventRecord) error
	RecentEvents(ctx context.Context, limit int) ([]EventRecord, error)
	OutcomeCounts(ctx context.Context, since time.Time) (map[OutcomeKind]int, error)
	Close() error
}

type EventRecord struct {
	ID         string      `json:"id"`
	Sender     string      `json:"sender"`
	Mode       string      `json:"mode"` // "sync" | "async"
	Outcome    OutcomeKind `json:"outcome"`
	MediaType  string      `json:"media_type,omitempty"`
	MediaBytes int64       `json:"media_bytes"`
	DurationMs int64       `json:"duration_ms"`
	ErrorKind  string      `json:"error_kind,omitempty"`
	Error      string      `json:"error,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

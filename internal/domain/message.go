package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Form field names posted by the messaging platform.
const (
	FieldFrom       = "From"
	FieldNumMedia   = "NumMedia"
	FieldMediaURL   = "MediaUrl0"
	FieldMediaType  = "MediaContentType0"
	audioTypePrefix = "audio/"
)

// InboundEvent is one webhook call from the messaging platform.
// It is never mutated after ParseInboundEvent returns.
type InboundEvent struct {
	ID               string
	Sender           string
	MediaCount       int
	MediaContentType string // empty when MediaCount == 0
	MediaURL         string // empty when MediaCount == 0
	Form             map[string]string
	ReceivedAt       time.Time
}

// ParseInboundEvent builds an event from the decoded form body.
// A missing or malformed NumMedia counts as zero attachments.
func ParseInboundEvent(form map[string]string) InboundEvent {
	ev := InboundEvent{
		ID:         uuid.NewString(),
		Sender:     strings.TrimSpace(form[FieldFrom]),
		Form:       form,
		ReceivedAt: time.Now(),
	}
	if n, err := strconv.Atoi(strings.TrimSpace(form[FieldNumMedia])); err == nil && n > 0 {
		ev.MediaCount = n
	}
	if ev.MediaCount > 0 {
		ev.MediaContentType = strings.TrimSpace(form[FieldMediaType])
		ev.MediaURL = strings.TrimSpace(form[FieldMediaURL])
	}
	return ev
}

// HasAudio reports whether the first attachment is in the audio/* family.
func (e InboundEvent) HasAudio() bool {
	return IsAudioContentType(e.MediaContentType)
}

// IsAudioContentType reports whether a MIME type belongs to the audio family.
func IsAudioContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	return strings.HasPrefix(strings.ToLower(contentType), audioTypePrefix)
}

// ReplyIntent is one textual reply owed to a sender.
type ReplyIntent struct {
	Recipient string
	Body      string
}

// InboundRequest carries what the validator needs from an HTTP call.
type InboundRequest struct {
	URL       string
	Form      map[string]string
	Signature string
}

// OutcomeKind names the terminal state reached for an inbound event.
type OutcomeKind string

const (
	OutcomeForbidden   OutcomeKind = "forbidden"
	OutcomeHelp        OutcomeKind = "help"
	OutcomeRejected    OutcomeKind = "rejected"
	OutcomeTranscribed OutcomeKind = "transcribed"
	OutcomeProcessing  OutcomeKind = "processing"
	OutcomeFailed      OutcomeKind = "failed"
)

// Outcome is the orchestrator's answer to one inbound request.
type Outcome struct {
	EventID string
	Kind    OutcomeKind
	Reply   string // inline reply body; empty for OutcomeForbidden
	Status  int    // HTTP status for the inline response
	Err     error
}

package domain

import "context"

// RequestValidator checks that a webhook call was signed by the platform.
type RequestValidator interface {
	Validate(requestURL string, form map[string]string, signature string) bool
}

// ReplySender delivers one out-of-band message per call. It is not
// idempotent: a retried call sends a duplicate.
type ReplySender interface {
	Send(ctx context.Context, recipient, body string) error
}

// RequestHandler is the entry point the webhook transport calls.
type RequestHandler interface {
	HandleRequest(ctx context.Context, req InboundRequest) Outcome
}

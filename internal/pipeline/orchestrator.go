// Package pipeline turns inbound webhook events into transcription replies.
package pipeline

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"transcribebot/internal/config"
	"transcribebot/internal/domain"
	"transcribebot/internal/metrics"
)

// Processing modes recorded in the audit log.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// Submitter accepts detached work. *Pool implements it.
type Submitter interface {
	Submit(name string, fn TaskFunc) (string, error)
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Validator   domain.RequestValidator // nil skips signature checks
	Fetcher     domain.MediaFetcher
	Transcriber domain.Transcriber
	Sender      domain.ReplySender
	Store       domain.EventStore // optional audit log
	Pool        Submitter         // required for async replies
	Messages    config.MessagesConfig
	Async       bool
	Logger      *slog.Logger
}

// Orchestrator drives one event from validation to reply:
// Received → Validated → Classified → {help | rejected | processing} → completed.
type Orchestrator struct {
	validator   domain.RequestValidator
	fetcher     domain.MediaFetcher
	transcriber domain.Transcriber
	sender      domain.ReplySender
	store       domain.EventStore
	pool        Submitter
	messages    config.MessagesConfig
	async       bool
	logger      *slog.Logger
}

// New creates an orchestrator. Async replies are disabled when no pool or
// sender is wired.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Async && (cfg.Pool == nil || cfg.Sender == nil) {
		cfg.Logger.Warn("async replies need a worker pool and a sender; replying inline")
		cfg.Async = false
	}
	return &Orchestrator{
		validator:   cfg.Validator,
		fetcher:     cfg.Fetcher,
		transcriber: cfg.Transcriber,
		sender:      cfg.Sender,
		store:       cfg.Store,
		pool:        cfg.Pool,
		messages:    cfg.Messages,
		async:       cfg.Async,
		logger:      cfg.Logger,
	}
}

// HandleRequest verifies the request signature and, when it matches,
// handles the event it carries.
func (o *Orchestrator) HandleRequest(ctx context.Context, req domain.InboundRequest) domain.Outcome {
	ev := domain.ParseInboundEvent(req.Form)

	if o.validator != nil && !o.validator.Validate(req.URL, req.Form, req.Signature) {
		metrics.SignatureRejections.Inc()
		o.logger.Warn("rejected webhook with invalid signature", "event_id", ev.ID, "url", req.URL)
		out := domain.Outcome{EventID: ev.ID, Kind: domain.OutcomeForbidden, Status: http.StatusForbidden}
		o.finish(ctx, ev, out, ModeSync, ev.ReceivedAt, 0)
		return out
	}

	return o.Handle(ctx, ev)
}

// Handle classifies an already validated event and processes it. Work
// started here is not cancelled when ctx is.
func (o *Orchestrator) Handle(ctx context.Context, ev domain.InboundEvent) domain.Outcome {
	start := time.Now()
	ctx = context.WithoutCancel(ctx)

	o.logger.Info("inbound event",
		"event_id", ev.ID,
		"sender", ev.Sender,
		"num_media", ev.MediaCount,
		"content_type", ev.MediaContentType,
	)

	switch {
	case ev.MediaCount == 0:
		out := o.inline(ev, domain.OutcomeHelp, o.messages.Help)
		o.finish(ctx, ev, out, ModeSync, start, 0)
		return out
	case !ev.HasAudio():
		out := o.inline(ev, domain.OutcomeRejected, o.messages.NotAudio)
		o.finish(ctx, ev, out, ModeSync, start, 0)
		return out
	}

	if o.async && ev.Sender != "" {
		_, err := o.pool.Submit("transcribe "+ev.ID, func(context.Context) error {
			return o.processDetached(ctx, ev, start)
		})
		if err == nil {
			metrics.EventsTotal(string(domain.OutcomeProcessing)).Inc()
			return o.inline(ev, domain.OutcomeProcessing, o.messages.Processing)
		}
		metrics.PoolRejections.Inc()
		o.logger.Warn("worker pool unavailable, processing inline", "event_id", ev.ID, "err", err)
	}

	return o.processInline(ctx, ev, start)
}

func (o *Orchestrator) inline(ev domain.InboundEvent, kind domain.OutcomeKind, reply string) domain.Outcome {
	return domain.Outcome{EventID: ev.ID, Kind: kind, Reply: reply, Status: http.StatusOK}
}

// processInline fetches and transcribes, returning the reply for the HTTP
// response. The media is released before this returns.
func (o *Orchestrator) processInline(ctx context.Context, ev domain.InboundEvent, start time.Time) domain.Outcome {
	result, size, err := o.transcribeEvent(ctx, ev)
	if err != nil {
		o.logger.Error("cannot process voice note", "event_id", ev.ID, "err", err)
		out := domain.Outcome{
			EventID: ev.ID,
			Kind:    domain.OutcomeFailed,
			Reply:   o.messages.Error,
			Status:  http.StatusInternalServerError,
			Err:     err,
		}
		o.finish(ctx, ev, out, ModeSync, start, size)
		return out
	}

	out := o.inline(ev, domain.OutcomeTranscribed, o.replyText(result))
	o.finish(ctx, ev, out, ModeSync, start, size)
	return out
}

// processDetached is the body of an async task: fetch, transcribe, release,
// then dispatch the final reply. On failure a best-effort apology is sent.
func (o *Orchestrator) processDetached(ctx context.Context, ev domain.InboundEvent, start time.Time) error {
	result, size, err := o.transcribeEvent(ctx, ev)
	if err != nil {
		o.logger.Error("cannot process voice note", "event_id", ev.ID, "err", err)
		if serr := o.sender.Send(ctx, ev.Sender, o.messages.Error); serr != nil {
			o.logger.Warn("cannot send apology", "event_id", ev.ID, "err", serr)
		}
		o.finish(ctx, ev, o.failed(ev, err), ModeAsync, start, size)
		return err
	}

	text := o.replyText(result)
	if err := o.sender.Send(ctx, ev.Sender, text); err != nil {
		o.logger.Error("cannot dispatch transcript", "event_id", ev.ID, "err", err)
		o.finish(ctx, ev, o.failed(ev, err), ModeAsync, start, size)
		return err
	}

	o.finish(ctx, ev, domain.Outcome{EventID: ev.ID, Kind: domain.OutcomeTranscribed, Reply: text}, ModeAsync, start, size)
	return nil
}

func (o *Orchestrator) failed(ev domain.InboundEvent, err error) domain.Outcome {
	return domain.Outcome{EventID: ev.ID, Kind: domain.OutcomeFailed, Reply: o.messages.Error, Err: err}
}

// transcribeEvent owns the temporary media for its whole life: it is
// released on every path before this returns.
func (o *Orchestrator) transcribeEvent(ctx context.Context, ev domain.InboundEvent) (domain.TranscriptionResult, int64, error) {
	media, err := o.fetcher.Fetch(ctx, ev.MediaURL, ev.MediaContentType)
	if err != nil {
		metrics.FetchFailures.Inc()
		return domain.TranscriptionResult{}, 0, err
	}
	defer func() {
		if rerr := media.Release(); rerr != nil {
			o.logger.Warn("cannot remove temporary media", "event_id", ev.ID, "path", media.Path(), "err", rerr)
		}
	}()

	result, err := o.transcriber.Transcribe(ctx, media.Path())
	return result, media.Size(), err
}

func (o *Orchestrator) replyText(result domain.TranscriptionResult) string {
	if result.IsEmpty {
		return o.messages.NoTranscript
	}
	return result.Text
}

// finish records metrics, the outcome log line and the audit record.
func (o *Orchestrator) finish(ctx context.Context, ev domain.InboundEvent, out domain.Outcome, mode string, start time.Time, mediaBytes int64) {
	elapsed := time.Since(start)
	metrics.EventsTotal(string(out.Kind)).Inc()
	metrics.EventLatency.Observe(elapsed.Seconds())

	attrs := []any{
		"event_id", ev.ID,
		"outcome", out.Kind,
		"mode", mode,
		"elapsed", elapsed,
	}
	if out.Err != nil {
		attrs = append(attrs, "err", out.Err)
	}
	o.logger.Info("event completed", attrs...)

	if o.store == nil {
		return
	}
	rec := domain.EventRecord{
		ID:         ev.ID,
		Sender:     ev.Sender,
		Mode:       mode,
		Outcome:    out.Kind,
		MediaType:  ev.MediaContentType,
		MediaBytes: mediaBytes,
		DurationMs: elapsed.Milliseconds(),
		CreatedAt:  time.Now(),
	}
	if out.Err != nil {
		rec.Error = out.Err.Error()
		if kind, ok := domain.KindOf(out.Err); ok {
			rec.ErrorKind = string(kind)
		}
	}
	if err := o.store.RecordEvent(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.Warn("cannot record event", "event_id", ev.ID, "err", err)
	}
}

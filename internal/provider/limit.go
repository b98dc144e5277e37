package provider

import (
	"context"
	"log/slog"
	"time"

	"transcribebot/internal/domain"
	"transcribebot/internal/metrics"
)

// LimitedTranscriber bounds how many transcriptions run at once. Callers
// beyond the limit wait their turn; a limit of 1 serializes every call.
type LimitedTranscriber struct {
	inner  domain.Transcriber
	sem    chan struct{}
	logger *slog.Logger
}

// NewLimitedTranscriber wraps inner with a semaphore of size maxConcurrent.
func NewLimitedTranscriber(inner domain.Transcriber, maxConcurrent int, logger *slog.Logger) *LimitedTranscriber {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LimitedTranscriber{
		inner:  inner,
		sem:    make(chan struct{}, maxConcurrent),
		logger: logger,
	}
}

func (l *LimitedTranscriber) Name() string { return l.inner.Name() }

// InFlight returns the number of calls currently holding a slot.
func (l *LimitedTranscriber) InFlight() int { return len(l.sem) }

// Transcribe waits for a free slot, then delegates to the wrapped engine.
func (l *LimitedTranscriber) Transcribe(ctx context.Context, path string) (domain.TranscriptionResult, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		metrics.TranscribeFailures.Inc()
		return domain.TranscriptionResult{}, domain.NewError(domain.KindTranscription, "wait for engine", ctx.Err())
	}
	defer func() { <-l.sem }()

	start := time.Now()
	result, err := l.inner.Transcribe(ctx, path)
	if err != nil {
		metrics.TranscribeFailures.Inc()
		if !domain.IsKind(err, domain.KindTranscription) {
			err = domain.NewError(domain.KindTranscription, l.inner.Name(), err)
		}
		l.logger.Warn("transcription failed", "engine", l.inner.Name(), "err", err)
		return domain.TranscriptionResult{}, err
	}
	metrics.TranscribeLatency.ObserveSince(start)
	l.logger.Debug("transcription finished",
		"engine", l.inner.Name(),
		"empty", result.IsEmpty,
		"elapsed", time.Since(start),
	)
	return result, nil
}

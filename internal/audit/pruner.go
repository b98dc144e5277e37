package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"transcribebot/internal/metrics"
)

// Pruner is the part of the store the retention job needs.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// RetentionJob periodically deletes audit events older than the retention
// window on a cron schedule.
type RetentionJob struct {
	store     Pruner
	retention time.Duration
	cron      *cron.Cron
	logger    *slog.Logger
	now       func() time.Time
}

// NewRetentionJob parses schedule (standard five-field spec or a descriptor
// such as "@hourly") and returns a job that is not yet running.
func NewRetentionJob(store Pruner, retention time.Duration, schedule string, logger *slog.Logger) (*RetentionJob, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}

	j := &RetentionJob{
		store:     store,
		retention: retention,
		logger:    logger,
		now:       time.Now,
		cron:      cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	if _, err := j.cron.AddFunc(schedule, func() {
		if _, err := j.RunOnce(context.Background()); err != nil {
			j.logger.Error("audit prune failed", "err", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return j, nil
}

// RunOnce prunes immediately and returns the number of deleted events.
func (j *RetentionJob) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.retention)
	n, err := j.store.Prune(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	metrics.AuditPruned.Add(n)
	return n, nil
}

// Start runs one prune pass and then schedules the rest in the background.
func (j *RetentionJob) Start(ctx context.Context) {
	if _, err := j.RunOnce(ctx); err != nil {
		j.logger.Warn("initial audit prune failed", "err", err)
	}
	j.cron.Start()
	j.logger.Info("audit retention scheduled", "retention", j.retention)
}

// Stop halts scheduling and waits for a running prune to finish or ctx to end.
func (j *RetentionJob) Stop(ctx context.Context) error {
	done := j.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

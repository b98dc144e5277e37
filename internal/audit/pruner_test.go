package audit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcribebot/internal/domain"
)

type countingPruner struct {
	calls  atomic.Int32
	cutoff atomic.Value
	err    error
}

func (p *countingPruner) Prune(_ context.Context, olderThan time.Time) (int64, error) {
	p.calls.Add(1)
	p.cutoff.Store(olderThan)
	return 3, p.err
}

func TestNewRetentionJob_RejectsBadInput(t *testing.T) {
	_, err := NewRetentionJob(&countingPruner{}, 0, "@hourly", testLogger())
	assert.Error(t, err)

	_, err = NewRetentionJob(&countingPruner{}, time.Hour, "not a schedule", testLogger())
	assert.ErrorContains(t, err, "invalid prune schedule")
}

func TestRetentionJob_RunOnceUsesCutoff(t *testing.T) {
	p := &countingPruner{}
	j, err := NewRetentionJob(p, 24*time.Hour, "@daily", testLogger())
	require.NoError(t, err)
	fixed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return fixed }

	n, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, fixed.Add(-24*time.Hour), p.cutoff.Load())
}

func TestRetentionJob_RunOnceWrapsError(t *testing.T) {
	p := &countingPruner{err: errors.New("disk full")}
	j, err := NewRetentionJob(p, time.Hour, "@hourly", testLogger())
	require.NoError(t, err)

	_, err = j.RunOnce(context.Background())
	assert.ErrorContains(t, err, "disk full")
}

func TestRetentionJob_StartPrunesImmediately(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.RecordEvent(ctx, domain.EventRecord{ID: "stale", Mode: "sync", Outcome: domain.OutcomeHelp, CreatedAt: time.Now().Add(-10 * 24 * time.Hour)}))
	require.NoError(t, s.RecordEvent(ctx, domain.EventRecord{ID: "fresh", Mode: "sync", Outcome: domain.OutcomeHelp}))

	j, err := NewRetentionJob(s, 7*24*time.Hour, "@hourly", testLogger())
	require.NoError(t, err)
	j.Start(ctx)
	require.NoError(t, j.Stop(ctx))

	events, err := s.RecentEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "fresh", events[0].ID)
}

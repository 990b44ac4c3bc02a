package processor_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-alert-relay/internal/domain"
	"github.com/couchcryptid/storm-alert-relay/internal/observability"
	"github.com/couchcryptid/storm-alert-relay/internal/processor"
)

type slowProcessor struct {
	delay time.Duration
	done  atomic.Int32
}

func (s *slowProcessor) Process(ctx context.Context, a domain.Alert) (processor.Outcome, error) {
	time.Sleep(s.delay)
	s.done.Add(1)
	return processor.Outcome{Status: processor.StatusPublished, AlertID: a.ID}, ctx.Err()
}

func TestDispatcher_SubmitReturnsImmediately(t *testing.T) {
	proc := &slowProcessor{delay: 100 * time.Millisecond}
	d := processor.NewDispatcher(context.Background(), proc, observability.NewMetricsForTesting(), discard())

	start := time.Now()
	require.True(t, d.Submit(domain.Alert{ID: "A1"}))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Zero(t, proc.done.Load())

	require.NoError(t, d.Wait(context.Background()))
	assert.Equal(t, int32(1), proc.done.Load())
}

func TestDispatcher_DetachedFromCallerCancellation(t *testing.T) {
	proc := &slowProcessor{delay: 20 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	d := processor.NewDispatcher(ctx, proc, observability.NewMetricsForTesting(), discard())

	require.True(t, d.Submit(domain.Alert{ID: "A1"}))
	cancel()

	require.NoError(t, d.Wait(context.Background()))
	assert.Equal(t, int32(1), proc.done.Load())
}

func TestDispatcher_RejectsAfterWait(t *testing.T) {
	d := processor.NewDispatcher(context.Background(), &slowProcessor{}, observability.NewMetricsForTesting(), discard())
	require.NoError(t, d.Wait(context.Background()))
	assert.False(t, d.Submit(domain.Alert{ID: "late"}))
}

func TestDispatcher_WaitTimesOut(t *testing.T) {
	proc := &slowProcessor{delay: 200 * time.Millisecond}
	d := processor.NewDispatcher(context.Background(), proc, observability.NewMetricsForTesting(), discard())
	require.True(t, d.Submit(domain.Alert{ID: "A1"}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Wait(ctx), context.DeadlineExceeded)
}

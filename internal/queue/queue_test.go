package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/courierhq/courier/internal/models"
	"github.com/courierhq/courier/internal/testutil"
)

func newQueue(t *testing.T) *Queue {
	return New(testutil.NewDB(t), zap.NewNop(), DefaultBackoff())
}

func TestEnqueueAndClaim(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	jobID, err := q.Enqueue(ctx, 42, time.Time{})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, jobID, job.ID)
	assert.Equal(t, uint(42), job.PublicationID)
	assert.Equal(t, models.JobStatusClaimed, job.Status)
	assert.Equal(t, 1, job.Attempts)

	// The queue is drained now.
	next, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestClaimRespectsNotBefore(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, 1, time.Now().Add(time.Hour))
	require.NoError(t, err)

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, job, "a delayed job must not be claimable before its time")
}

func TestClaimOrdersByRunAt(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, 2, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, 1, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, uint(1), job.PublicationID, "oldest due job first")
}

func TestCancelPendingJob(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	jobID, err := q.Enqueue(ctx, 7, time.Time{})
	require.NoError(t, err)

	assert.True(t, q.Cancel(ctx, jobID))

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, job, "cancelled jobs must not be claimable")

	// Cancelling again is a no-op.
	assert.False(t, q.Cancel(ctx, jobID))
}

func TestCancelClaimedJobIsBestEffort(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	jobID, err := q.Enqueue(ctx, 7, time.Time{})
	require.NoError(t, err)

	_, err = q.Claim(ctx)
	require.NoError(t, err)

	// A claimed job stays with its worker.
	assert.False(t, q.Cancel(ctx, jobID))
}

func TestFailReschedulesWithBackoff(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, 9, time.Time{})
	require.NoError(t, err)

	job, err := q.Claim(ctx)
	require.NoError(t, err)

	retrying, err := q.Fail(ctx, job, errors.New("network flake"))
	require.NoError(t, err)
	assert.True(t, retrying)

	// Not claimable yet: the first retry waits a minute.
	next, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)

	var stored models.DeliveryJob
	require.NoError(t, q.db.First(&stored, "id = ?", job.ID).Error)
	assert.Equal(t, models.JobStatusPending, stored.Status)
	assert.Equal(t, "network flake", stored.LastError)
	assert.WithinDuration(t, time.Now().Add(time.Minute), stored.RunAt, 5*time.Second)
}

func TestFailAbandonsAfterMaxAttempts(t *testing.T) {
	q := New(testutil.NewDB(t), zap.NewNop(), Backoff{
		Schedule:    []time.Duration{time.Nanosecond},
		MaxAttempts: 2,
	})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, 3, time.Time{})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		job, err := q.Claim(ctx)
		require.NoError(t, err)
		require.NotNil(t, job, "attempt %d", i+1)
		_, err = q.Fail(ctx, job, errors.New("still broken"))
		require.NoError(t, err)
	}

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, job, "abandoned jobs must not be claimable")

	var stored models.DeliveryJob
	require.NoError(t, q.db.First(&stored, "publication_id = ?", 3).Error)
	assert.Equal(t, models.JobStatusAbandoned, stored.Status)
	assert.Equal(t, 2, stored.Attempts)
}

func TestHasActiveJob(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	active, err := q.HasActiveJob(ctx, 5)
	require.NoError(t, err)
	assert.False(t, active)

	_, err = q.Enqueue(ctx, 5, time.Time{})
	require.NoError(t, err)

	active, err = q.HasActiveJob(ctx, 5)
	require.NoError(t, err)
	assert.True(t, active)

	job, err := q.Claim(ctx)
	require.NoError(t, err)

	// Claimed still counts as active.
	active, err = q.HasActiveJob(ctx, 5)
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, q.Complete(ctx, job))

	active, err = q.HasActiveJob(ctx, 5)
	require.NoError(t, err)
	assert.False(t, active)
}

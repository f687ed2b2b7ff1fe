package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/courierhq/courier/internal/models"
	"github.com/courierhq/courier/internal/platform"
	"github.com/courierhq/courier/internal/queue"
	"github.com/courierhq/courier/internal/service"
	"github.com/courierhq/courier/internal/testutil"
	"github.com/courierhq/courier/pkg/ratelimit"
)

// stubAdapter is a controllable twitter stand-in.
type stubAdapter struct {
	mu     sync.Mutex
	err    error
	result platform.PublishResult
	calls  int
	text   string
}

func (a *stubAdapter) Name() string { return "twitter" }

func (a *stubAdapter) Publish(ctx context.Context, req platform.PublishRequest) (*platform.PublishResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.text = req.Text
	if a.err != nil {
		return nil, a.err
	}
	result := a.result
	return &result, nil
}

func (a *stubAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *stubAdapter) lastText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text
}

type harness struct {
	db           *gorm.DB
	queue        *queue.Queue
	publications *service.PublicationService
	adapter      *stubAdapter
	pool         *Pool
}

func newHarness(t *testing.T, backoff queue.Backoff) *harness {
	db := testutil.NewDB(t)
	q := queue.New(db, zap.NewNop(), backoff)
	publications := service.NewPublicationService(db, q, zap.NewNop())

	adapter := &stubAdapter{result: platform.PublishResult{PostID: "post-1", URL: "https://twitter.com/i/web/status/post-1"}}
	registry := platform.NewRegistry(zap.NewNop())
	require.NoError(t, registry.Register(adapter))

	limiter := ratelimit.NewMultiLimiter()
	limiter.AddLimiter(ratelimit.LimiterDelivery, 1000, 1000)

	pool := NewPool(db, q, publications, registry, limiter, Options{
		Concurrency:    1,
		PollInterval:   10 * time.Millisecond,
		PublishTimeout: time.Second,
	}, zap.NewNop())

	return &harness{db: db, queue: q, publications: publications, adapter: adapter, pool: pool}
}

func fastBackoff() queue.Backoff {
	return queue.Backoff{Schedule: []time.Duration{time.Millisecond}, MaxAttempts: 2}
}

func (h *harness) runPool(t *testing.T) {
	t.Helper()
	h.pool.Start(context.Background())
	t.Cleanup(h.pool.Stop)
}

func (h *harness) publication(t *testing.T, id uint) models.Publication {
	t.Helper()
	var pub models.Publication
	require.NoError(t, h.db.First(&pub, id).Error)
	return pub
}

func TestPoolDeliversPublication(t *testing.T) {
	h := newHarness(t, queue.DefaultBackoff())
	content, channel := testutil.Fixture(t, h.db, "twitter")

	pub, err := h.publications.PublishNow(context.Background(), content.ID, channel.ID)
	require.NoError(t, err)

	h.runPool(t)

	require.Eventually(t, func() bool {
		return h.publication(t, pub.ID).Status == models.PublicationStatusPublished
	}, 5*time.Second, 20*time.Millisecond)

	stored := h.publication(t, pub.ID)
	assert.Equal(t, "post-1", stored.PlatformPostID)
	assert.Equal(t, "https://twitter.com/i/web/status/post-1", stored.PlatformURL)
	assert.NotNil(t, stored.PublishedAt)
	assert.Empty(t, stored.ErrorCode)

	var job models.DeliveryJob
	require.NoError(t, h.db.First(&job, "publication_id = ?", pub.ID).Error)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.Attempts)
}

func TestPoolUsesPlatformAdaptation(t *testing.T) {
	h := newHarness(t, queue.DefaultBackoff())
	content, channel := testutil.Fixture(t, h.db, "twitter")
	require.NoError(t, h.db.Model(content).Update("adaptations", models.AdaptationMap{
		"twitter": {Text: "short variant", Length: 13},
	}).Error)

	pub, err := h.publications.PublishNow(context.Background(), content.ID, channel.ID)
	require.NoError(t, err)

	h.runPool(t)

	require.Eventually(t, func() bool {
		return h.publication(t, pub.ID).Status == models.PublicationStatusPublished
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, "short variant", h.adapter.lastText())
}

func TestPoolRetriesTransientFailure(t *testing.T) {
	h := newHarness(t, fastBackoff())
	content, channel := testutil.Fixture(t, h.db, "twitter")
	h.adapter.err = &platform.Error{Code: models.ErrCodePlatformError, Message: "twitter returned 503"}

	pub, err := h.publications.PublishNow(context.Background(), content.ID, channel.ID)
	require.NoError(t, err)

	h.runPool(t)

	// Both attempts run, then the job is abandoned.
	require.Eventually(t, func() bool {
		var job models.DeliveryJob
		if err := h.db.First(&job, "publication_id = ?", pub.ID).Error; err != nil {
			return false
		}
		return job.Status == models.JobStatusAbandoned
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 2, h.adapter.callCount())

	stored := h.publication(t, pub.ID)
	assert.Equal(t, models.PublicationStatusFailed, stored.Status)
	assert.Equal(t, models.ErrCodePlatformError, stored.ErrorCode)
	assert.Equal(t, 2, stored.RetryCount)

	// The channel stays active: the failure was not a credential problem.
	var ch models.Channel
	require.NoError(t, h.db.First(&ch, channel.ID).Error)
	assert.Equal(t, models.ChannelStatusActive, ch.Status)
}

func TestPoolStopsOnCredentialFailure(t *testing.T) {
	h := newHarness(t, queue.DefaultBackoff())
	content, channel := testutil.Fixture(t, h.db, "twitter")
	h.adapter.err = &platform.Error{Code: models.ErrCodeInvalidCredentials, Message: "token expired"}

	pub, err := h.publications.PublishNow(context.Background(), content.ID, channel.ID)
	require.NoError(t, err)

	h.runPool(t)

	require.Eventually(t, func() bool {
		var job models.DeliveryJob
		if err := h.db.First(&job, "publication_id = ?", pub.ID).Error; err != nil {
			return false
		}
		return job.Status == models.JobStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	// One attempt only: retrying with dead credentials is pointless.
	assert.Equal(t, 1, h.adapter.callCount())

	stored := h.publication(t, pub.ID)
	assert.Equal(t, models.PublicationStatusFailed, stored.Status)
	assert.Equal(t, models.ErrCodeInvalidCredentials, stored.ErrorCode)

	var ch models.Channel
	require.NoError(t, h.db.First(&ch, channel.ID).Error)
	assert.Equal(t, models.ChannelStatusError, ch.Status)
	assert.Equal(t, "INVALID_CREDENTIALS: token expired", ch.ErrorMessage)
}

func TestPoolCompletesStaleJob(t *testing.T) {
	h := newHarness(t, queue.DefaultBackoff())
	content, channel := testutil.Fixture(t, h.db, "twitter")

	pub, err := h.publications.PublishNow(context.Background(), content.ID, channel.ID)
	require.NoError(t, err)

	// The publication is rescheduled into the future before a worker picks the
	// job up; the stale job must be dropped without a platform call.
	_, err = h.publications.Reschedule(context.Background(), pub.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	// Rescheduling cancelled the job; enqueue a fresh one to simulate a job
	// that raced past the cancellation.
	_, err = h.queue.Enqueue(context.Background(), pub.ID, time.Time{})
	require.NoError(t, err)

	h.runPool(t)

	require.Eventually(t, func() bool {
		var count int64
		h.db.Model(&models.DeliveryJob{}).
			Where("publication_id = ? AND status IN ?", pub.ID,
				[]string{models.JobStatusPending, models.JobStatusClaimed}).
			Count(&count)
		return count == 0
	}, 5*time.Second, 20*time.Millisecond)

	assert.Zero(t, h.adapter.callCount())
	assert.Equal(t, models.PublicationStatusScheduled, h.publication(t, pub.ID).Status)
}

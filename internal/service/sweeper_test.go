package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/courierhq/courier/internal/config"
	"github.com/courierhq/courier/internal/models"
	"github.com/courierhq/courier/internal/testutil"
)

func newSweeper(t *testing.T) (*Sweeper, *fakeQueue, *gorm.DB) {
	db := testutil.NewDB(t)
	q := &fakeQueue{activeJobs: map[uint]bool{}}
	publications := NewPublicationService(db, q, zap.NewNop())
	cfg := &config.SweeperConfig{Enabled: true, Interval: "1m", LatenessThreshold: "60m"}
	return NewSweeper(cfg, db, q, publications, zap.NewNop()), q, db
}

func duePublication(t *testing.T, db *gorm.DB, contentID, channelID uint) *models.Publication {
	t.Helper()
	due := time.Now().Add(-time.Minute)
	pub := &models.Publication{
		ContentID:   contentID,
		ChannelID:   channelID,
		Status:      models.PublicationStatusScheduled,
		ScheduledAt: &due,
	}
	require.NoError(t, db.Create(pub).Error)
	return pub
}

func TestSweepEnqueuesDuePublications(t *testing.T) {
	sweeper, q, db := newSweeper(t)
	content, channel := testutil.Fixture(t, db, "twitter")
	pub := duePublication(t, db, content.ID, channel.ID)

	// A publication scheduled in the future must be left alone.
	future := testutil.FutureTime()
	notDue := models.Publication{
		ContentID:   content.ID,
		ChannelID:   channel.ID,
		Status:      models.PublicationStatusScheduled,
		ScheduledAt: &future,
	}
	require.NoError(t, db.Create(&notDue).Error)

	require.NoError(t, sweeper.RunOnce(context.Background()))
	assert.Equal(t, []uint{pub.ID}, q.enqueued)
}

func TestSweepFailsInactiveChannel(t *testing.T) {
	sweeper, q, db := newSweeper(t)
	content, channel := testutil.Fixture(t, db, "twitter")
	pub := duePublication(t, db, content.ID, channel.ID)
	require.NoError(t, db.Model(channel).Update("status", models.ChannelStatusInactive).Error)

	require.NoError(t, sweeper.RunOnce(context.Background()))
	assert.Empty(t, q.enqueued)

	var stored models.Publication
	require.NoError(t, db.First(&stored, pub.ID).Error)
	assert.Equal(t, models.PublicationStatusFailed, stored.Status)
	assert.Equal(t, models.ErrCodeChannelInactive, stored.ErrorCode)
	assert.Zero(t, stored.RetryCount)
}

func TestSweepForceFailsOnQueueError(t *testing.T) {
	sweeper, q, db := newSweeper(t)
	content, channel := testutil.Fixture(t, db, "twitter")
	pub := duePublication(t, db, content.ID, channel.ID)
	q.enqueueErr = errors.New("queue unavailable")

	require.NoError(t, sweeper.RunOnce(context.Background()))

	var stored models.Publication
	require.NoError(t, db.First(&stored, pub.ID).Error)
	assert.Equal(t, models.PublicationStatusFailed, stored.Status)
	assert.Equal(t, models.ErrCodeQueueError, stored.ErrorCode)
}

func TestSweepSkipsPublicationsWithActiveJobs(t *testing.T) {
	sweeper, q, db := newSweeper(t)
	content, channel := testutil.Fixture(t, db, "twitter")
	pub := duePublication(t, db, content.ID, channel.ID)
	q.activeJobs[pub.ID] = true

	require.NoError(t, sweeper.RunOnce(context.Background()))
	assert.Empty(t, q.enqueued, "a publication with a live job must not be enqueued twice")

	var stored models.Publication
	require.NoError(t, db.First(&stored, pub.ID).Error)
	assert.Equal(t, models.PublicationStatusScheduled, stored.Status)
}

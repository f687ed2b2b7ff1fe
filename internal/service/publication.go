package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/courierhq/courier/internal/models"
)

// DeliveryQueue is the slice of the queue the publication service needs.
type DeliveryQueue interface {
	Enqueue(ctx context.Context, publicationID uint, notBefore time.Time) (string, error)
	CancelByPublication(ctx context.Context, publicationID uint) bool
}

// Worker-facing outcomes of BeginPublishing.
var (
	// ErrNotActionable means the publication no longer exists or left the
	// scheduled/publishing states; the job should be completed as a no-op.
	ErrNotActionable = errors.New("publication is not in an actionable state")
	// ErrChannelInactive means the publication was failed with
	// CHANNEL_INACTIVE before any platform call; no retry is consumed.
	ErrChannelInactive = errors.New("channel is not active")
)

// PublicationService owns the publication lifecycle: scheduling, the
// transitions workers drive, and the operator actions on failed records.
type PublicationService struct {
	db     *gorm.DB
	queue  DeliveryQueue
	logger *zap.Logger
}

func NewPublicationService(db *gorm.DB, queue DeliveryQueue, logger *zap.Logger) *PublicationService {
	return &PublicationService{
		db:     db,
		queue:  queue,
		logger: logger,
	}
}

// Schedule creates a publication for delivery at a future time. Duplicate
// requests for a (content, channel) pair with a non-terminal publication are
// rejected with a conflict carrying the existing record.
func (s *PublicationService) Schedule(ctx context.Context, contentID, channelID uint, at time.Time) (*models.Publication, error) {
	if !at.After(time.Now()) {
		return nil, validationErrorf("scheduled_at must be in the future")
	}
	return s.create(ctx, contentID, channelID, &at)
}

// PublishNow creates a publication due immediately and enqueues it without
// waiting for the next sweep.
func (s *PublicationService) PublishNow(ctx context.Context, contentID, channelID uint) (*models.Publication, error) {
	now := time.Now()
	pub, err := s.create(ctx, contentID, channelID, &now)
	if err != nil {
		return nil, err
	}

	if _, err := s.queue.Enqueue(ctx, pub.ID, time.Time{}); err != nil {
		// Never leave a due publication stuck: force-fail it so the state is
		// visible rather than silently pending.
		s.FailQueueError(ctx, pub.ID, err)
		return nil, fmt.Errorf("failed to enqueue publication %d: %w", pub.ID, err)
	}
	return pub, nil
}

func (s *PublicationService) create(ctx context.Context, contentID, channelID uint, at *time.Time) (*models.Publication, error) {
	var content models.Content
	if err := s.db.WithContext(ctx).First(&content, contentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundErrorf("content %d not found", contentID)
		}
		return nil, fmt.Errorf("failed to load content: %w", err)
	}

	var channel models.Channel
	if err := s.db.WithContext(ctx).First(&channel, channelID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundErrorf("channel %d not found", channelID)
		}
		return nil, fmt.Errorf("failed to load channel: %w", err)
	}

	// Cross-tenant delivery is forbidden.
	if content.ProductID != channel.ProductID {
		return nil, validationErrorf("content %d and channel %d belong to different products", contentID, channelID)
	}

	// Only one non-terminal publication per (content, channel) pair.
	var existing models.Publication
	err := s.db.WithContext(ctx).
		Where("content_id = ? AND channel_id = ? AND status IN ?",
			contentID, channelID,
			[]string{models.PublicationStatusScheduled, models.PublicationStatusPublishing}).
		First(&existing).Error
	if err == nil {
		return nil, &ConflictError{ExistingID: existing.ID, ScheduledAt: existing.ScheduledAt}
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check for duplicate schedule: %w", err)
	}

	pub := models.Publication{
		ContentID:   contentID,
		ChannelID:   channelID,
		Status:      models.PublicationStatusScheduled,
		ScheduledAt: at,
	}
	if err := s.db.WithContext(ctx).Create(&pub).Error; err != nil {
		return nil, fmt.Errorf("failed to create publication: %w", err)
	}

	s.logger.Info("Publication created",
		zap.Uint("publication_id", pub.ID),
		zap.Uint("content_id", contentID),
		zap.Uint("channel_id", channelID),
		zap.Timep("scheduled_at", at))

	return &pub, nil
}

// Get loads a publication by id.
func (s *PublicationService) Get(ctx context.Context, id uint) (*models.Publication, error) {
	var pub models.Publication
	if err := s.db.WithContext(ctx).First(&pub, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundErrorf("publication %d not found", id)
		}
		return nil, fmt.Errorf("failed to load publication: %w", err)
	}
	return &pub, nil
}

// List returns publications, optionally filtered by status, newest first.
func (s *PublicationService) List(ctx context.Context, status string, limit int) ([]models.Publication, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := s.db.WithContext(ctx).Order("created_at desc").Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var pubs []models.Publication
	if err := query.Find(&pubs).Error; err != nil {
		return nil, fmt.Errorf("failed to list publications: %w", err)
	}
	return pubs, nil
}

// Reschedule moves a scheduled or failed publication to a new future time,
// clearing its error fields. Any pending queue job is cancelled best-effort.
func (s *PublicationService) Reschedule(ctx context.Context, id uint, at time.Time) (*models.Publication, error) {
	if !at.After(time.Now()) {
		return nil, validationErrorf("scheduled_at must be in the future")
	}

	pub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if pub.Status != models.PublicationStatusScheduled && pub.Status != models.PublicationStatusFailed {
		return nil, conflictErrorf("publication %d cannot be rescheduled from status %s", id, pub.Status)
	}

	s.queue.CancelByPublication(ctx, id)

	updates := map[string]interface{}{
		"status":        models.PublicationStatusScheduled,
		"scheduled_at":  at,
		"error_code":    "",
		"error_message": "",
	}
	if err := s.db.WithContext(ctx).Model(pub).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to reschedule publication: %w", err)
	}

	s.logger.Info("Publication rescheduled",
		zap.Uint("publication_id", id),
		zap.Time("scheduled_at", at))

	return s.Get(ctx, id)
}

// Retry re-dispatches a failed publication immediately. The publication moves
// back to publishing and a fresh delivery job is enqueued with a full attempt
// budget; RetryCount keeps accumulating across both automatic and manual
// retries.
func (s *PublicationService) Retry(ctx context.Context, id uint) (*models.Publication, error) {
	pub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if pub.Status != models.PublicationStatusFailed {
		return nil, conflictErrorf("publication %d can only be retried from failed, current status is %s", id, pub.Status)
	}

	if err := s.db.WithContext(ctx).Model(pub).
		Update("status", models.PublicationStatusPublishing).Error; err != nil {
		return nil, fmt.Errorf("failed to mark publication for retry: %w", err)
	}

	if _, err := s.queue.Enqueue(ctx, id, time.Time{}); err != nil {
		s.FailQueueError(ctx, id, err)
		return nil, fmt.Errorf("failed to enqueue retry for publication %d: %w", id, err)
	}

	s.logger.Info("Publication retry requested", zap.Uint("publication_id", id))
	return s.Get(ctx, id)
}

// Cancel deletes a scheduled publication and best-effort removes its queue
// job. A publication that already entered publishing is only cancelled with
// force; workers re-check state before the platform call, so a forced cancel
// of an in-flight job results in a no-op on the worker side.
func (s *PublicationService) Cancel(ctx context.Context, id uint, force bool) error {
	pub, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if pub.Status != models.PublicationStatusScheduled {
		if !force {
			return conflictErrorf("publication %d is %s, pass force to cancel anyway", id, pub.Status)
		}
		if pub.Status != models.PublicationStatusPublishing {
			return conflictErrorf("publication %d is %s and cannot be cancelled", id, pub.Status)
		}
	}

	s.queue.CancelByPublication(ctx, id)

	// Cancellation removes the record entirely; terminal records are kept for
	// audit and never deleted through this path.
	if err := s.db.WithContext(ctx).Unscoped().Delete(&models.Publication{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete publication: %w", err)
	}

	s.logger.Info("Publication cancelled", zap.Uint("publication_id", id), zap.Bool("force", force))
	return nil
}

// BeginPublishing is the worker's entry transition. It re-reads the
// publication (the database wins over whatever the queue believed), verifies
// the channel is still active, and moves the record to publishing with a
// guarded update so a job delivered twice is processed once.
func (s *PublicationService) BeginPublishing(ctx context.Context, id uint) (*models.Publication, *models.Channel, error) {
	var pub models.Publication
	if err := s.db.WithContext(ctx).First(&pub, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotActionable
		}
		return nil, nil, fmt.Errorf("failed to load publication: %w", err)
	}

	// failed is actionable too: the queue's automatic backoff re-attempts a
	// publication the previous attempt already marked failed.
	switch pub.Status {
	case models.PublicationStatusScheduled:
		// A job for a record rescheduled into the future is stale; drop it.
		if pub.ScheduledAt != nil && pub.ScheduledAt.After(time.Now()) {
			return nil, nil, ErrNotActionable
		}
	case models.PublicationStatusPublishing, models.PublicationStatusFailed:
	default:
		return nil, nil, ErrNotActionable
	}

	var channel models.Channel
	if err := s.db.WithContext(ctx).First(&channel, pub.ChannelID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotActionable
		}
		return nil, nil, fmt.Errorf("failed to load channel: %w", err)
	}

	// Channel status is checked immediately before use. An inactive channel
	// fails the publication without consuming a retry.
	if !channel.IsActive() {
		if err := s.FailChannelInactive(ctx, &pub, &channel); err != nil {
			return nil, nil, err
		}
		return nil, nil, ErrChannelInactive
	}

	res := s.db.WithContext(ctx).Model(&models.Publication{}).
		Where("id = ? AND status IN ?", id,
			[]string{models.PublicationStatusScheduled, models.PublicationStatusPublishing, models.PublicationStatusFailed}).
		Update("status", models.PublicationStatusPublishing)
	if res.Error != nil {
		return nil, nil, fmt.Errorf("failed to transition publication to publishing: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil, ErrNotActionable
	}

	pub.Status = models.PublicationStatusPublishing
	return &pub, &channel, nil
}

// MarkPublished records a successful delivery. Guarded on the publishing
// status so a duplicate queue delivery after a crash cannot double-apply.
func (s *PublicationService) MarkPublished(ctx context.Context, id uint, postID, url string) error {
	now := time.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Publication{}).
			Where("id = ? AND status = ?", id, models.PublicationStatusPublishing).
			Updates(map[string]interface{}{
				"status":           models.PublicationStatusPublished,
				"published_at":     now,
				"platform_post_id": postID,
				"platform_url":     url,
				"error_code":       "",
				"error_message":    "",
			})
		if res.Error != nil {
			return fmt.Errorf("failed to mark publication published: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Already processed by another delivery of the same job.
			s.logger.Warn("Skipping duplicate publish result", zap.Uint("publication_id", id))
			return nil
		}

		var pub models.Publication
		if err := tx.First(&pub, id).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.Channel{}).
			Where("id = ?", pub.ChannelID).
			Update("last_used_at", now).Error; err != nil {
			return fmt.Errorf("failed to update channel last used: %w", err)
		}

		if err := tx.Model(&models.Content{}).
			Where("id = ?", pub.ContentID).
			Update("published", true).Error; err != nil {
			return fmt.Errorf("failed to mark content published: %w", err)
		}

		s.logger.Info("Publication published",
			zap.Uint("publication_id", id),
			zap.String("post_id", postID),
			zap.String("url", url))
		return nil
	})
}

// MarkFailed records a failed delivery attempt. When the failure signature
// indicates bad credentials the channel is flipped to error in the same
// transaction, so the next sweep run refuses further dispatch for it.
func (s *PublicationService) MarkFailed(ctx context.Context, id uint, code, message string, credentialFailure bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pub models.Publication
		if err := tx.First(&pub, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		if err := tx.Model(&pub).Updates(map[string]interface{}{
			"status":        models.PublicationStatusFailed,
			"error_code":    code,
			"error_message": message,
			"retry_count":   gorm.Expr("retry_count + 1"),
		}).Error; err != nil {
			return fmt.Errorf("failed to mark publication failed: %w", err)
		}

		if credentialFailure {
			if err := tx.Model(&models.Channel{}).
				Where("id = ?", pub.ChannelID).
				Updates(map[string]interface{}{
					"status":        models.ChannelStatusError,
					"error_message": message,
				}).Error; err != nil {
				return fmt.Errorf("failed to mark channel errored: %w", err)
			}
		}

		s.logger.Warn("Publication failed",
			zap.Uint("publication_id", id),
			zap.String("error_code", code),
			zap.String("error_message", message),
			zap.Bool("credential_failure", credentialFailure))
		return nil
	})
}

// FailChannelInactive fails a publication whose channel cannot be used,
// without consuming a retry.
func (s *PublicationService) FailChannelInactive(ctx context.Context, pub *models.Publication, channel *models.Channel) error {
	msg := fmt.Sprintf("channel %d is %s", channel.ID, channel.Status)
	err := s.db.WithContext(ctx).Model(&models.Publication{}).
		Where("id = ?", pub.ID).
		Updates(map[string]interface{}{
			"status":        models.PublicationStatusFailed,
			"error_code":    models.ErrCodeChannelInactive,
			"error_message": msg,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to fail publication for inactive channel: %w", err)
	}

	s.logger.Warn("Publication failed, channel not active",
		zap.Uint("publication_id", pub.ID),
		zap.Uint("channel_id", channel.ID),
		zap.String("channel_status", channel.Status))
	return nil
}

func (s *PublicationService) FailQueueError(ctx context.Context, id uint, cause error) {
	err := s.db.WithContext(ctx).Model(&models.Publication{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        models.PublicationStatusFailed,
			"error_code":    models.ErrCodeQueueError,
			"error_message": cause.Error(),
		}).Error
	if err != nil {
		s.logger.Error("Failed to record queue error on publication",
			zap.Uint("publication_id", id),
			zap.Error(err))
	}
}

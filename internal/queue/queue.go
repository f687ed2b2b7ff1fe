package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/courierhq/courier/internal/models"
)

// Queue is the DB-backed delivery queue. Delivery is at-least-once: a job may
// be handed out again after a worker crash, so consumers must make their
// success path idempotent.
type Queue struct {
	db      *gorm.DB
	logger  *zap.Logger
	backoff Backoff
}

func New(db *gorm.DB, logger *zap.Logger, backoff Backoff) *Queue {
	return &Queue{
		db:      db,
		logger:  logger,
		backoff: backoff,
	}
}

// Enqueue adds a delivery job for a publication. A zero notBefore means the
// job is due immediately.
func (q *Queue) Enqueue(ctx context.Context, publicationID uint, notBefore time.Time) (string, error) {
	if notBefore.IsZero() {
		notBefore = time.Now()
	}

	job := models.DeliveryJob{
		ID:            uuid.NewString(),
		PublicationID: publicationID,
		Status:        models.JobStatusPending,
		RunAt:         notBefore,
		MaxAttempts:   q.backoff.MaxAttempts,
	}

	if err := q.db.WithContext(ctx).Create(&job).Error; err != nil {
		return "", fmt.Errorf("failed to enqueue delivery job: %w", err)
	}

	q.logger.Debug("Delivery job enqueued",
		zap.String("job_id", job.ID),
		zap.Uint("publication_id", publicationID),
		zap.Time("run_at", notBefore))

	return job.ID, nil
}

// Cancel removes a pending job. Best-effort: a job already claimed by a
// worker stays with that worker, which re-checks publication state before
// acting, so a false return is not an error condition.
func (q *Queue) Cancel(ctx context.Context, jobID string) bool {
	res := q.db.WithContext(ctx).Model(&models.DeliveryJob{}).
		Where("id = ? AND status = ?", jobID, models.JobStatusPending).
		Update("status", models.JobStatusCancelled)
	if res.Error != nil {
		q.logger.Warn("Failed to cancel delivery job",
			zap.String("job_id", jobID),
			zap.Error(res.Error))
		return false
	}
	return res.RowsAffected > 0
}

// CancelByPublication cancels all pending jobs for a publication.
func (q *Queue) CancelByPublication(ctx context.Context, publicationID uint) bool {
	res := q.db.WithContext(ctx).Model(&models.DeliveryJob{}).
		Where("publication_id = ? AND status = ?", publicationID, models.JobStatusPending).
		Update("status", models.JobStatusCancelled)
	if res.Error != nil {
		q.logger.Warn("Failed to cancel delivery jobs for publication",
			zap.Uint("publication_id", publicationID),
			zap.Error(res.Error))
		return false
	}
	return res.RowsAffected > 0
}

// HasActiveJob reports whether a pending or claimed job already exists for a
// publication. The sweep uses this to avoid enqueueing the same due record
// twice when the queue lags behind.
func (q *Queue) HasActiveJob(ctx context.Context, publicationID uint) (bool, error) {
	var count int64
	err := q.db.WithContext(ctx).Model(&models.DeliveryJob{}).
		Where("publication_id = ? AND status IN ?", publicationID,
			[]string{models.JobStatusPending, models.JobStatusClaimed}).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check for active jobs: %w", err)
	}
	return count > 0, nil
}

// Claim pulls the next due pending job and marks it claimed, bumping its
// attempt count. Returns nil when nothing is due. Row locking with SKIP
// LOCKED keeps two workers from claiming the same job on postgres.
func (q *Queue) Claim(ctx context.Context) (*models.DeliveryJob, error) {
	var job models.DeliveryJob
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("status = ? AND run_at <= ?", models.JobStatusPending, time.Now()).
			Order("run_at asc")
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := query.First(&job).Error; err != nil {
			return err
		}

		job.Status = models.JobStatusClaimed
		job.Attempts++
		return tx.Model(&models.DeliveryJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":   job.Status,
				"attempts": job.Attempts,
			}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim delivery job: %w", err)
	}
	return &job, nil
}

// Complete marks a claimed job done.
func (q *Queue) Complete(ctx context.Context, job *models.DeliveryJob) error {
	return q.db.WithContext(ctx).Model(&models.DeliveryJob{}).
		Where("id = ?", job.ID).
		Update("status", models.JobStatusCompleted).Error
}

// Fail records a failed attempt. The job is rescheduled per the backoff
// schedule until attempts are exhausted, then abandoned. Returns whether
// another attempt will run.
func (q *Queue) Fail(ctx context.Context, job *models.DeliveryJob, cause error) (bool, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	if q.backoff.Exhausted(job.Attempts) {
		err := q.db.WithContext(ctx).Model(&models.DeliveryJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":     models.JobStatusAbandoned,
				"last_error": msg,
			}).Error
		if err != nil {
			return false, fmt.Errorf("failed to abandon delivery job: %w", err)
		}

		q.logger.Warn("Delivery job abandoned after exhausting retries",
			zap.String("job_id", job.ID),
			zap.Uint("publication_id", job.PublicationID),
			zap.Int("attempts", job.Attempts))
		return false, nil
	}

	delay := q.backoff.Delay(job.Attempts)
	err := q.db.WithContext(ctx).Model(&models.DeliveryJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":     models.JobStatusPending,
			"run_at":     time.Now().Add(delay),
			"last_error": msg,
		}).Error
	if err != nil {
		return false, fmt.Errorf("failed to reschedule delivery job: %w", err)
	}

	q.logger.Info("Delivery job scheduled for retry",
		zap.String("job_id", job.ID),
		zap.Uint("publication_id", job.PublicationID),
		zap.Int("attempts", job.Attempts),
		zap.Duration("delay", delay))
	return true, nil
}

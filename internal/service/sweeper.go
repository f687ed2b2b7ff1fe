package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/courierhq/courier/internal/config"
	"github.com/courierhq/courier/internal/models"
)

// SweepQueue is the slice of the queue the sweeper needs.
type SweepQueue interface {
	Enqueue(ctx context.Context, publicationID uint, notBefore time.Time) (string, error)
	HasActiveJob(ctx context.Context, publicationID uint) (bool, error)
}

// Sweeper periodically promotes due scheduled publications into the delivery
// queue. Runs are single-flight: a run still in progress causes the next tick
// to be skipped rather than overlapped.
type Sweeper struct {
	config       *config.SweeperConfig
	logger       *zap.Logger
	db           *gorm.DB
	queue        SweepQueue
	publications *PublicationService
	cron         *cron.Cron
	lateness     time.Duration
}

func NewSweeper(cfg *config.SweeperConfig, db *gorm.DB, q SweepQueue, publications *PublicationService, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		config:       cfg,
		logger:       logger,
		db:           db,
		queue:        q,
		publications: publications,
	}
}

func (s *Sweeper) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Sweeper is disabled")
		return nil
	}

	interval, err := time.ParseDuration(s.config.Interval)
	if err != nil {
		s.logger.Error("Invalid sweep interval", zap.String("interval", s.config.Interval), zap.Error(err))
		return err
	}
	s.lateness, err = time.ParseDuration(s.config.LatenessThreshold)
	if err != nil {
		s.logger.Error("Invalid lateness threshold", zap.String("threshold", s.config.LatenessThreshold), zap.Error(err))
		return err
	}

	s.logger.Info("Starting sweeper",
		zap.Duration("interval", interval),
		zap.Duration("lateness_threshold", s.lateness))

	s.cron = cron.New(cron.WithChain(
		cron.Recover(cron.DiscardLogger),
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	_, err = s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Error("Sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.logger.Info("Sweeper shutdown completed")
}

// RunOnce performs one sweep over all due scheduled publications, oldest due
// first. A due publication is never left scheduled: it is either enqueued,
// failed for an unusable channel, or force-failed on queue errors.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	start := time.Now()

	var due []models.Publication
	err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", models.PublicationStatusScheduled, start).
		Order("scheduled_at asc").
		Find(&due).Error
	if err != nil {
		return fmt.Errorf("failed to select due publications: %w", err)
	}

	if len(due) == 0 {
		return nil
	}

	enqueued, failed, skipped := 0, 0, 0
	for _, pub := range due {
		if pub.ScheduledAt != nil && start.Sub(*pub.ScheduledAt) > s.latenessThreshold() {
			s.logger.Warn("Publication is past the lateness threshold",
				zap.Uint("publication_id", pub.ID),
				zap.Time("scheduled_at", *pub.ScheduledAt),
				zap.Duration("late_by", start.Sub(*pub.ScheduledAt)))
		}

		var channel models.Channel
		if err := s.db.WithContext(ctx).First(&channel, pub.ChannelID).Error; err != nil {
			s.logger.Error("Failed to load channel for due publication",
				zap.Uint("publication_id", pub.ID),
				zap.Uint("channel_id", pub.ChannelID),
				zap.Error(err))
			continue
		}

		if !channel.IsActive() {
			if err := s.publications.FailChannelInactive(ctx, &pub, &channel); err != nil {
				s.logger.Error("Failed to fail publication for inactive channel",
					zap.Uint("publication_id", pub.ID),
					zap.Error(err))
			}
			failed++
			continue
		}

		active, err := s.queue.HasActiveJob(ctx, pub.ID)
		if err != nil {
			s.logger.Error("Failed to check for existing job",
				zap.Uint("publication_id", pub.ID),
				zap.Error(err))
			continue
		}
		if active {
			skipped++
			continue
		}

		if _, err := s.queue.Enqueue(ctx, pub.ID, time.Time{}); err != nil {
			s.publications.FailQueueError(ctx, pub.ID, err)
			s.logger.Error("Failed to enqueue due publication",
				zap.Uint("publication_id", pub.ID),
				zap.Error(err))
			failed++
			continue
		}
		enqueued++
	}

	s.logger.Info("Sweep completed",
		zap.Int("due", len(due)),
		zap.Int("enqueued", enqueued),
		zap.Int("failed", failed),
		zap.Int("skipped", skipped),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func (s *Sweeper) latenessThreshold() time.Duration {
	if s.lateness > 0 {
		return s.lateness
	}
	return time.Hour
}

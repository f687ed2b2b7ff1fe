// Package worker runs the publisher worker pool: bounded concurrent consumers
// of the delivery queue that perform the platform call and drive the
// publication state machine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/courierhq/courier/internal/models"
	"github.com/courierhq/courier/internal/platform"
	"github.com/courierhq/courier/internal/queue"
	"github.com/courierhq/courier/internal/service"
	"github.com/courierhq/courier/pkg/ratelimit"
)

// Pool owns its workers explicitly: Start launches them under one context,
// Stop signals and waits. No state lives outside the struct.
type Pool struct {
	db           *gorm.DB
	queue        *queue.Queue
	publications *service.PublicationService
	registry     *platform.Registry
	limiter      *ratelimit.MultiLimiter
	logger       *zap.Logger

	concurrency    int
	pollInterval   time.Duration
	publishTimeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Options struct {
	Concurrency    int
	PollInterval   time.Duration
	PublishTimeout time.Duration
}

func NewPool(db *gorm.DB, q *queue.Queue, publications *service.PublicationService,
	registry *platform.Registry, limiter *ratelimit.MultiLimiter, opts Options, logger *zap.Logger) *Pool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 30 * time.Second
	}
	return &Pool{
		db:             db,
		queue:          q,
		publications:   publications,
		registry:       registry,
		limiter:        limiter,
		logger:         logger,
		concurrency:    opts.Concurrency,
		pollInterval:   opts.PollInterval,
		publishTimeout: opts.PublishTimeout,
	}
}

func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.logger.Info("Starting publisher workers", zap.Int("concurrency", p.concurrency))
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Stop signals all workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("Publisher workers stopped")
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	log := p.logger.With(zap.Int("worker", id))
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Global admission limit across all workers, independent of backoff.
		if err := p.limiter.Wait(ctx, ratelimit.LimiterDelivery); err != nil {
			return
		}

		job, err := p.queue.Claim(ctx)
		if err != nil {
			log.Error("Failed to claim delivery job", zap.Error(err))
			continue
		}
		if job == nil {
			continue
		}

		p.process(ctx, log, job)
	}
}

func (p *Pool) process(ctx context.Context, log *zap.Logger, job *models.DeliveryJob) {
	log = log.With(zap.String("job_id", job.ID), zap.Uint("publication_id", job.PublicationID))

	pub, channel, err := p.publications.BeginPublishing(ctx, job.PublicationID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotActionable):
			// Cancelled or already handled elsewhere; the job is spent.
			log.Info("Skipping job, publication not actionable")
			p.complete(ctx, log, job)
		case errors.Is(err, service.ErrChannelInactive):
			// Publication already failed with CHANNEL_INACTIVE, no retry.
			p.complete(ctx, log, job)
		default:
			log.Error("Failed to begin publishing", zap.Error(err))
			if _, ferr := p.queue.Fail(ctx, job, err); ferr != nil {
				log.Error("Failed to record job failure", zap.Error(ferr))
			}
		}
		return
	}

	adapter, err := p.registry.Get(channel.Platform)
	if err != nil {
		// Unsupported platform is permanent; no retry will fix it.
		p.markFailed(ctx, log, pub.ID, models.ErrCodePlatformError, err.Error(), false)
		p.complete(ctx, log, job)
		return
	}

	text, err := p.resolveText(ctx, pub.ContentID, channel.Platform)
	if err != nil {
		p.markFailed(ctx, log, pub.ID, models.ErrCodePlatformError, err.Error(), false)
		p.complete(ctx, log, job)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, p.publishTimeout)
	result, err := adapter.Publish(callCtx, platform.PublishRequest{
		Text:        text,
		Credentials: channel.Credentials,
	})
	cancel()

	if err != nil {
		code := platform.ErrorCode(err)
		credential := platform.IsCredentialError(err)

		// The publication reflects the failure before the job outcome is
		// decided; no failure is ever silent.
		p.markFailed(ctx, log, pub.ID, code, err.Error(), credential)

		if credential {
			// The channel is now errored; further attempts are pointless.
			p.complete(ctx, log, job)
			return
		}

		retrying, ferr := p.queue.Fail(ctx, job, err)
		if ferr != nil {
			log.Error("Failed to record job failure", zap.Error(ferr))
		}
		log.Warn("Publish attempt failed",
			zap.String("platform", channel.Platform),
			zap.String("error_code", code),
			zap.Bool("retrying", retrying))
		return
	}

	if err := p.publications.MarkPublished(ctx, pub.ID, result.PostID, result.URL); err != nil {
		// The platform call succeeded but the write failed; keep the job so
		// the idempotent success path can re-apply on redelivery.
		log.Error("Failed to record publish success", zap.Error(err))
		if _, ferr := p.queue.Fail(ctx, job, err); ferr != nil {
			log.Error("Failed to record job failure", zap.Error(ferr))
		}
		return
	}

	p.complete(ctx, log, job)
	log.Info("Publication delivered",
		zap.String("platform", channel.Platform),
		zap.String("post_id", result.PostID),
		zap.String("url", result.URL))
}

// resolveText picks the platform-specific adaptation when one exists,
// otherwise the content body.
func (p *Pool) resolveText(ctx context.Context, contentID uint, platformName string) (string, error) {
	var content models.Content
	if err := p.db.WithContext(ctx).First(&content, contentID).Error; err != nil {
		return "", fmt.Errorf("failed to load content %d: %w", contentID, err)
	}

	if adaptation, ok := content.Adaptations[platformName]; ok && adaptation.Text != "" {
		return adaptation.Text, nil
	}
	return content.Body, nil
}

func (p *Pool) markFailed(ctx context.Context, log *zap.Logger, pubID uint, code, message string, credential bool) {
	if err := p.publications.MarkFailed(ctx, pubID, code, message, credential); err != nil {
		log.Error("Failed to mark publication failed", zap.Error(err))
	}
}

func (p *Pool) complete(ctx context.Context, log *zap.Logger, job *models.DeliveryJob) {
	if err := p.queue.Complete(ctx, job); err != nil {
		log.Error("Failed to complete delivery job", zap.Error(err))
	}
}

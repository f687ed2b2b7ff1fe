package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/courierhq/courier/internal/models"
)

// Generator is the content-generation collaborator. Text generation itself is
// outside the core; the engine only persists what comes back.
type Generator interface {
	Generate(ctx context.Context, productID uint, config models.JSONMap) (string, error)
	Adapt(ctx context.Context, content *models.Content, platforms []string) (map[string]models.Adaptation, error)
}

// Notifier delivers out-of-band messages, fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, message string, data models.JSONMap)
}

const defaultScheduleDelay = time.Hour

// AutomationService evaluates triggers, applies conditions and runs action
// pipelines, writing one append-only log row per firing.
type AutomationService struct {
	db           *gorm.DB
	publications *PublicationService
	generator    Generator
	notifier     Notifier
	logger       *zap.Logger
}

func NewAutomationService(db *gorm.DB, publications *PublicationService, generator Generator, notifier Notifier, logger *zap.Logger) *AutomationService {
	return &AutomationService{
		db:           db,
		publications: publications,
		generator:    generator,
		notifier:     notifier,
		logger:       logger,
	}
}

// pipelineState carries ids produced by earlier actions to later ones.
type pipelineState struct {
	contentID uint
}

// Execute runs one firing of an automation against a trigger payload.
// TriggerCount and LastTriggered are bumped before execution, whatever the
// outcome.
func (s *AutomationService) Execute(ctx context.Context, automationID uint, triggerData models.JSONMap) (*models.AutomationLog, error) {
	var automation models.Automation
	if err := s.db.WithContext(ctx).First(&automation, automationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundErrorf("automation %d not found", automationID)
		}
		return nil, fmt.Errorf("failed to load automation: %w", err)
	}
	if !automation.Enabled {
		return nil, conflictErrorf("automation %d is disabled", automationID)
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&automation).Updates(map[string]interface{}{
		"trigger_count":  gorm.Expr("trigger_count + 1"),
		"last_triggered": now,
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to record trigger: %w", err)
	}

	log := &models.AutomationLog{
		AutomationID: automation.ID,
		TriggerData:  triggerData,
	}

	if !s.conditionsMatch(automation.Conditions, triggerData) {
		log.Status = models.RunStatusSkipped
		completed := time.Now()
		log.CompletedAt = &completed
		if err := s.db.WithContext(ctx).Create(log).Error; err != nil {
			return nil, fmt.Errorf("failed to write automation log: %w", err)
		}
		s.logger.Info("Automation skipped, conditions not met",
			zap.Uint("automation_id", automation.ID),
			zap.Uint("log_id", log.ID))
		return log, nil
	}

	var state pipelineState
	succeeded, failed := 0, 0
	for i, action := range automation.Actions {
		output, err := s.runAction(ctx, &automation, action, triggerData, &state)
		result := models.ActionResult{
			Index:   i,
			Type:    action.Type,
			Success: err == nil,
			Output:  output,
		}
		if err != nil {
			result.Error = err.Error()
			failed++
		} else {
			succeeded++
		}
		log.ActionResults = append(log.ActionResults, result)

		if err != nil {
			s.logger.Warn("Automation action failed",
				zap.Uint("automation_id", automation.ID),
				zap.Int("action_index", i),
				zap.String("action_type", action.Type),
				zap.String("on_error", action.OnError),
				zap.Error(err))
			if action.OnError == models.OnErrorStop {
				log.Error = fmt.Sprintf("pipeline stopped at action %d: %s", i, err.Error())
				break
			}
		}
	}

	switch {
	case failed == 0:
		log.Status = models.RunStatusSuccess
	case succeeded == 0:
		log.Status = models.RunStatusFailed
	default:
		log.Status = models.RunStatusPartial
	}

	completed := time.Now()
	log.CompletedAt = &completed
	if err := s.db.WithContext(ctx).Create(log).Error; err != nil {
		return nil, fmt.Errorf("failed to write automation log: %w", err)
	}

	s.logger.Info("Automation executed",
		zap.Uint("automation_id", automation.ID),
		zap.Uint("log_id", log.ID),
		zap.String("status", log.Status),
		zap.Int("actions", len(log.ActionResults)))
	return log, nil
}

// Logs returns the firing history for an automation, newest first.
func (s *AutomationService) Logs(ctx context.Context, automationID uint, limit int) ([]models.AutomationLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var logs []models.AutomationLog
	err := s.db.WithContext(ctx).
		Where("automation_id = ?", automationID).
		Order("created_at desc").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list automation logs: %w", err)
	}
	return logs, nil
}

// conditionsMatch evaluates the conjunction of all conditions against the
// trigger payload. No conditions means always match.
func (s *AutomationService) conditionsMatch(conditions models.Conditions, payload models.JSONMap) bool {
	for _, c := range conditions {
		actual, ok := payload[c.Field]
		if !ok {
			return false
		}
		value := fmt.Sprintf("%v", actual)

		switch c.Operator {
		case models.OpEquals:
			if value != c.Value {
				return false
			}
		case models.OpNotEquals:
			if value == c.Value {
				return false
			}
		case models.OpContains:
			if !strings.Contains(value, c.Value) {
				return false
			}
		case models.OpStartsWith:
			if !strings.HasPrefix(value, c.Value) {
				return false
			}
		default:
			s.logger.Warn("Unknown condition operator, treating as non-match",
				zap.String("operator", c.Operator))
			return false
		}
	}
	return true
}

func (s *AutomationService) runAction(ctx context.Context, automation *models.Automation,
	action models.Action, triggerData models.JSONMap, state *pipelineState) (models.JSONMap, error) {
	switch action.Type {
	case models.ActionGenerateContent:
		return s.runGenerateContent(ctx, automation, action, state)
	case models.ActionPublish:
		return s.runPublish(ctx, action, state, nil)
	case models.ActionSchedule:
		at, err := s.resolveScheduleTime(action.Config)
		if err != nil {
			return nil, err
		}
		return s.runPublish(ctx, action, state, &at)
	case models.ActionAdaptContent:
		return s.runAdaptContent(ctx, action, state)
	case models.ActionNotify:
		message := action.Config.GetString("message")
		if message == "" {
			message = fmt.Sprintf("automation %q fired", automation.Name)
		}
		// Fire-and-forget: delivery failures never affect the pipeline.
		s.notifier.Notify(ctx, message, triggerData)
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown action type %q", action.Type)
	}
}

func (s *AutomationService) runGenerateContent(ctx context.Context, automation *models.Automation,
	action models.Action, state *pipelineState) (models.JSONMap, error) {
	body, err := s.generator.Generate(ctx, automation.ProductID, action.Config)
	if err != nil {
		return nil, fmt.Errorf("content generation failed: %w", err)
	}

	content := models.Content{
		ProductID:   automation.ProductID,
		Body:        body,
		Adaptations: models.AdaptationMap{},
	}
	if err := s.db.WithContext(ctx).Create(&content).Error; err != nil {
		return nil, fmt.Errorf("failed to persist generated content: %w", err)
	}

	state.contentID = content.ID
	return models.JSONMap{"contentId": content.ID}, nil
}

// runPublish creates one publication per configured channel. A nil at means
// publish immediately; otherwise the publications are scheduled.
func (s *AutomationService) runPublish(ctx context.Context, action models.Action,
	state *pipelineState, at *time.Time) (models.JSONMap, error) {
	contentID, err := s.resolveContentID(action.Config, state)
	if err != nil {
		return nil, err
	}
	channelIDs, err := resolveChannelIDs(action.Config)
	if err != nil {
		return nil, err
	}

	var created []uint
	var errs []string
	for _, channelID := range channelIDs {
		var pub *models.Publication
		if at == nil {
			pub, err = s.publications.PublishNow(ctx, contentID, channelID)
		} else {
			pub, err = s.publications.Schedule(ctx, contentID, channelID, *at)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("channel %d: %s", channelID, err.Error()))
			continue
		}
		created = append(created, pub.ID)
	}

	output := models.JSONMap{"publicationIds": created}
	if len(errs) > 0 {
		return output, fmt.Errorf("failed for %d of %d channels: %s", len(errs), len(channelIDs), strings.Join(errs, "; "))
	}
	return output, nil
}

func (s *AutomationService) runAdaptContent(ctx context.Context, action models.Action, state *pipelineState) (models.JSONMap, error) {
	contentID, err := s.resolveContentID(action.Config, state)
	if err != nil {
		return nil, err
	}

	var content models.Content
	if err := s.db.WithContext(ctx).First(&content, contentID).Error; err != nil {
		return nil, fmt.Errorf("failed to load content %d: %w", contentID, err)
	}

	platforms := resolvePlatforms(action.Config)
	if len(platforms) == 0 {
		return nil, fmt.Errorf("adapt_content requires a platforms list")
	}

	adaptations, err := s.generator.Adapt(ctx, &content, platforms)
	if err != nil {
		return nil, fmt.Errorf("content adaptation failed: %w", err)
	}

	// Merge: only the requested platforms are touched, existing keys for
	// other platforms survive.
	if content.Adaptations == nil {
		content.Adaptations = models.AdaptationMap{}
	}
	for name, adaptation := range adaptations {
		content.Adaptations[name] = adaptation
	}

	if err := s.db.WithContext(ctx).Model(&content).
		Update("adaptations", content.Adaptations).Error; err != nil {
		return nil, fmt.Errorf("failed to persist adaptations: %w", err)
	}

	return models.JSONMap{"contentId": content.ID, "platforms": platforms}, nil
}

// resolveScheduleTime derives the schedule time from an explicit timestamp, a
// relative delay, or the default delay.
func (s *AutomationService) resolveScheduleTime(config models.JSONMap) (time.Time, error) {
	if raw := config.GetString("scheduled_at"); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid scheduled_at %q: %w", raw, err)
		}
		return at, nil
	}
	if raw := config.GetString("delay"); raw != "" {
		delay, err := time.ParseDuration(raw)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid delay %q: %w", raw, err)
		}
		return time.Now().Add(delay), nil
	}
	return time.Now().Add(defaultScheduleDelay), nil
}

func (s *AutomationService) resolveContentID(config models.JSONMap, state *pipelineState) (uint, error) {
	if id, ok := asUint(config["content_id"]); ok {
		return id, nil
	}
	if state.contentID != 0 {
		return state.contentID, nil
	}
	return 0, fmt.Errorf("no content id: set content_id or run generate_content earlier in the pipeline")
}

func resolveChannelIDs(config models.JSONMap) ([]uint, error) {
	raw, ok := config["channel_ids"]
	if !ok {
		return nil, fmt.Errorf("channel_ids is required")
	}
	list, ok := raw.([]interface{})
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("channel_ids must be a non-empty list")
	}

	ids := make([]uint, 0, len(list))
	for _, item := range list {
		id, ok := asUint(item)
		if !ok {
			return nil, fmt.Errorf("invalid channel id %v", item)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func resolvePlatforms(config models.JSONMap) []string {
	raw, ok := config["platforms"]
	if !ok {
		return nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	platforms := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			platforms = append(platforms, s)
		}
	}
	return platforms
}

// asUint coerces the numeric types JSON decoding can produce.
func asUint(v interface{}) (uint, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 {
			return 0, false
		}
		return uint(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint(n), true
	case uint:
		return n, true
	default:
		return 0, false
	}
}

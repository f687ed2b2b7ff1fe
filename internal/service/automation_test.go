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

	"github.com/courierhq/courier/internal/models"
	"github.com/courierhq/courier/internal/testutil"
)

type fakeGenerator struct {
	body        string
	generateErr error
	adaptErr    error
	adapted     map[string]models.Adaptation
}

func (f *fakeGenerator) Generate(ctx context.Context, productID uint, config models.JSONMap) (string, error) {
	if f.generateErr != nil {
		return "", f.generateErr
	}
	return f.body, nil
}

func (f *fakeGenerator) Adapt(ctx context.Context, content *models.Content, platforms []string) (map[string]models.Adaptation, error) {
	if f.adaptErr != nil {
		return nil, f.adaptErr
	}
	return f.adapted, nil
}

type fakeNotifier struct {
	messages []string
}

func (f *fakeNotifier) Notify(ctx context.Context, message string, data models.JSONMap) {
	f.messages = append(f.messages, message)
}

type automationHarness struct {
	svc       *AutomationService
	db        *gorm.DB
	generator *fakeGenerator
	notifier  *fakeNotifier
	queue     *fakeQueue
}

func newAutomationHarness(t *testing.T) *automationHarness {
	db := testutil.NewDB(t)
	q := &fakeQueue{activeJobs: map[uint]bool{}}
	publications := NewPublicationService(db, q, zap.NewNop())
	gen := &fakeGenerator{body: "generated body"}
	notifier := &fakeNotifier{}
	return &automationHarness{
		svc:       NewAutomationService(db, publications, gen, notifier, zap.NewNop()),
		db:        db,
		generator: gen,
		notifier:  notifier,
		queue:     q,
	}
}

func (h *automationHarness) createAutomation(t *testing.T, productID uint, conditions models.Conditions, actions models.Actions) *models.Automation {
	t.Helper()
	automation := &models.Automation{
		ProductID:   productID,
		Name:        "test automation",
		TriggerType: models.TriggerTypeManual,
		Conditions:  conditions,
		Actions:     actions,
		Enabled:     true,
	}
	require.NoError(t, h.db.Create(automation).Error)
	return automation
}

func TestExecuteSkipsWhenConditionsDoNotMatch(t *testing.T) {
	h := newAutomationHarness(t)
	content, _ := testutil.Fixture(t, h.db, "twitter")

	automation := h.createAutomation(t, content.ProductID,
		models.Conditions{{Field: "platform", Operator: models.OpEquals, Value: "twitter"}},
		models.Actions{{Type: models.ActionNotify, Config: models.JSONMap{"message": "hi"}}})

	log, err := h.svc.Execute(context.Background(), automation.ID,
		models.JSONMap{"platform": "linkedin"})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusSkipped, log.Status)
	assert.Empty(t, log.ActionResults, "no actions run when conditions fail")
	assert.Empty(t, h.notifier.messages)

	// Trigger bookkeeping happens before condition evaluation.
	var stored models.Automation
	require.NoError(t, h.db.First(&stored, automation.ID).Error)
	assert.Equal(t, 1, stored.TriggerCount)
	assert.NotNil(t, stored.LastTriggered)
}

func TestExecuteConditionOperators(t *testing.T) {
	h := newAutomationHarness(t)
	content, _ := testutil.Fixture(t, h.db, "twitter")

	cases := []struct {
		name      string
		condition models.Condition
		payload   models.JSONMap
		match     bool
	}{
		{"equals", models.Condition{Field: "platform", Operator: models.OpEquals, Value: "twitter"},
			models.JSONMap{"platform": "twitter"}, true},
		{"not equals", models.Condition{Field: "platform", Operator: models.OpNotEquals, Value: "twitter"},
			models.JSONMap{"platform": "twitter"}, false},
		{"contains", models.Condition{Field: "title", Operator: models.OpContains, Value: "launch"},
			models.JSONMap{"title": "big launch day"}, true},
		{"starts with", models.Condition{Field: "title", Operator: models.OpStartsWith, Value: "big"},
			models.JSONMap{"title": "big launch day"}, true},
		{"missing field", models.Condition{Field: "absent", Operator: models.OpEquals, Value: "x"},
			models.JSONMap{"platform": "twitter"}, false},
		{"numeric coercion", models.Condition{Field: "count", Operator: models.OpEquals, Value: "3"},
			models.JSONMap{"count": float64(3)}, true},
		{"unknown operator", models.Condition{Field: "platform", Operator: "matches_regex", Value: ".*"},
			models.JSONMap{"platform": "twitter"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			automation := h.createAutomation(t, content.ProductID,
				models.Conditions{tc.condition},
				models.Actions{{Type: models.ActionNotify, Config: models.JSONMap{"message": "hi"}}})

			log, err := h.svc.Execute(context.Background(), automation.ID, tc.payload)
			require.NoError(t, err)
			if tc.match {
				assert.Equal(t, models.RunStatusSuccess, log.Status)
			} else {
				assert.Equal(t, models.RunStatusSkipped, log.Status)
			}
		})
	}
}

func TestExecuteRejectsDisabledAndMissing(t *testing.T) {
	h := newAutomationHarness(t)
	content, _ := testutil.Fixture(t, h.db, "twitter")

	_, err := h.svc.Execute(context.Background(), 4242, models.JSONMap{})
	assert.ErrorIs(t, err, ErrNotFound)

	automation := h.createAutomation(t, content.ProductID, nil,
		models.Actions{{Type: models.ActionNotify}})
	require.NoError(t, h.db.Model(automation).Update("enabled", false).Error)

	_, err = h.svc.Execute(context.Background(), automation.ID, models.JSONMap{})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestExecuteGenerateThenPublishPipeline(t *testing.T) {
	h := newAutomationHarness(t)
	content, channel := testutil.Fixture(t, h.db, "twitter")

	automation := h.createAutomation(t, content.ProductID, nil, models.Actions{
		{Type: models.ActionGenerateContent, Config: models.JSONMap{"template": "daily update"}},
		{Type: models.ActionPublish, Config: models.JSONMap{
			"channel_ids": []interface{}{float64(channel.ID)},
		}},
	})

	log, err := h.svc.Execute(context.Background(), automation.ID, models.JSONMap{})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusSuccess, log.Status)
	require.Len(t, log.ActionResults, 2)
	assert.True(t, log.ActionResults[0].Success)
	assert.True(t, log.ActionResults[1].Success)

	// The publish action consumed the content produced by the first action.
	contentID, ok := asUint(log.ActionResults[0].Output["contentId"])
	require.True(t, ok)

	var pub models.Publication
	require.NoError(t, h.db.First(&pub, "channel_id = ?", channel.ID).Error)
	assert.Equal(t, contentID, pub.ContentID)
	assert.Len(t, h.queue.enqueued, 1)

	var generated models.Content
	require.NoError(t, h.db.First(&generated, contentID).Error)
	assert.Equal(t, "generated body", generated.Body)
}

func TestExecuteOnErrorStopHaltsPipeline(t *testing.T) {
	h := newAutomationHarness(t)
	content, _ := testutil.Fixture(t, h.db, "twitter")
	h.generator.generateErr = errors.New("model unavailable")

	automation := h.createAutomation(t, content.ProductID, nil, models.Actions{
		{Type: models.ActionGenerateContent, OnError: models.OnErrorStop},
		{Type: models.ActionNotify, Config: models.JSONMap{"message": "never sent"}},
	})

	log, err := h.svc.Execute(context.Background(), automation.ID, models.JSONMap{})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusFailed, log.Status)
	require.Len(t, log.ActionResults, 1, "stop policy halts before the second action")
	assert.False(t, log.ActionResults[0].Success)
	assert.Contains(t, log.Error, "pipeline stopped at action 0")
	assert.Empty(t, h.notifier.messages)
}

func TestExecuteOnErrorContinueYieldsPartial(t *testing.T) {
	h := newAutomationHarness(t)
	content, _ := testutil.Fixture(t, h.db, "twitter")
	h.generator.generateErr = errors.New("model unavailable")

	automation := h.createAutomation(t, content.ProductID, nil, models.Actions{
		{Type: models.ActionGenerateContent, OnError: models.OnErrorContinue},
		{Type: models.ActionNotify, Config: models.JSONMap{"message": "still sent"}},
	})

	log, err := h.svc.Execute(context.Background(), automation.ID, models.JSONMap{})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusPartial, log.Status)
	require.Len(t, log.ActionResults, 2)
	assert.False(t, log.ActionResults[0].Success)
	assert.True(t, log.ActionResults[1].Success)
	assert.Equal(t, []string{"still sent"}, h.notifier.messages)
}

func TestExecuteScheduleActionUsesDelay(t *testing.T) {
	h := newAutomationHarness(t)
	content, channel := testutil.Fixture(t, h.db, "twitter")

	automation := h.createAutomation(t, content.ProductID, nil, models.Actions{
		{Type: models.ActionSchedule, Config: models.JSONMap{
			"content_id":  float64(content.ID),
			"channel_ids": []interface{}{float64(channel.ID)},
			"delay":       "30m",
		}},
	})

	log, err := h.svc.Execute(context.Background(), automation.ID, models.JSONMap{})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuccess, log.Status)

	var pub models.Publication
	require.NoError(t, h.db.First(&pub, "channel_id = ?", channel.ID).Error)
	require.NotNil(t, pub.ScheduledAt)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), *pub.ScheduledAt, 5*time.Second)
	assert.Empty(t, h.queue.enqueued, "scheduled publications wait for the sweeper")
}

func TestExecuteAdaptContentMergesPlatforms(t *testing.T) {
	h := newAutomationHarness(t)
	content, _ := testutil.Fixture(t, h.db, "twitter")

	// An existing adaptation for another platform must survive the merge.
	require.NoError(t, h.db.Model(content).Update("adaptations", models.AdaptationMap{
		"linkedin": {Text: "professional variant", Length: 20},
	}).Error)

	h.generator.adapted = map[string]models.Adaptation{
		"twitter": {Text: "short variant", Length: 13, Hashtags: []string{"#go"}},
	}

	automation := h.createAutomation(t, content.ProductID, nil, models.Actions{
		{Type: models.ActionAdaptContent, Config: models.JSONMap{
			"content_id": float64(content.ID),
			"platforms":  []interface{}{"twitter"},
		}},
	})

	log, err := h.svc.Execute(context.Background(), automation.ID, models.JSONMap{})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuccess, log.Status)

	var stored models.Content
	require.NoError(t, h.db.First(&stored, content.ID).Error)
	assert.Equal(t, "short variant", stored.Adaptations["twitter"].Text)
	assert.Equal(t, "professional variant", stored.Adaptations["linkedin"].Text)
}

func TestLogsNewestFirst(t *testing.T) {
	h := newAutomationHarness(t)
	content, _ := testutil.Fixture(t, h.db, "twitter")
	automation := h.createAutomation(t, content.ProductID, nil,
		models.Actions{{Type: models.ActionNotify}})

	for i := 0; i < 3; i++ {
		_, err := h.svc.Execute(context.Background(), automation.ID, models.JSONMap{"run": float64(i)})
		require.NoError(t, err)
	}

	logs, err := h.svc.Logs(context.Background(), automation.ID, 2)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

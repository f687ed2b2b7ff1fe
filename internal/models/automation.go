package models

import (
	"database/sql/driver"
	"time"

	"gorm.io/gorm"
)

// Trigger types an automation can react to.
const (
	TriggerTypeWebhook  = "webhook"
	TriggerTypeSchedule = "schedule"
	TriggerTypeEvent    = "event"
	TriggerTypeManual   = "manual"
)

// Condition operators.
const (
	OpEquals     = "equals"
	OpNotEquals  = "not_equals"
	OpContains   = "contains"
	OpStartsWith = "starts_with"
)

// Action types executed by the automation pipeline.
const (
	ActionGenerateContent = "generate_content"
	ActionPublish         = "publish"
	ActionSchedule        = "schedule"
	ActionAdaptContent    = "adapt_content"
	ActionNotify          = "notify"
)

// Action on-error policies.
const (
	OnErrorContinue = "continue"
	OnErrorStop     = "stop"
)

// Automation run outcomes.
const (
	RunStatusSuccess = "success"
	RunStatusPartial = "partial"
	RunStatusFailed  = "failed"
	RunStatusSkipped = "skipped"
)

// Condition is one field/operator/value triple. All conditions on an
// automation must match (conjunction) before actions run.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

type Conditions []Condition

func (c *Conditions) Scan(value interface{}) error {
	*c = Conditions{}
	return scanJSON(c, value)
}

func (c Conditions) Value() (driver.Value, error) {
	if c == nil {
		return "[]", nil
	}
	return valueJSON(c)
}

// Action is one typed step of an automation pipeline.
type Action struct {
	Type    string  `json:"type"`
	Config  JSONMap `json:"config"`
	OnError string  `json:"on_error"`
}

type Actions []Action

func (a *Actions) Scan(value interface{}) error {
	*a = Actions{}
	return scanJSON(a, value)
}

func (a Actions) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	return valueJSON(a)
}

type Automation struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	ProductID     uint           `gorm:"not null;index" json:"product_id"`
	Name          string         `gorm:"not null;size:255" json:"name"`
	TriggerType   string         `gorm:"not null;size:50" json:"trigger_type"`
	TriggerConfig JSONMap        `gorm:"type:jsonb" json:"trigger_config"`
	Conditions    Conditions     `gorm:"type:jsonb" json:"conditions"`
	Actions       Actions        `gorm:"type:jsonb" json:"actions"`
	Enabled       bool           `gorm:"default:true" json:"enabled"`
	TriggerCount  int            `gorm:"default:0" json:"trigger_count"`
	LastTriggered *time.Time     `json:"last_triggered,omitempty"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"deleted_at"`

	Product Product `gorm:"foreignKey:ProductID" json:"-"`
}

// ActionResult records the outcome of one pipeline step.
type ActionResult struct {
	Index   int     `json:"index"`
	Type    string  `json:"type"`
	Success bool    `json:"success"`
	Error   string  `json:"error,omitempty"`
	Output  JSONMap `json:"output,omitempty"`
}

type ActionResults []ActionResult

func (r *ActionResults) Scan(value interface{}) error {
	*r = ActionResults{}
	return scanJSON(r, value)
}

func (r ActionResults) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	return valueJSON(r)
}

// AutomationLog is the append-only audit row for one firing.
type AutomationLog struct {
	ID            uint          `gorm:"primaryKey" json:"id"`
	AutomationID  uint          `gorm:"not null;index" json:"automation_id"`
	Status        string        `gorm:"size:50;index" json:"status"`
	TriggerData   JSONMap       `gorm:"type:jsonb" json:"trigger_data"`
	ActionResults ActionResults `gorm:"type:jsonb" json:"action_results"`
	Error         string        `gorm:"type:text" json:"error,omitempty"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"created_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`

	Automation Automation `gorm:"foreignKey:AutomationID" json:"-"`
}

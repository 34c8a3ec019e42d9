package models

import (
	"encoding/json"
	"time"
)

// SLAStatus is the lifecycle state of an SLA instance.
type SLAStatus string

const (
	StatusActive   SLAStatus = "active"
	StatusPaused   SLAStatus = "paused"
	StatusMet      SLAStatus = "met"
	StatusBreached SLAStatus = "breached"
)

// Valid reports whether s is one of the four known states.
func (s SLAStatus) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusMet, StatusBreached:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are permitted.
func (s SLAStatus) IsTerminal() bool {
	return s == StatusMet || s == StatusBreached
}

// CanTransitionTo reports whether the state machine allows moving from s to next.
func (s SLAStatus) CanTransitionTo(next SLAStatus) bool {
	switch s {
	case StatusActive:
		return next == StatusPaused || next == StatusMet || next == StatusBreached
	case StatusPaused:
		return next == StatusActive || next == StatusMet || next == StatusBreached
	}
	return false
}

// SLAMetric identifies which clock an SLA config measures. The engine treats
// it as an opaque tag; it only matters to reporting and to the rule evaluator.
type SLAMetric string

const (
	MetricFirstResponse SLAMetric = "first_response"
	MetricNextUpdate    SLAMetric = "next_update"
	MetricResolution    SLAMetric = "resolution"
)

// Valid reports whether m is a known metric.
func (m SLAMetric) Valid() bool {
	switch m {
	case MetricFirstResponse, MetricNextUpdate, MetricResolution:
		return true
	}
	return false
}

// CalendarSpec is the serializable business calendar definition attached to an
// SLA config. Working hours are a half-open hour window [WorkStart, WorkEnd)
// in the calendar's normalized frame (UTC); Saturday and Sunday are always
// excluded. Holidays are date-only strings in YYYY-MM-DD form.
type CalendarSpec struct {
	WorkStart int      `json:"work_start" yaml:"work_start" mapstructure:"work_start"` // hour, 0-23
	WorkEnd   int      `json:"work_end" yaml:"work_end" mapstructure:"work_end"`       // hour, 1-24, exclusive
	Holidays  []string `json:"holidays,omitempty" yaml:"holidays,omitempty" mapstructure:"holidays"`
}

// EscalationRule defines an escalation action for an SLA config. Rules are
// stored and returned for completeness; execution belongs to the rule
// evaluator, not to this engine.
type EscalationRule struct {
	ThresholdPercent int             `json:"threshold_percent"` // percentage of target consumed
	Action           string          `json:"action"`            // notify, reassign, change_priority, ...
	Params           json.RawMessage `json:"params,omitempty"`
}

// SLAConfig is a tenant-owned SLA definition from which instances are started.
// Start/stop/pause conditions are opaque trigger descriptors interpreted by an
// external rule evaluator; they are validated for shape at the boundary and
// passed through unchanged.
type SLAConfig struct {
	ID              string            `json:"id"`
	TenantID        string            `json:"tenant_id"`
	Name            string            `json:"name" binding:"required"`
	Metric          SLAMetric         `json:"metric"`
	TargetMinutes   int               `json:"target_minutes"` // business-time budget
	StartCondition  json.RawMessage   `json:"start_condition,omitempty"`
	StopCondition   json.RawMessage   `json:"stop_condition,omitempty"`
	PauseConditions []json.RawMessage `json:"pause_conditions,omitempty"`
	Calendar        CalendarSpec      `json:"calendar"`
	EscalationRules []EscalationRule  `json:"escalation_rules,omitempty"`
	IsActive        bool              `json:"is_active"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// TargetMs returns the target duration in milliseconds.
func (c *SLAConfig) TargetMs() int64 {
	return int64(c.TargetMinutes) * 60_000
}

// SLAInstance is one tracked occurrence of an SLA config applied to an entity
// (for example one issue's resolution clock). Instances are never deleted by
// the engine; terminal instances are retained for audit.
type SLAInstance struct {
	ID       string    `json:"id"`
	ConfigID string    `json:"config_id"`
	EntityID string    `json:"entity_id"`
	Status   SLAStatus `json:"status"`

	StartedAt time.Time  `json:"started_at"`
	PausedAt  *time.Time `json:"paused_at,omitempty"`
	// ResumedAt is the start of the current active cycle; nil until the first
	// resume. Elapsed time for the running cycle accrues from ResumedAt when
	// set, otherwise from StartedAt.
	ResumedAt   *time.Time `json:"resumed_at,omitempty"`
	ElapsedMs   int64      `json:"elapsed_ms"`   // business ms consumed while active
	RemainingMs int64      `json:"remaining_ms"` // budget as of the last active entry
	BreachAt    time.Time  `json:"breach_at"`    // business-time-adjusted deadline
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CycleStart returns the wall-clock origin of the current active cycle.
func (i *SLAInstance) CycleStart() time.Time {
	if i.ResumedAt != nil {
		return *i.ResumedAt
	}
	return i.StartedAt
}

// InstanceFilter narrows instance listings.
type InstanceFilter struct {
	EntityID string     `json:"entity_id,omitempty"`
	ConfigID string     `json:"config_id,omitempty"`
	Status   *SLAStatus `json:"status,omitempty"`
}

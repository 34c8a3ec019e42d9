package api

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/tracklane-io/tracklane/internal/models"
	"github.com/tracklane-io/tracklane/internal/services/businesscal"
)

// Trigger descriptors are opaque to the engine; an external rule evaluator
// interprets them. The boundary still pins down their shape: an object with a
// string "type" tag and arbitrary parameters.
const triggerSchemaJSON = `{
	"type": "object",
	"required": ["type"],
	"properties": {
		"type": {"type": "string", "minLength": 1},
		"params": {"type": "object"}
	}
}`

var compiledTriggerSchema *gojsonschema.Schema

func init() {
	var err error
	compiledTriggerSchema, err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(triggerSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("api: trigger schema: %v", err))
	}
}

// validateTrigger checks one opaque trigger descriptor against the boundary
// schema. Empty descriptors are allowed; the engine never requires them.
func validateTrigger(field string, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	result, err := compiledTriggerSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("%s: not valid JSON: %w", field, err)
	}
	if !result.Valid() {
		return fmt.Errorf("%s: %s", field, result.Errors()[0].String())
	}
	return nil
}

// validateConfig applies all construction-time checks for an SLA config:
// metric and target sanity, calendar bounds, and descriptor shape.
func validateConfig(cfg *models.SLAConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !cfg.Metric.Valid() {
		return fmt.Errorf("unknown metric %q", cfg.Metric)
	}
	if cfg.TargetMinutes <= 0 {
		return fmt.Errorf("target_minutes must be positive")
	}
	if _, err := businesscal.New(cfg.Calendar); err != nil {
		return fmt.Errorf("calendar: %w", err)
	}
	if err := validateTrigger("start_condition", cfg.StartCondition); err != nil {
		return err
	}
	if err := validateTrigger("stop_condition", cfg.StopCondition); err != nil {
		return err
	}
	for i, pc := range cfg.PauseConditions {
		if err := validateTrigger(fmt.Sprintf("pause_conditions[%d]", i), pc); err != nil {
			return err
		}
	}
	for i, rule := range cfg.EscalationRules {
		if rule.ThresholdPercent <= 0 || rule.ThresholdPercent > 100 {
			return fmt.Errorf("escalation_rules[%d]: threshold_percent must be in (0,100]", i)
		}
		if rule.Action == "" {
			return fmt.Errorf("escalation_rules[%d]: action is required", i)
		}
	}
	return nil
}

// Package repository implements the SLA record store on SQL databases.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"gopkg.in/yaml.v3"

	"github.com/tracklane-io/tracklane/internal/models"
	"github.com/tracklane-io/tracklane/internal/services/sla"
)

// SLAStore is the sqlx-backed implementation of sla.Store. Calendars are kept
// at rest as YAML text, trigger descriptors and escalation rules as JSON
// text, so the schema stays portable across the supported drivers.
type SLAStore struct {
	db *sqlx.DB
}

// NewSLAStore wraps a connected database handle.
func NewSLAStore(db *sqlx.DB) *SLAStore {
	return &SLAStore{db: db}
}

var _ sla.Store = (*SLAStore)(nil)

type configRow struct {
	ID              string         `db:"id"`
	TenantID        string         `db:"tenant_id"`
	Name            string         `db:"name"`
	Metric          string         `db:"metric"`
	TargetMinutes   int            `db:"target_minutes"`
	StartCondition  sql.NullString `db:"start_condition"`
	StopCondition   sql.NullString `db:"stop_condition"`
	PauseConditions sql.NullString `db:"pause_conditions"`
	Calendar        string         `db:"calendar"`
	EscalationRules sql.NullString `db:"escalation_rules"`
	IsActive        bool           `db:"is_active"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

type instanceRow struct {
	ID          string       `db:"id"`
	ConfigID    string       `db:"config_id"`
	EntityID    string       `db:"entity_id"`
	Status      string       `db:"status"`
	StartedAt   time.Time    `db:"started_at"`
	PausedAt    sql.NullTime `db:"paused_at"`
	ResumedAt   sql.NullTime `db:"resumed_at"`
	ElapsedMs   int64        `db:"elapsed_ms"`
	RemainingMs int64        `db:"remaining_ms"`
	BreachAt    time.Time    `db:"breach_at"`
	CompletedAt sql.NullTime `db:"completed_at"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}

// GetConfig retrieves a config by ID, or (nil, nil) when absent.
func (s *SLAStore) GetConfig(ctx context.Context, id string) (*models.SLAConfig, error) {
	var row configRow
	query := s.db.Rebind(`SELECT * FROM sla_config WHERE id = ?`)
	err := s.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select sla_config: %w", err)
	}
	return configFromRow(&row)
}

// CreateConfig inserts a new config.
func (s *SLAStore) CreateConfig(ctx context.Context, cfg *models.SLAConfig) error {
	row, err := configToRow(cfg)
	if err != nil {
		return err
	}
	query := s.db.Rebind(`
		INSERT INTO sla_config
			(id, tenant_id, name, metric, target_minutes, start_condition,
			 stop_condition, pause_conditions, calendar, escalation_rules,
			 is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query,
		row.ID, row.TenantID, row.Name, row.Metric, row.TargetMinutes,
		row.StartCondition, row.StopCondition, row.PauseConditions,
		row.Calendar, row.EscalationRules, row.IsActive, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert sla_config: %w", err)
	}
	return nil
}

// UpdateConfig replaces a stored config.
func (s *SLAStore) UpdateConfig(ctx context.Context, cfg *models.SLAConfig) error {
	row, err := configToRow(cfg)
	if err != nil {
		return err
	}
	query := s.db.Rebind(`
		UPDATE sla_config SET
			name = ?, metric = ?, target_minutes = ?, start_condition = ?,
			stop_condition = ?, pause_conditions = ?, calendar = ?,
			escalation_rules = ?, is_active = ?, updated_at = ?
		WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query,
		row.Name, row.Metric, row.TargetMinutes, row.StartCondition,
		row.StopCondition, row.PauseConditions, row.Calendar,
		row.EscalationRules, row.IsActive, row.UpdatedAt, row.ID)
	if err != nil {
		return fmt.Errorf("update sla_config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("config %s does not exist", cfg.ID)
	}
	return nil
}

// ListConfigs returns a tenant's configs; an empty tenant ID returns all.
func (s *SLAStore) ListConfigs(ctx context.Context, tenantID string) ([]*models.SLAConfig, error) {
	query := `SELECT * FROM sla_config`
	args := []interface{}{}
	if tenantID != "" {
		query += ` WHERE tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` ORDER BY name`

	var rows []configRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select sla_config list: %w", err)
	}

	out := make([]*models.SLAConfig, 0, len(rows))
	for i := range rows {
		cfg, err := configFromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

// GetInstance retrieves an instance by ID, or (nil, nil) when absent.
func (s *SLAStore) GetInstance(ctx context.Context, id string) (*models.SLAInstance, error) {
	var row instanceRow
	query := s.db.Rebind(`SELECT * FROM sla_instance WHERE id = ?`)
	err := s.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select sla_instance: %w", err)
	}
	return instanceFromRow(&row), nil
}

// CreateInstance inserts a new instance.
func (s *SLAStore) CreateInstance(ctx context.Context, inst *models.SLAInstance) error {
	row := instanceToRow(inst)
	query := s.db.Rebind(`
		INSERT INTO sla_instance
			(id, config_id, entity_id, status, started_at, paused_at,
			 resumed_at, elapsed_ms, remaining_ms, breach_at, completed_at,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		row.ID, row.ConfigID, row.EntityID, row.Status, row.StartedAt,
		row.PausedAt, row.ResumedAt, row.ElapsedMs, row.RemainingMs,
		row.BreachAt, row.CompletedAt, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert sla_instance: %w", err)
	}
	return nil
}

// UpdateInstance writes the instance guarded on its previously read status.
// The WHERE clause is the compare-and-swap: when the status moved since the
// read, zero rows match and ErrStaleInstance is returned without writing.
func (s *SLAStore) UpdateInstance(ctx context.Context, inst *models.SLAInstance, from models.SLAStatus) error {
	row := instanceToRow(inst)
	query := s.db.Rebind(`
		UPDATE sla_instance SET
			status = ?, paused_at = ?, resumed_at = ?, elapsed_ms = ?,
			remaining_ms = ?, breach_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`)
	res, err := s.db.ExecContext(ctx, query,
		row.Status, row.PausedAt, row.ResumedAt, row.ElapsedMs,
		row.RemainingMs, row.BreachAt, row.CompletedAt, row.UpdatedAt,
		row.ID, string(from))
	if err != nil {
		return fmt.Errorf("update sla_instance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update sla_instance rows: %w", err)
	}
	if n == 0 {
		return sla.ErrStaleInstance
	}
	return nil
}

// ListInstances returns instances matching the filter, newest first.
func (s *SLAStore) ListInstances(ctx context.Context, filter models.InstanceFilter) ([]*models.SLAInstance, error) {
	var conds []string
	var args []interface{}
	if filter.EntityID != "" {
		conds = append(conds, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.ConfigID != "" {
		conds = append(conds, "config_id = ?")
		args = append(args, filter.ConfigID)
	}
	if filter.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := `SELECT * FROM sla_instance`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	var rows []instanceRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select sla_instance list: %w", err)
	}

	out := make([]*models.SLAInstance, 0, len(rows))
	for i := range rows {
		out = append(out, instanceFromRow(&rows[i]))
	}
	return out, nil
}

func configToRow(cfg *models.SLAConfig) (*configRow, error) {
	calendarYAML, err := yaml.Marshal(cfg.Calendar)
	if err != nil {
		return nil, fmt.Errorf("encode calendar: %w", err)
	}

	row := &configRow{
		ID:            cfg.ID,
		TenantID:      cfg.TenantID,
		Name:          cfg.Name,
		Metric:        string(cfg.Metric),
		TargetMinutes: cfg.TargetMinutes,
		Calendar:      string(calendarYAML),
		IsActive:      cfg.IsActive,
		CreatedAt:     cfg.CreatedAt,
		UpdatedAt:     cfg.UpdatedAt,
	}
	row.StartCondition = rawToNullString(cfg.StartCondition)
	row.StopCondition = rawToNullString(cfg.StopCondition)

	if len(cfg.PauseConditions) > 0 {
		b, err := json.Marshal(cfg.PauseConditions)
		if err != nil {
			return nil, fmt.Errorf("encode pause conditions: %w", err)
		}
		row.PauseConditions = sql.NullString{String: string(b), Valid: true}
	}
	if len(cfg.EscalationRules) > 0 {
		b, err := json.Marshal(cfg.EscalationRules)
		if err != nil {
			return nil, fmt.Errorf("encode escalation rules: %w", err)
		}
		row.EscalationRules = sql.NullString{String: string(b), Valid: true}
	}
	return row, nil
}

func configFromRow(row *configRow) (*models.SLAConfig, error) {
	cfg := &models.SLAConfig{
		ID:            row.ID,
		TenantID:      row.TenantID,
		Name:          row.Name,
		Metric:        models.SLAMetric(row.Metric),
		TargetMinutes: row.TargetMinutes,
		IsActive:      row.IsActive,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	if err := yaml.Unmarshal([]byte(row.Calendar), &cfg.Calendar); err != nil {
		return nil, fmt.Errorf("decode calendar for config %s: %w", row.ID, err)
	}
	cfg.StartCondition = nullStringToRaw(row.StartCondition)
	cfg.StopCondition = nullStringToRaw(row.StopCondition)
	if row.PauseConditions.Valid {
		if err := json.Unmarshal([]byte(row.PauseConditions.String), &cfg.PauseConditions); err != nil {
			return nil, fmt.Errorf("decode pause conditions for config %s: %w", row.ID, err)
		}
	}
	if row.EscalationRules.Valid {
		if err := json.Unmarshal([]byte(row.EscalationRules.String), &cfg.EscalationRules); err != nil {
			return nil, fmt.Errorf("decode escalation rules for config %s: %w", row.ID, err)
		}
	}
	return cfg, nil
}

func instanceToRow(inst *models.SLAInstance) *instanceRow {
	return &instanceRow{
		ID:          inst.ID,
		ConfigID:    inst.ConfigID,
		EntityID:    inst.EntityID,
		Status:      string(inst.Status),
		StartedAt:   inst.StartedAt,
		PausedAt:    timeToNull(inst.PausedAt),
		ResumedAt:   timeToNull(inst.ResumedAt),
		ElapsedMs:   inst.ElapsedMs,
		RemainingMs: inst.RemainingMs,
		BreachAt:    inst.BreachAt,
		CompletedAt: timeToNull(inst.CompletedAt),
		CreatedAt:   inst.CreatedAt,
		UpdatedAt:   inst.UpdatedAt,
	}
}

func instanceFromRow(row *instanceRow) *models.SLAInstance {
	return &models.SLAInstance{
		ID:          row.ID,
		ConfigID:    row.ConfigID,
		EntityID:    row.EntityID,
		Status:      models.SLAStatus(row.Status),
		StartedAt:   row.StartedAt.UTC(),
		PausedAt:    nullToTime(row.PausedAt),
		ResumedAt:   nullToTime(row.ResumedAt),
		ElapsedMs:   row.ElapsedMs,
		RemainingMs: row.RemainingMs,
		BreachAt:    row.BreachAt.UTC(),
		CompletedAt: nullToTime(row.CompletedAt),
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
	}
}

func rawToNullString(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func nullStringToRaw(ns sql.NullString) json.RawMessage {
	if !ns.Valid {
		return nil
	}
	return json.RawMessage(ns.String)
}

func timeToNull(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullToTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// Package sla manages the start/pause/resume/completion lifecycle of SLA
// instances, delegating business-time arithmetic to the calendar engine and
// record storage to an external store.
package sla

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/tracklane-io/tracklane/internal/models"
	"github.com/tracklane-io/tracklane/internal/services/businesscal"
)

// Service orchestrates SLA instances through their state machine:
//
//	(none) --Start--> active
//	active --Pause--> paused
//	paused --Resume--> active
//	active|paused --Complete--> met | breached
//
// The service itself is stateless; the instance record in the store is the
// single source of truth, and every mutation is a status-guarded write.
type Service struct {
	store   Store
	now     func() time.Time
	logger  *log.Logger
	metrics *Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithClock injects a "now" provider, for testability.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics attaches transition counters.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService wires a lifecycle service around the given store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		now:    time.Now,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start creates a new active instance from the referenced config. The config
// must exist and be active. No uniqueness per entity is enforced here; that
// is caller-level policy.
func (s *Service) Start(ctx context.Context, configID, entityID string) (inst *models.SLAInstance, err error) {
	defer func() { s.metrics.observe("start", err) }()

	cfg, cal, err := s.configCalendar(ctx, configID)
	if err != nil {
		return nil, err
	}
	if !cfg.IsActive {
		return nil, &ValidationError{Op: "start", Ref: configID, Reason: "config is not active"}
	}

	now := s.now().UTC()
	inst = &models.SLAInstance{
		ID:          uuid.NewString(),
		ConfigID:    cfg.ID,
		EntityID:    entityID,
		Status:      models.StatusActive,
		StartedAt:   now,
		ElapsedMs:   0,
		RemainingMs: cfg.TargetMs(),
		BreachAt:    cal.AddWorkingMs(now, cfg.TargetMs()),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	return inst, nil
}

// Pause freezes an active instance's clock. The business time consumed since
// the current cycle's origin is folded into ElapsedMs; RemainingMs stays as
// it was at the last active entry and is recomputed at resume.
func (s *Service) Pause(ctx context.Context, instanceID string) (inst *models.SLAInstance, err error) {
	defer func() { s.metrics.observe("pause", err) }()

	inst, err = s.instance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != models.StatusActive {
		return nil, &ValidationError{Op: "pause", Ref: instanceID, Status: inst.Status,
			Reason: "only active instances can be paused"}
	}

	_, cal, err := s.configCalendar(ctx, inst.ConfigID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	inst.ElapsedMs += cal.WorkingMsBetween(inst.CycleStart(), now)
	inst.Status = models.StatusPaused
	inst.PausedAt = &now
	inst.UpdatedAt = now

	if err := s.update(ctx, "pause", inst, models.StatusActive); err != nil {
		return nil, err
	}
	return inst, nil
}

// Resume reactivates a paused instance. The wall-clock pause duration
// contributes zero business time regardless of calendar overlap; the deadline
// is recomputed from now with the remaining budget.
func (s *Service) Resume(ctx context.Context, instanceID string) (inst *models.SLAInstance, err error) {
	defer func() { s.metrics.observe("resume", err) }()

	inst, err = s.instance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != models.StatusPaused {
		return nil, &ValidationError{Op: "resume", Ref: instanceID, Status: inst.Status,
			Reason: "only paused instances can be resumed"}
	}

	cfg, cal, err := s.configCalendar(ctx, inst.ConfigID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	inst.RemainingMs = cfg.TargetMs() - inst.ElapsedMs
	inst.BreachAt = cal.AddWorkingMs(now, inst.RemainingMs)
	inst.Status = models.StatusActive
	inst.PausedAt = nil
	inst.ResumedAt = &now
	inst.UpdatedAt = now

	if err := s.update(ctx, "resume", inst, models.StatusPaused); err != nil {
		return nil, err
	}
	return inst, nil
}

// Complete finalizes an active or paused instance, judging breach against the
// previously computed deadline. A paused instance's BreachAt was frozen at
// the last start/resume and is the correct deadline: no business time accrues
// while paused.
func (s *Service) Complete(ctx context.Context, instanceID string) (inst *models.SLAInstance, err error) {
	defer func() { s.metrics.observe("complete", err) }()

	inst, err = s.instance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status.IsTerminal() {
		return nil, &ValidationError{Op: "complete", Ref: instanceID, Status: inst.Status,
			Reason: "instance is already completed"}
	}

	now := s.now().UTC()
	from := inst.Status
	if now.After(inst.BreachAt) {
		inst.Status = models.StatusBreached
	} else {
		inst.Status = models.StatusMet
	}
	inst.CompletedAt = &now
	inst.UpdatedAt = now

	if err := s.update(ctx, "complete", inst, from); err != nil {
		return nil, err
	}
	s.metrics.observeCompletion(inst.Status)
	return inst, nil
}

// ListByEntity returns the instances tracked for an entity, optionally
// filtered by status. Read-only; no state transition.
func (s *Service) ListByEntity(ctx context.Context, entityID string, status *models.SLAStatus) ([]*models.SLAInstance, error) {
	insts, err := s.store.ListInstances(ctx, models.InstanceFilter{EntityID: entityID, Status: status})
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return insts, nil
}

// Progress is a read-only live view of an instance's clock.
type Progress struct {
	Status      models.SLAStatus `json:"status"`
	ElapsedMs   int64            `json:"elapsed_ms"`
	RemainingMs int64            `json:"remaining_ms"`
	BreachAt    time.Time        `json:"breach_at"`
}

// GetProgress reports the business time consumed and remaining as of now.
// For an active instance the running cycle is included; stored fields are
// left untouched.
func (s *Service) GetProgress(ctx context.Context, instanceID string) (*Progress, error) {
	inst, err := s.instance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	cfg, cal, err := s.configCalendar(ctx, inst.ConfigID)
	if err != nil {
		return nil, err
	}

	elapsed := inst.ElapsedMs
	if inst.Status == models.StatusActive {
		elapsed += cal.WorkingMsBetween(inst.CycleStart(), s.now().UTC())
	}
	return &Progress{
		Status:      inst.Status,
		ElapsedMs:   elapsed,
		RemainingMs: cfg.TargetMs() - elapsed,
		BreachAt:    inst.BreachAt,
	}, nil
}

// instance fetches an instance or reports NotFoundError.
func (s *Service) instance(ctx context.Context, id string) (*models.SLAInstance, error) {
	inst, err := s.store.GetInstance(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	if inst == nil {
		return nil, &NotFoundError{Kind: "instance", Ref: id}
	}
	return inst, nil
}

// configCalendar fetches a config and compiles its calendar.
func (s *Service) configCalendar(ctx context.Context, configID string) (*models.SLAConfig, *businesscal.Calendar, error) {
	cfg, err := s.store.GetConfig(ctx, configID)
	if err != nil {
		return nil, nil, fmt.Errorf("get config: %w", err)
	}
	if cfg == nil {
		return nil, nil, &NotFoundError{Kind: "config", Ref: configID}
	}
	cal, err := businesscal.New(cfg.Calendar)
	if err != nil {
		// Calendars are validated when the config is written; reaching this
		// means the stored record was corrupted out of band.
		return nil, nil, fmt.Errorf("config %s calendar: %w", cfg.ID, err)
	}
	return cfg, cal, nil
}

// update performs the guarded write and translates a stale result into the
// error a fresh read would have produced.
func (s *Service) update(ctx context.Context, op string, inst *models.SLAInstance, from models.SLAStatus) error {
	err := s.store.UpdateInstance(ctx, inst, from)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrStaleInstance) {
		return fmt.Errorf("update instance: %w", err)
	}

	cur, readErr := s.store.GetInstance(ctx, inst.ID)
	if readErr != nil || cur == nil {
		return &NotFoundError{Kind: "instance", Ref: inst.ID}
	}
	s.logger.Printf("sla: %s of %s lost race, status now %s", op, inst.ID, cur.Status)
	return &ValidationError{Op: op, Ref: inst.ID, Status: cur.Status,
		Reason: "instance changed concurrently"}
}

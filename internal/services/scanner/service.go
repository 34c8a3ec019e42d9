// Package scanner periodically finds active SLA instances whose deadline has
// passed and finalizes them as breached.
package scanner

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tracklane-io/tracklane/internal/models"
	"github.com/tracklane-io/tracklane/internal/services/businesscal"
	"github.com/tracklane-io/tracklane/internal/services/sla"
)

// Service drives the breach scan on a cron schedule. Each overdue instance is
// completed through the lifecycle service, so every finalization goes through
// the same status-guarded write as an interactive completion; a scan racing
// another writer loses cleanly.
type Service struct {
	store     sla.Store
	lifecycle *sla.Service
	cron      *cron.Cron
	schedule  string
	batch     int
	now       func() time.Time
	logger    *log.Logger
	metrics   *sla.Metrics
	startOnce sync.Once
	stopOnce  sync.Once
}

// Option configures the scanner.
type Option func(*Service)

// WithSchedule sets the cron expression, default every minute.
func WithSchedule(expr string) Option {
	return func(s *Service) { s.schedule = expr }
}

// WithBatch caps how many instances one scan cycle finalizes.
func WithBatch(n int) Option {
	return func(s *Service) { s.batch = n }
}

// WithClock injects a "now" provider, for testability.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics reports the active-instance population each scan cycle.
func WithMetrics(m *sla.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService wires a scanner around the store and lifecycle service.
func NewService(store sla.Store, lifecycle *sla.Service, opts ...Option) *Service {
	s := &Service{
		store:     store,
		lifecycle: lifecycle,
		schedule:  "*/1 * * * *",
		batch:     500,
		now:       time.Now,
		logger:    log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules the scan job and starts the cron loop.
func (s *Service) Start(ctx context.Context) error {
	var err error
	s.startOnce.Do(func() {
		s.cron = cron.New()
		_, err = s.cron.AddFunc(s.schedule, func() {
			if n, scanErr := s.Scan(ctx); scanErr != nil {
				s.logger.Printf("scanner: scan failed: %v", scanErr)
			} else if n > 0 {
				s.logger.Printf("scanner: finalized %d breached instances", n)
			}
		})
		if err != nil {
			return
		}
		s.cron.Start()
	})
	return err
}

// Stop halts the cron loop; running jobs finish.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		if s.cron != nil {
			<-s.cron.Stop().Done()
		}
	})
}

// Scan runs one cycle: every active instance past its deadline is completed,
// which the lifecycle service records as breached. Instances whose calendar
// says the current moment is outside business hours are left for a later
// cycle. Returns how many instances were finalized.
func (s *Service) Scan(ctx context.Context) (int, error) {
	active := models.StatusActive
	insts, err := s.store.ListInstances(ctx, models.InstanceFilter{Status: &active})
	if err != nil {
		return 0, err
	}
	s.metrics.ObserveActive(len(insts))

	now := s.now().UTC()
	calendars := make(map[string]*businesscal.Calendar)
	finalized := 0

	for _, inst := range insts {
		if finalized >= s.batch {
			break
		}
		if !now.After(inst.BreachAt) {
			continue
		}

		cal, ok := calendars[inst.ConfigID]
		if !ok {
			cfg, err := s.store.GetConfig(ctx, inst.ConfigID)
			if err != nil {
				s.logger.Printf("scanner: config %s for instance %s: %v", inst.ConfigID, inst.ID, err)
				continue
			}
			if cfg == nil {
				// Orphaned config pointer; nothing to scan against.
				continue
			}
			cal, err = businesscal.New(cfg.Calendar)
			if err != nil {
				s.logger.Printf("scanner: config %s calendar: %v", inst.ConfigID, err)
				continue
			}
			calendars[inst.ConfigID] = cal
		}

		if !cal.IsWorkTime(now) {
			continue
		}

		if _, err := s.lifecycle.Complete(ctx, inst.ID); err != nil {
			// A validation failure means another writer got there first.
			if !sla.IsValidation(err) && !sla.IsNotFound(err) {
				s.logger.Printf("scanner: complete %s: %v", inst.ID, err)
			}
			continue
		}
		finalized++
	}

	return finalized, nil
}

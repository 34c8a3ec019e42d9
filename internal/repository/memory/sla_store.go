// Package memory provides in-memory store implementations used by tests and
// single-process development setups.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/tracklane-io/tracklane/internal/models"
	"github.com/tracklane-io/tracklane/internal/services/sla"
)

// SLAStore is an in-memory implementation of the sla.Store interface. The
// status-guarded update holds the write lock for the whole compare-and-set,
// giving the same atomicity the SQL store gets from its conditional UPDATE.
type SLAStore struct {
	configs   map[string]*models.SLAConfig
	instances map[string]*models.SLAInstance
	mu        sync.RWMutex
}

// NewSLAStore creates an empty in-memory SLA store.
func NewSLAStore() *SLAStore {
	return &SLAStore{
		configs:   make(map[string]*models.SLAConfig),
		instances: make(map[string]*models.SLAInstance),
	}
}

var _ sla.Store = (*SLAStore)(nil)

// GetConfig retrieves a config by ID, or (nil, nil) when absent.
func (s *SLAStore) GetConfig(ctx context.Context, id string) (*models.SLAConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[id]
	if !ok {
		return nil, nil
	}
	clone := *cfg
	return &clone, nil
}

// CreateConfig stores a new config.
func (s *SLAStore) CreateConfig(ctx context.Context, cfg *models.SLAConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.configs[cfg.ID]; exists {
		return fmt.Errorf("config %s already exists", cfg.ID)
	}
	clone := *cfg
	s.configs[cfg.ID] = &clone
	return nil
}

// UpdateConfig replaces a stored config.
func (s *SLAStore) UpdateConfig(ctx context.Context, cfg *models.SLAConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.configs[cfg.ID]; !exists {
		return fmt.Errorf("config %s does not exist", cfg.ID)
	}
	clone := *cfg
	s.configs[cfg.ID] = &clone
	return nil
}

// ListConfigs returns the configs owned by a tenant; an empty tenant ID
// returns everything.
func (s *SLAStore) ListConfigs(ctx context.Context, tenantID string) ([]*models.SLAConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.SLAConfig
	for _, cfg := range s.configs {
		if tenantID != "" && cfg.TenantID != tenantID {
			continue
		}
		clone := *cfg
		out = append(out, &clone)
	}
	return out, nil
}

// GetInstance retrieves an instance by ID, or (nil, nil) when absent.
func (s *SLAStore) GetInstance(ctx context.Context, id string) (*models.SLAInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, nil
	}
	clone := *inst
	return &clone, nil
}

// CreateInstance stores a new instance.
func (s *SLAStore) CreateInstance(ctx context.Context, inst *models.SLAInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[inst.ID]; exists {
		return fmt.Errorf("instance %s already exists", inst.ID)
	}
	clone := *inst
	s.instances[inst.ID] = &clone
	return nil
}

// UpdateInstance replaces an instance only if its stored status still equals
// from, per the sla.Store contract.
func (s *SLAStore) UpdateInstance(ctx context.Context, inst *models.SLAInstance, from models.SLAStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.instances[inst.ID]
	if !ok || cur.Status != from {
		return sla.ErrStaleInstance
	}
	clone := *inst
	s.instances[inst.ID] = &clone
	return nil
}

// ListInstances returns instances matching the filter.
func (s *SLAStore) ListInstances(ctx context.Context, filter models.InstanceFilter) ([]*models.SLAInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.SLAInstance
	for _, inst := range s.instances {
		if filter.EntityID != "" && inst.EntityID != filter.EntityID {
			continue
		}
		if filter.ConfigID != "" && inst.ConfigID != filter.ConfigID {
			continue
		}
		if filter.Status != nil && inst.Status != *filter.Status {
			continue
		}
		clone := *inst
		out = append(out, &clone)
	}
	return out, nil
}

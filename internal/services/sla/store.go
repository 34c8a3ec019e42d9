package sla

import (
	"context"
	"errors"

	"github.com/tracklane-io/tracklane/internal/models"
)

// ErrStaleInstance is returned by Store.UpdateInstance when the guarded write
// matched no row because the instance's status moved since it was read.
var ErrStaleInstance = errors.New("sla: instance status changed since read")

// Store is the record-store collaborator. Implementations must make
// UpdateInstance a conditional write keyed on the expected current status, so
// two racing transitions cannot both succeed from a stale read. Get methods
// return (nil, nil) when the record does not exist.
type Store interface {
	GetConfig(ctx context.Context, id string) (*models.SLAConfig, error)
	CreateConfig(ctx context.Context, cfg *models.SLAConfig) error
	UpdateConfig(ctx context.Context, cfg *models.SLAConfig) error
	ListConfigs(ctx context.Context, tenantID string) ([]*models.SLAConfig, error)

	GetInstance(ctx context.Context, id string) (*models.SLAInstance, error)
	CreateInstance(ctx context.Context, inst *models.SLAInstance) error
	// UpdateInstance persists inst only if the stored status still equals
	// from; otherwise it returns ErrStaleInstance without writing.
	UpdateInstance(ctx context.Context, inst *models.SLAInstance, from models.SLAStatus) error
	ListInstances(ctx context.Context, filter models.InstanceFilter) ([]*models.SLAInstance, error)
}

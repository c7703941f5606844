package devices

import (
	"context"
	"time"

	"github.com/dmitrijs2005/vaultguard/internal/server/models"
)

// Repository is the device registry plus the per-device replica state.
type Repository interface {
	Create(ctx context.Context, d *models.Device) error
	Get(ctx context.Context, id string) (*models.Device, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Device, error)
	SetStatus(ctx context.Context, id string, status models.DeviceStatus, at time.Time) error
	// MarkSynced sets the status and the last successful sync instant.
	MarkSynced(ctx context.Context, id string, status models.DeviceStatus, at time.Time) error
	// ClearPrimary drops the primary flag of every device of ownerID.
	ClearPrimary(ctx context.Context, ownerID string) error
	SetPrimary(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error

	ListReplicas(ctx context.Context, deviceID string, dataType models.DataType) ([]*models.Replica, error)
	UpsertReplica(ctx context.Context, r *models.Replica) error
}

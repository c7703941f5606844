package synclogs

import (
	"context"
	"time"

	"github.com/dmitrijs2005/vaultguard/internal/server/models"
)

// Repository persists sync logs.
type Repository interface {
	// Create inserts l. A second active log for the same device is ErrConflict.
	Create(ctx context.Context, l *models.SyncLog) error
	Get(ctx context.Context, id string) (*models.SyncLog, error)
	GetActiveByDevice(ctx context.Context, deviceID string) (*models.SyncLog, error)
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]*models.SyncLog, error)
	// Start moves an initiated log to in_progress.
	Start(ctx context.Context, l *models.SyncLog) (bool, error)
	// Finish writes a terminal state only while the stored log is still
	// non-terminal, so a cancellation is never overwritten.
	Finish(ctx context.Context, l *models.SyncLog) (bool, error)
	UpdateConflicts(ctx context.Context, l *models.SyncLog) error
	ListStale(ctx context.Context, before time.Time) ([]*models.SyncLog, error)
}

package backups

import (
	"context"
	"time"

	"github.com/dmitrijs2005/vaultguard/internal/server/models"
)

// Repository persists backup records.
type Repository interface {
	// Create inserts b. A second active backup of the same owner is ErrConflict.
	Create(ctx context.Context, b *models.Backup) error
	Get(ctx context.Context, id string) (*models.Backup, error)
	// GetActive returns the initiated or in_progress backup of ownerID.
	GetActive(ctx context.Context, ownerID string) (*models.Backup, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Backup, error)
	// Transition writes b only while the stored status still equals from.
	// It reports false when another writer moved the record first.
	Transition(ctx context.Context, b *models.Backup, from models.BackupStatus) (bool, error)
	// UpdateHealth writes the health metrics of a completed backup and nothing else.
	UpdateHealth(ctx context.Context, b *models.Backup) error
	Delete(ctx context.Context, ownerID, id string) error
	// ListStale returns non-terminal or restoring records not updated since before.
	ListStale(ctx context.Context, before time.Time) ([]*models.Backup, error)
}

package items

import (
	"context"

	"github.com/dmitrijs2005/vaultguard/internal/server/models"
)

// Repository is the engine's read view of the vault item store.
type Repository interface {
	ListActiveItems(ctx context.Context, ownerID string, dataType models.DataType) ([]*models.VaultItem, error)
	CountItems(ctx context.Context, ownerID string, dataType models.DataType) (int, error)
	// ListOwners returns every owner holding at least one active item.
	ListOwners(ctx context.Context) ([]string, error)
	// AcceptRemote records a device copy as the new server version and
	// returns that version.
	AcceptRemote(ctx context.Context, ownerID, itemID, checksum string) (int64, error)
}

package notifications

import (
	"context"

	"github.com/dmitrijs2005/vaultguard/internal/server/models"
)

// Repository is the append-only notification sink of an owner.
type Repository interface {
	Append(ctx context.Context, n *models.Notification) error
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*models.Notification, error)
}

package alerts

import (
	"context"
	"time"

	"github.com/dmitrijs2005/vaultguard/internal/server/models"
)

// Repository persists expiry alerts. At most one unresolved alert exists per
// (owner, relatedTo, relatedID); Create reports ErrConflict otherwise.
type Repository interface {
	Create(ctx context.Context, a *models.Alert) error
	GetUnresolved(ctx context.Context, ownerID, relatedTo, relatedID string) (*models.Alert, error)
	ListUnresolved(ctx context.Context, ownerID string) ([]*models.Alert, error)
	// Escalate rewrites severity, texts, expiry and metadata of an unresolved alert.
	Escalate(ctx context.Context, a *models.Alert) error
	MarkRead(ctx context.Context, ownerID, id string) error
	Resolve(ctx context.Context, ownerID, id string, at time.Time) error
}

package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/vaultguard/internal/logging"
	"github.com/dmitrijs2005/vaultguard/internal/server/models"
	"github.com/dmitrijs2005/vaultguard/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// Notifier appends human-readable events to an owner's notification list.
type Notifier struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	log         logging.Logger
	now         func() time.Time
}

func NewNotifier(db *sql.DB, m repomanager.RepositoryManager, log logging.Logger) *Notifier {
	return &Notifier{db: db, repomanager: m, log: log.With("module", "notifier"), now: time.Now}
}

// Notify appends n. Failures are logged and returned; job bodies ignore them
// because the record's terminal state is already persisted.
func (s *Notifier) Notify(ctx context.Context, n models.Notification) error {
	n.ID = uuid.NewString()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	if err := s.repomanager.Notifications(s.db).Append(ctx, &n); err != nil {
		s.log.Warn(ctx, "notification not appended", "owner_id", n.OwnerID, "category", n.Category, "error", err)
		return dependency("append notification", err)
	}
	return nil
}

// List returns the newest notifications of ownerID.
func (s *Notifier) List(ctx context.Context, ownerID string, limit int) ([]*models.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	list, err := s.repomanager.Notifications(s.db).ListByOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, dependency("list notifications", err)
	}
	return list, nil
}

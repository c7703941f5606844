// Package notifications stores the per-owner notification list in PostgreSQL.
package notifications

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/vaultguard/internal/dbx"
	"github.com/dmitrijs2005/vaultguard/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append inserts n. Appends never conflict with each other.
func (r *PostgresRepository) Append(ctx context.Context, n *models.Notification) error {
	var action any
	if n.Action != nil {
		raw, err := dbx.JSON(n.Action)
		if err != nil {
			return fmt.Errorf("encode action: %w", err)
		}
		action = raw
	}
	meta := n.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	rawMeta, err := dbx.JSON(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	query := `INSERT INTO notifications (id, owner_id, title, message, type, category, action, metadata, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := r.db.ExecContext(ctx, query, n.ID, n.OwnerID, n.Title, n.Message, n.Type, n.Category, action,
		rawMeta, n.IsRead, n.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ListByOwner returns the newest notifications first.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*models.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, owner_id, title, message, type, category, action, metadata,
			is_read, created_at
		FROM notifications WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select notifications: %w", err)
	}
	defer rows.Close()

	var result []*models.Notification
	for rows.Next() {
		var (
			n            models.Notification
			action, meta []byte
		)
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.Title, &n.Message, &n.Type, &n.Category, &action, &meta,
			&n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		if len(action) > 0 {
			n.Action = &models.Action{}
			if err := dbx.ScanJSON(action, n.Action); err != nil {
				return nil, fmt.Errorf("decode action: %w", err)
			}
		}
		if err := dbx.ScanJSON(meta, &n.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		result = append(result, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

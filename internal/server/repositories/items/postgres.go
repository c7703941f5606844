// Package items reads vault items (passwords, documents and QR-encoded
// cards/passes) from PostgreSQL.
package items

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vaultguard/internal/common"
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

// ListActiveItems returns active items of one category ordered by id.
func (r *PostgresRepository) ListActiveItems(ctx context.Context, ownerID string, dataType models.DataType) ([]*models.VaultItem, error) {
	query := `SELECT id, owner_id, type, title, category, data, encoded_data, expires_at, version, checksum,
			size_bytes, is_active, updated_at
		FROM vault_items WHERE owner_id = $1 AND type = $2 AND is_active ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, ownerID, string(dataType))
	if err != nil {
		return nil, fmt.Errorf("failed to select items: %w", err)
	}
	defer rows.Close()

	var result []*models.VaultItem
	for rows.Next() {
		var (
			item    models.VaultItem
			typ     string
			expires sql.NullTime
		)
		if err := rows.Scan(&item.ID, &item.OwnerID, &typ, &item.Title, &item.Category, &item.Data,
			&item.EncodedData, &expires, &item.Version, &item.Checksum, &item.SizeBytes, &item.IsActive,
			&item.UpdatedAt); err != nil {
			return nil, err
		}
		item.Type = models.DataType(typ)
		item.ExpiresAt = dbx.TimePtr(expires)
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CountItems counts active items of one category.
func (r *PostgresRepository) CountItems(ctx context.Context, ownerID string, dataType models.DataType) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vault_items WHERE owner_id = $1 AND type = $2 AND is_active`,
		ownerID, string(dataType)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// ListOwners returns distinct owners of active items.
func (r *PostgresRepository) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT owner_id FROM vault_items WHERE is_active ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select owners: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// AcceptRemote bumps the item version and stores the device checksum.
func (r *PostgresRepository) AcceptRemote(ctx context.Context, ownerID, itemID, checksum string) (int64, error) {
	var version int64
	err := r.db.QueryRowContext(ctx, `UPDATE vault_items SET checksum = $1, version = version + 1, updated_at = now()
		WHERE id = $2 AND owner_id = $3 AND is_active RETURNING version`, checksum, itemID, ownerID).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return version, nil
}

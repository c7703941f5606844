// Package alerts provides PostgreSQL-backed persistence of expiry alerts.
package alerts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vaultguard/internal/common"
	"github.com/dmitrijs2005/vaultguard/internal/dbx"
	"github.com/dmitrijs2005/vaultguard/internal/server/models"
)

const columns = `id, owner_id, type, severity, title, message, related_to, related_id, is_read, is_resolved,
	action_required, action, expiry_date, metadata, created_at, resolved_at`

// PostgresRepository implements Repository over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts an alert.
func (r *PostgresRepository) Create(ctx context.Context, a *models.Alert) error {
	var action any
	if a.Action != nil {
		raw, err := dbx.JSON(a.Action)
		if err != nil {
			return fmt.Errorf("encode action: %w", err)
		}
		action = raw
	}
	meta, err := dbx.JSON(a.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	query := `INSERT INTO alerts (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err = r.db.ExecContext(ctx, query,
		a.ID, a.OwnerID, string(a.Type), string(a.Severity), a.Title, a.Message, a.RelatedTo, a.RelatedID,
		a.IsRead, a.IsResolved, a.ActionRequired, action, dbx.NullTime(a.ExpiryDate), meta, a.CreatedAt.UTC(),
		dbx.NullTime(a.ResolvedAt))
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return fmt.Errorf("%w: unresolved alert exists for %s/%s", common.ErrConflict, a.RelatedTo, a.RelatedID)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.Alert, error) {
	var (
		a                    models.Alert
		typ, severity        string
		action, meta         []byte
		expiry, resolvedTime sql.NullTime
	)
	if err := s.Scan(&a.ID, &a.OwnerID, &typ, &severity, &a.Title, &a.Message, &a.RelatedTo, &a.RelatedID,
		&a.IsRead, &a.IsResolved, &a.ActionRequired, &action, &expiry, &meta, &a.CreatedAt, &resolvedTime); err != nil {
		return nil, err
	}
	a.Type = models.AlertType(typ)
	a.Severity = models.Severity(severity)
	a.ExpiryDate = dbx.TimePtr(expiry)
	a.ResolvedAt = dbx.TimePtr(resolvedTime)
	if len(action) > 0 {
		a.Action = &models.Action{}
		if err := dbx.ScanJSON(action, a.Action); err != nil {
			return nil, fmt.Errorf("decode action: %w", err)
		}
	}
	if err := dbx.ScanJSON(meta, &a.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &a, nil
}

// GetUnresolved returns the open alert for a related record or ErrNotFound.
func (r *PostgresRepository) GetUnresolved(ctx context.Context, ownerID, relatedTo, relatedID string) (*models.Alert, error) {
	a, err := scan(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM alerts
		WHERE owner_id = $1 AND related_to = $2 AND related_id = $3 AND NOT is_resolved`,
		ownerID, relatedTo, relatedID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

// ListUnresolved returns open alerts, soonest expiry first.
func (r *PostgresRepository) ListUnresolved(ctx context.Context, ownerID string) ([]*models.Alert, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+columns+` FROM alerts
		WHERE owner_id = $1 AND NOT is_resolved ORDER BY expiry_date NULLS LAST, created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to select alerts: %w", err)
	}
	defer rows.Close()

	var result []*models.Alert
	for rows.Next() {
		a, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// Escalate updates an unresolved alert in place.
func (r *PostgresRepository) Escalate(ctx context.Context, a *models.Alert) error {
	meta, err := dbx.JSON(a.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return r.execOne(ctx, `UPDATE alerts SET severity = $1, title = $2, message = $3, expiry_date = $4,
			metadata = $5, is_read = FALSE
		WHERE id = $6 AND NOT is_resolved`,
		string(a.Severity), a.Title, a.Message, dbx.NullTime(a.ExpiryDate), meta, a.ID)
}

// MarkRead flags an alert of ownerID as read.
func (r *PostgresRepository) MarkRead(ctx context.Context, ownerID, id string) error {
	return r.execOne(ctx, `UPDATE alerts SET is_read = TRUE WHERE id = $1 AND owner_id = $2`, id, ownerID)
}

// Resolve closes an alert of ownerID. Resolving twice keeps the first instant.
func (r *PostgresRepository) Resolve(ctx context.Context, ownerID, id string, at time.Time) error {
	return r.execOne(ctx, `UPDATE alerts SET is_resolved = TRUE, resolved_at = COALESCE(resolved_at, $1)
		WHERE id = $2 AND owner_id = $3`, at.UTC(), id, ownerID)
}

// Package backups provides PostgreSQL-backed persistence of backup records.
package backups

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

const columns = `id, owner_id, kind, status, data_types, selection, size_bytes, items_backed_up,
	storage_location, checksum, algorithm, key_material, iv, health, restorable, error,
	started_at, completed_at, last_restored_at, updated_at`

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type encoded struct {
	dataTypes, selection, counts, health, jobErr []byte
}

func encode(b *models.Backup) (*encoded, error) {
	var (
		e   encoded
		err error
	)
	if e.dataTypes, err = dbx.JSON(b.DataTypes); err != nil {
		return nil, err
	}
	if b.Selection != nil {
		if e.selection, err = dbx.JSON(b.Selection); err != nil {
			return nil, err
		}
	}
	if e.counts, err = dbx.JSON(b.ItemsBackedUp); err != nil {
		return nil, err
	}
	if e.health, err = dbx.JSON(b.Health); err != nil {
		return nil, err
	}
	if b.Error != nil {
		if e.jobErr, err = dbx.JSON(b.Error); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

// nullable maps an absent JSON document to SQL NULL.
func nullable(raw []byte) any {
	if raw == nil {
		return nil
	}
	return raw
}

// Create inserts a new backup record.
func (r *PostgresRepository) Create(ctx context.Context, b *models.Backup) error {
	e, err := encode(b)
	if err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}
	query := `INSERT INTO backups (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`
	_, err = r.db.ExecContext(ctx, query,
		b.ID, b.OwnerID, string(b.Kind), string(b.Status), e.dataTypes, nullable(e.selection), b.SizeBytes, e.counts,
		b.StorageLocation, b.Checksum, b.Encryption.Algorithm, b.Encryption.KeyMaterial, b.Encryption.IV, e.health,
		b.Restorable, nullable(e.jobErr), b.StartedAt.UTC(), dbx.NullTime(b.CompletedAt), dbx.NullTime(b.LastRestoredAt),
		b.UpdatedAt.UTC(),
	)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return fmt.Errorf("%w: owner %s already has an active backup", common.ErrConflict, b.OwnerID)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.Backup, error) {
	var (
		b                                      models.Backup
		kind, status                           string
		dataTypes, sel, counts, health, jobErr []byte
		completedAt, restoredAt                sql.NullTime
	)
	err := s.Scan(&b.ID, &b.OwnerID, &kind, &status, &dataTypes, &sel, &b.SizeBytes, &counts,
		&b.StorageLocation, &b.Checksum, &b.Encryption.Algorithm, &b.Encryption.KeyMaterial, &b.Encryption.IV, &health,
		&b.Restorable, &jobErr, &b.StartedAt, &completedAt, &restoredAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Kind = models.BackupKind(kind)
	b.Status = models.BackupStatus(status)
	b.CompletedAt = dbx.TimePtr(completedAt)
	b.LastRestoredAt = dbx.TimePtr(restoredAt)
	if err := dbx.ScanJSON(dataTypes, &b.DataTypes); err != nil {
		return nil, fmt.Errorf("decode data_types: %w", err)
	}
	if len(sel) > 0 {
		b.Selection = &models.Selection{}
		if err := dbx.ScanJSON(sel, b.Selection); err != nil {
			return nil, fmt.Errorf("decode selection: %w", err)
		}
	}
	if err := dbx.ScanJSON(counts, &b.ItemsBackedUp); err != nil {
		return nil, fmt.Errorf("decode items_backed_up: %w", err)
	}
	if err := dbx.ScanJSON(health, &b.Health); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	if len(jobErr) > 0 {
		b.Error = &models.JobError{}
		if err := dbx.ScanJSON(jobErr, b.Error); err != nil {
			return nil, fmt.Errorf("decode error: %w", err)
		}
	}
	return &b, nil
}

func (r *PostgresRepository) queryOne(ctx context.Context, query string, args ...any) (*models.Backup, error) {
	b, err := scan(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return b, nil
}

func (r *PostgresRepository) queryMany(ctx context.Context, query string, args ...any) ([]*models.Backup, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select backups: %w", err)
	}
	defer rows.Close()

	var result []*models.Backup
	for rows.Next() {
		b, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Get returns the backup with the given id or ErrNotFound.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Backup, error) {
	return r.queryOne(ctx, `SELECT `+columns+` FROM backups WHERE id = $1`, id)
}

// GetActive returns the active backup of ownerID or ErrNotFound.
func (r *PostgresRepository) GetActive(ctx context.Context, ownerID string) (*models.Backup, error) {
	return r.queryOne(ctx, `SELECT `+columns+` FROM backups
		WHERE owner_id = $1 AND status IN ('initiated', 'in_progress') LIMIT 1`, ownerID)
}

// ListByOwner returns the owner's backups, newest first.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Backup, error) {
	return r.queryMany(ctx, `SELECT `+columns+` FROM backups WHERE owner_id = $1 ORDER BY started_at DESC`, ownerID)
}

// ListStale returns records stuck in initiated, in_progress or restoring.
func (r *PostgresRepository) ListStale(ctx context.Context, before time.Time) ([]*models.Backup, error) {
	return r.queryMany(ctx, `SELECT `+columns+` FROM backups
		WHERE status IN ('initiated', 'in_progress', 'restoring') AND updated_at < $1`, before.UTC())
}

// Transition performs a compare-and-set on status.
func (r *PostgresRepository) Transition(ctx context.Context, b *models.Backup, from models.BackupStatus) (bool, error) {
	e, err := encode(b)
	if err != nil {
		return false, fmt.Errorf("encode backup: %w", err)
	}
	query := `UPDATE backups SET
			status = $1, data_types = $2, size_bytes = $3, items_backed_up = $4, storage_location = $5,
			checksum = $6, algorithm = $7, key_material = $8, iv = $9, health = $10, restorable = $11,
			error = $12, completed_at = $13, last_restored_at = $14, updated_at = $15
		WHERE id = $16 AND status = $17`
	res, err := r.db.ExecContext(ctx, query,
		string(b.Status), e.dataTypes, b.SizeBytes, e.counts, b.StorageLocation,
		b.Checksum, b.Encryption.Algorithm, b.Encryption.KeyMaterial, b.Encryption.IV, e.health, b.Restorable,
		nullable(e.jobErr), dbx.NullTime(b.CompletedAt), dbx.NullTime(b.LastRestoredAt), b.UpdatedAt.UTC(),
		b.ID, string(from),
	)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return false, fmt.Errorf("%w: owner %s already has an active backup", common.ErrConflict, b.OwnerID)
		}
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("unexpected rows affected: %d", n)
	}
}

// UpdateHealth refreshes health metrics without touching status.
func (r *PostgresRepository) UpdateHealth(ctx context.Context, b *models.Backup) error {
	health, err := dbx.JSON(b.Health)
	if err != nil {
		return fmt.Errorf("encode health: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE backups SET health = $1, updated_at = $2 WHERE id = $3 AND status = 'completed'`,
		health, b.UpdatedAt.UTC(), b.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res)
}

// Delete removes a terminal backup of ownerID.
func (r *PostgresRepository) Delete(ctx context.Context, ownerID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM backups WHERE id = $1 AND owner_id = $2 AND status IN ('completed', 'failed')`, id, ownerID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

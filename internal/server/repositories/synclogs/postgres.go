// Package synclogs provides PostgreSQL-backed persistence of device sync logs.
package synclogs

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

const columns = `id, owner_id, device_id, type, status, data_types, items_synced, bytes_synced, duration_ms,
	conflicts, error, started_at, completed_at, updated_at`

// PostgresRepository implements Repository over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func encodeConflicts(l *models.SyncLog) ([]byte, error) {
	if l.Conflicts == nil {
		return []byte("[]"), nil
	}
	return dbx.JSON(l.Conflicts)
}

func encodeError(l *models.SyncLog) (any, error) {
	if l.Error == nil {
		return nil, nil
	}
	return dbx.JSON(l.Error)
}

// Create inserts a new sync log.
func (r *PostgresRepository) Create(ctx context.Context, l *models.SyncLog) error {
	dataTypes, err := dbx.JSON(l.DataTypes)
	if err != nil {
		return fmt.Errorf("encode data types: %w", err)
	}
	counts, err := dbx.JSON(l.ItemsSynced)
	if err != nil {
		return fmt.Errorf("encode counts: %w", err)
	}
	conflicts, err := encodeConflicts(l)
	if err != nil {
		return fmt.Errorf("encode conflicts: %w", err)
	}
	jobErr, err := encodeError(l)
	if err != nil {
		return fmt.Errorf("encode error: %w", err)
	}

	query := `INSERT INTO sync_logs (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err = r.db.ExecContext(ctx, query,
		l.ID, l.OwnerID, l.DeviceID, string(l.Type), string(l.Status), dataTypes, counts, l.BytesSynced,
		l.Duration.Milliseconds(), conflicts, jobErr, l.StartedAt.UTC(), dbx.NullTime(l.CompletedAt), l.UpdatedAt.UTC())
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return fmt.Errorf("%w: device %s is already syncing", common.ErrConflict, l.DeviceID)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.SyncLog, error) {
	var (
		l                                   models.SyncLog
		typ, status                         string
		dataTypes, counts, conflicts, jbErr []byte
		durationMs                          int64
		completedAt                         sql.NullTime
	)
	err := s.Scan(&l.ID, &l.OwnerID, &l.DeviceID, &typ, &status, &dataTypes, &counts, &l.BytesSynced, &durationMs,
		&conflicts, &jbErr, &l.StartedAt, &completedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.Type = models.SyncType(typ)
	l.Status = models.SyncStatus(status)
	l.Duration = time.Duration(durationMs) * time.Millisecond
	l.CompletedAt = dbx.TimePtr(completedAt)
	if err := dbx.ScanJSON(dataTypes, &l.DataTypes); err != nil {
		return nil, fmt.Errorf("decode data_types: %w", err)
	}
	if err := dbx.ScanJSON(counts, &l.ItemsSynced); err != nil {
		return nil, fmt.Errorf("decode items_synced: %w", err)
	}
	if err := dbx.ScanJSON(conflicts, &l.Conflicts); err != nil {
		return nil, fmt.Errorf("decode conflicts: %w", err)
	}
	if len(jbErr) > 0 {
		l.Error = &models.JobError{}
		if err := dbx.ScanJSON(jbErr, l.Error); err != nil {
			return nil, fmt.Errorf("decode error: %w", err)
		}
	}
	return &l, nil
}

func (r *PostgresRepository) queryOne(ctx context.Context, query string, args ...any) (*models.SyncLog, error) {
	l, err := scan(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return l, nil
}

func (r *PostgresRepository) queryMany(ctx context.Context, query string, args ...any) ([]*models.SyncLog, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select sync logs: %w", err)
	}
	defer rows.Close()

	var result []*models.SyncLog
	for rows.Next() {
		l, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Get returns the sync log with the given id or ErrNotFound.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.SyncLog, error) {
	return r.queryOne(ctx, `SELECT `+columns+` FROM sync_logs WHERE id = $1`, id)
}

// GetActiveByDevice returns the non-terminal log of deviceID or ErrNotFound.
func (r *PostgresRepository) GetActiveByDevice(ctx context.Context, deviceID string) (*models.SyncLog, error) {
	return r.queryOne(ctx, `SELECT `+columns+` FROM sync_logs
		WHERE device_id = $1 AND status IN ('initiated', 'in_progress') LIMIT 1`, deviceID)
}

// ListByDevice returns the most recent logs of deviceID.
func (r *PostgresRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]*models.SyncLog, error) {
	return r.queryMany(ctx, `SELECT `+columns+` FROM sync_logs
		WHERE device_id = $1 ORDER BY started_at DESC LIMIT $2`, deviceID, limit)
}

// ListStale returns active logs not updated since before.
func (r *PostgresRepository) ListStale(ctx context.Context, before time.Time) ([]*models.SyncLog, error) {
	return r.queryMany(ctx, `SELECT `+columns+` FROM sync_logs
		WHERE status IN ('initiated', 'in_progress') AND updated_at < $1`, before.UTC())
}

// Start performs initiated -> in_progress.
func (r *PostgresRepository) Start(ctx context.Context, l *models.SyncLog) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sync_logs SET status = 'in_progress', updated_at = $1 WHERE id = $2 AND status = 'initiated'`,
		l.UpdatedAt.UTC(), l.ID)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return applied(res)
}

// Finish writes the terminal fields of l if the log is still active.
func (r *PostgresRepository) Finish(ctx context.Context, l *models.SyncLog) (bool, error) {
	counts, err := dbx.JSON(l.ItemsSynced)
	if err != nil {
		return false, fmt.Errorf("encode counts: %w", err)
	}
	conflicts, err := encodeConflicts(l)
	if err != nil {
		return false, fmt.Errorf("encode conflicts: %w", err)
	}
	jobErr, err := encodeError(l)
	if err != nil {
		return false, fmt.Errorf("encode error: %w", err)
	}
	query := `UPDATE sync_logs SET
			status = $1, items_synced = $2, bytes_synced = $3, duration_ms = $4, conflicts = $5, error = $6,
			completed_at = $7, updated_at = $8
		WHERE id = $9 AND status IN ('initiated', 'in_progress')`
	res, err := r.db.ExecContext(ctx, query,
		string(l.Status), counts, l.BytesSynced, l.Duration.Milliseconds(), conflicts, jobErr,
		dbx.NullTime(l.CompletedAt), l.UpdatedAt.UTC(), l.ID)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return applied(res)
}

// UpdateConflicts rewrites the conflict list of a log.
func (r *PostgresRepository) UpdateConflicts(ctx context.Context, l *models.SyncLog) error {
	conflicts, err := encodeConflicts(l)
	if err != nil {
		return fmt.Errorf("encode conflicts: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE sync_logs SET conflicts = $1, updated_at = $2 WHERE id = $3`, conflicts, l.UpdatedAt.UTC(), l.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	ok, err := applied(res)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrNotFound
	}
	return nil
}

func applied(res sql.Result) (bool, error) {
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

// Package devices provides the PostgreSQL device registry and replica store.
package devices

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

const columns = `id, owner_id, name, type, is_trusted, is_primary, sync_enabled, sync_settings, status,
	last_active_at, last_synced_at, created_at`

// PostgresRepository implements Repository over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create registers a device. A second primary device of the owner is ErrConflict.
func (r *PostgresRepository) Create(ctx context.Context, d *models.Device) error {
	settings, err := dbx.JSON(d.Settings)
	if err != nil {
		return fmt.Errorf("encode sync settings: %w", err)
	}
	query := `INSERT INTO devices (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = r.db.ExecContext(ctx, query,
		d.ID, d.OwnerID, d.Name, d.Type, d.IsTrusted, d.IsPrimary, d.SyncEnabled, settings, string(d.Status),
		dbx.NullTime(d.LastActiveAt), dbx.NullTime(d.LastSyncedAt), d.CreatedAt.UTC())
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return fmt.Errorf("%w: owner %s already has a primary device", common.ErrConflict, d.OwnerID)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.Device, error) {
	var (
		d                    models.Device
		settings             []byte
		status               string
		lastActive, lastSync sql.NullTime
	)
	if err := s.Scan(&d.ID, &d.OwnerID, &d.Name, &d.Type, &d.IsTrusted, &d.IsPrimary, &d.SyncEnabled, &settings,
		&status, &lastActive, &lastSync, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.Status = models.DeviceStatus(status)
	d.LastActiveAt = dbx.TimePtr(lastActive)
	d.LastSyncedAt = dbx.TimePtr(lastSync)
	if err := dbx.ScanJSON(settings, &d.Settings); err != nil {
		return nil, fmt.Errorf("decode sync settings: %w", err)
	}
	return &d, nil
}

// Get returns the device or ErrNotFound.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Device, error) {
	d, err := scan(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM devices WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}

// ListByOwner returns the owner's devices in registration order.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Device, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+columns+` FROM devices WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to select devices: %w", err)
	}
	defer rows.Close()

	var result []*models.Device
	for rows.Next() {
		d, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %v", common.ErrConflict, err)
		}
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

// SetStatus updates the status and last-active instant.
func (r *PostgresRepository) SetStatus(ctx context.Context, id string, status models.DeviceStatus, at time.Time) error {
	return r.execOne(ctx, `UPDATE devices SET status = $1, last_active_at = $2 WHERE id = $3`,
		string(status), at.UTC(), id)
}

// MarkSynced updates status, last-active and last-synced instants.
func (r *PostgresRepository) MarkSynced(ctx context.Context, id string, status models.DeviceStatus, at time.Time) error {
	return r.execOne(ctx, `UPDATE devices SET status = $1, last_active_at = $2, last_synced_at = $2 WHERE id = $3`,
		string(status), at.UTC(), id)
}

// ClearPrimary drops the primary flag on all devices of ownerID.
func (r *PostgresRepository) ClearPrimary(ctx context.Context, ownerID string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE devices SET is_primary = FALSE WHERE owner_id = $1 AND is_primary`, ownerID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// SetPrimary flags one device as primary.
func (r *PostgresRepository) SetPrimary(ctx context.Context, id string) error {
	return r.execOne(ctx, `UPDATE devices SET is_primary = TRUE WHERE id = $1`, id)
}

// Delete removes the device; its replicas and sync logs cascade.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	return r.execOne(ctx, `DELETE FROM devices WHERE id = $1`, id)
}

// ListReplicas returns the replica state of one category on deviceID.
func (r *PostgresRepository) ListReplicas(ctx context.Context, deviceID string, dataType models.DataType) ([]*models.Replica, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT device_id, item_id, data_type, base_version, checksum, dirty, modified_at
		FROM device_replicas WHERE device_id = $1 AND data_type = $2`, deviceID, string(dataType))
	if err != nil {
		return nil, fmt.Errorf("failed to select replicas: %w", err)
	}
	defer rows.Close()

	var result []*models.Replica
	for rows.Next() {
		var (
			rep models.Replica
			dt  string
		)
		if err := rows.Scan(&rep.DeviceID, &rep.ItemID, &dt, &rep.BaseVersion, &rep.Checksum, &rep.Dirty,
			&rep.ModifiedAt); err != nil {
			return nil, err
		}
		rep.DataType = models.DataType(dt)
		result = append(result, &rep)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpsertReplica inserts or replaces the replica state of one item.
func (r *PostgresRepository) UpsertReplica(ctx context.Context, rep *models.Replica) error {
	query := `
		INSERT INTO device_replicas (device_id, item_id, data_type, base_version, checksum, dirty, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (device_id, item_id)
		DO UPDATE SET
			data_type = EXCLUDED.data_type,
			base_version = EXCLUDED.base_version,
			checksum = EXCLUDED.checksum,
			dirty = EXCLUDED.dirty,
			modified_at = EXCLUDED.modified_at`
	if _, err := r.db.ExecContext(ctx, query, rep.DeviceID, rep.ItemID, string(rep.DataType), rep.BaseVersion,
		rep.Checksum, rep.Dirty, rep.ModifiedAt.UTC()); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

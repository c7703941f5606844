// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/vaultguard/internal/dbx"
	"github.com/dmitrijs2005/vaultguard/internal/server/migrations"
	"github.com/dmitrijs2005/vaultguard/internal/server/repositories/alerts"
	"github.com/dmitrijs2005/vaultguard/internal/server/repositories/backups"
	"github.com/dmitrijs2005/vaultguard/internal/server/repositories/devices"
	"github.com/dmitrijs2005/vaultguard/internal/server/repositories/items"
	"github.com/dmitrijs2005/vaultguard/internal/server/repositories/notifications"
	"github.com/dmitrijs2005/vaultguard/internal/server/repositories/synclogs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

func (m *PostgresRepositoryManager) Items(db dbx.DBTX) items.Repository {
	return items.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Backups(db dbx.DBTX) backups.Repository {
	return backups.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) SyncLogs(db dbx.DBTX) synclogs.Repository {
	return synclogs.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Devices(db dbx.DBTX) devices.Repository {
	return devices.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Alerts(db dbx.DBTX) alerts.Repository {
	return alerts.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Notifications(db dbx.DBTX) notifications.Repository {
	return notifications.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}

package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/vaultguard/internal/dbx"
	"github.com/dmitrijs2005/vaultguard/internal/server/repositories/alerts"
	"github.com/dmitrijs2005/vaultguard/internal/server/repositories/backups"
	"github.com/dmitrijs2005/vaultguard/internal/server/repositories/devices"
	"github.com/dmitrijs2005/vaultguard/internal/server/repositories/items"
	"github.com/dmitrijs2005/vaultguard/internal/server/repositories/notifications"
	"github.com/dmitrijs2005/vaultguard/internal/server/repositories/synclogs"
)

// RepositoryManager vends repositories bound to a *sql.DB or *sql.Tx.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Items(db dbx.DBTX) items.Repository
	Backups(db dbx.DBTX) backups.Repository
	SyncLogs(db dbx.DBTX) synclogs.Repository
	Devices(db dbx.DBTX) devices.Repository
	Alerts(db dbx.DBTX) alerts.Repository
	Notifications(db dbx.DBTX) notifications.Repository
}

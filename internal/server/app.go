// Package server assembles the vault engine: logging, the PostgreSQL
// repositories, the blob store, the job runner, the engine services, the
// expiration scheduler and the gRPC endpoint. It handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/vaultguard/internal/logging"
	"github.com/dmitrijs2005/vaultguard/internal/server/blobstore"
	"github.com/dmitrijs2005/vaultguard/internal/server/config"
	"github.com/dmitrijs2005/vaultguard/internal/server/jobs"
	"github.com/dmitrijs2005/vaultguard/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/vaultguard/internal/server/services"
	_ "github.com/jackc/pgx/v5/stdlib"

	gs "github.com/dmitrijs2005/vaultguard/internal/server/grpc"
)

const shutdownTimeout = 30 * time.Second

// seams for tests
var (
	openDB     = sql.Open
	newS3Store = func(ctx context.Context, opts blobstore.S3Options) (blobstore.Store, error) {
		return blobstore.NewS3Store(ctx, opts)
	}
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	logFile  io.Closer
	db       *sql.DB
	runner   *jobs.Runner
	notifier *services.Notifier
	backups  *services.BackupService
	syncs    *services.SyncService
	devices  *services.DeviceService
	alerts   *services.AlertService
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	w, closer := logging.NewWriter(logging.FileOptions{
		Path:       c.LogFile,
		MaxSizeMB:  c.LogMaxSizeMB,
		MaxBackups: c.LogMaxBackups,
	})
	logger := logging.NewJSONLogger(w, slog.LevelInfo)

	db, err := openDB("pgx", c.DatabaseDSN)
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("db open error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		_ = closer.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	blobs, err := newBlobStore(ctx, c)
	if err != nil {
		_ = db.Close()
		_ = closer.Close()
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	app := &App{config: c, logger: logger, logFile: closer, db: db}
	app.wire(rm, blobs)
	return app, nil
}

func (app *App) wire(rm repomanager.RepositoryManager, blobs blobstore.Store) {
	app.runner = jobs.NewRunner(app.config.JobTimeout, app.logger)
	app.notifier = services.NewNotifier(app.db, rm, app.logger)
	app.backups = services.NewBackupService(app.db, rm, blobs, app.runner, app.notifier, app.config, app.logger)
	app.syncs = services.NewSyncService(app.db, rm, app.runner, app.notifier, app.logger)
	app.devices = services.NewDeviceService(app.db, rm, app.logger)
	app.alerts = services.NewAlertService(app.db, rm, app.notifier, app.config, app.logger)
}

// newBlobStore selects S3 when an endpoint is configured and the
// filesystem otherwise.
func newBlobStore(ctx context.Context, c *config.Config) (blobstore.Store, error) {
	if c.S3BaseEndpoint == "" {
		fs, err := blobstore.NewFileStore(c.BlobDir)
		if err != nil {
			return nil, err
		}
		return fs, nil
	}
	return newS3Store(ctx, blobstore.S3Options{
		Region:       c.S3Region,
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
		BaseEndpoint: c.S3BaseEndpoint,
		Bucket:       c.S3Bucket,
	})
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// recoverStale fails jobs left non-terminal by a previous process. It runs
// at startup and then every StaleJobAge/2, so a record orphaned by a crash
// shortly before a restart is still settled once it is old enough.
func (app *App) recoverStale(ctx context.Context) {
	before := time.Now().Add(-app.config.StaleJobAge)

	if n, err := app.backups.RecoverStale(ctx, before); err != nil {
		app.logger.Error(ctx, "recover backups", "error", err)
	} else if n > 0 {
		app.logger.Warn(ctx, "interrupted backups failed", "count", n)
	}

	if n, err := app.syncs.RecoverStale(ctx, before); err != nil {
		app.logger.Error(ctx, "recover syncs", "error", err)
	} else if n > 0 {
		app.logger.Warn(ctx, "interrupted syncs failed", "count", n)
	}
}

// every runs fn once per interval until ctx is done. A non-positive
// interval disables it.
func every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn(ctx)
		}
	}
}

func (app *App) scanExpirations(ctx context.Context) {
	if err := app.alerts.ScanAll(ctx); err != nil {
		app.logger.Error(ctx, "scheduled expiration scan", "error", err)
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, gs.Services{
		Backups:       app.backups,
		Syncs:         app.syncs,
		Alerts:        app.alerts,
		Devices:       app.devices,
		Notifications: app.notifier,
	}, app.config.SecretKey)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves until a signal arrives or ctx is done, then drains running
// jobs and releases resources.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)
	app.recoverStale(ctx)

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		every(ctx, app.config.ScanInterval, app.scanExpirations)
	}()
	go func() {
		defer wg.Done()
		every(ctx, app.config.StaleJobAge/2, app.recoverStale)
	}()

	wg.Wait()

	app.shutdown()
}

func (app *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.runner.Shutdown(ctx); err != nil {
		app.logger.Warn(ctx, "jobs still running at shutdown", "error", err)
	}
	app.backups.Close()
	app.alerts.Close()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close", "error", err)
	}
	app.logger.Info(ctx, "Stopped")
	_ = app.logFile.Close()
}

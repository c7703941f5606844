package services

import (
	"database/sql"
	"testing"
	"time"

	"github.com/dmitrijs2005/vaultguard/internal/logging"
	"github.com/dmitrijs2005/vaultguard/internal/server/blobstore"
	"github.com/dmitrijs2005/vaultguard/internal/server/config"
	"github.com/dmitrijs2005/vaultguard/internal/server/jobs"
)

type testEnv struct {
	s        *store
	db       *sql.DB
	blobs    *blobstore.MemoryStore
	runner   *jobs.Runner
	notifier *Notifier
	cfg      *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{
		s:      newStore(),
		db:     openTestDB(t),
		blobs:  blobstore.NewMemoryStore(),
		runner: jobs.NewRunner(5*time.Second, logging.Nop()),
		cfg:    &config.Config{SecretKey: "test-secret", AlertWindowDays: 30},
	}
	e.notifier = NewNotifier(e.db, fakeManager{e.s}, logging.Nop())
	t.Cleanup(e.runner.Wait)
	return e
}

func (e *testEnv) backups(t *testing.T) *BackupService {
	svc := NewBackupService(e.db, fakeManager{e.s}, e.blobs, e.runner, e.notifier, e.cfg, logging.Nop())
	t.Cleanup(svc.Close)
	return svc
}

func (e *testEnv) syncs() *SyncService {
	return NewSyncService(e.db, fakeManager{e.s}, e.runner, e.notifier, logging.Nop())
}

func (e *testEnv) devices() *DeviceService {
	return NewDeviceService(e.db, fakeManager{e.s}, logging.Nop())
}

func (e *testEnv) alerts(t *testing.T, now time.Time) *AlertService {
	svc := NewAlertService(e.db, fakeManager{e.s}, e.notifier, e.cfg, logging.Nop())
	svc.now = func() time.Time { return now }
	t.Cleanup(svc.Close)
	return svc
}

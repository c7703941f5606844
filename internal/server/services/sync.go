package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vaultguard/internal/common"
	"github.com/dmitrijs2005/vaultguard/internal/dbx"
	"github.com/dmitrijs2005/vaultguard/internal/logging"
	"github.com/dmitrijs2005/vaultguard/internal/server/jobs"
	"github.com/dmitrijs2005/vaultguard/internal/server/models"
	"github.com/dmitrijs2005/vaultguard/internal/server/repositories/repomanager"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// InitiateSyncRequest starts one synchronization run of a device.
type InitiateSyncRequest struct {
	OwnerID   string
	DeviceID  string
	Type      models.SyncType
	DataTypes []models.DataType
}

// SyncService drives the device sync state machine. The server copy of an
// item is the local side, the device replica is the remote side.
type SyncService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	runner      *jobs.Runner
	locks       *jobs.KeyedMutex
	notifier    *Notifier
	log         logging.Logger
	now         func() time.Time
}

func NewSyncService(db *sql.DB, m repomanager.RepositoryManager, runner *jobs.Runner, notifier *Notifier,
	log logging.Logger) *SyncService {
	return &SyncService{
		db:          db,
		repomanager: m,
		runner:      runner,
		locks:       jobs.NewKeyedMutex(),
		notifier:    notifier,
		log:         log.With("module", "sync"),
		now:         time.Now,
	}
}

func (s *SyncService) timestamp() time.Time {
	return s.now().UTC()
}

func (s *SyncService) device(ctx context.Context, ownerID, deviceID string) (*models.Device, error) {
	d, err := s.repomanager.Devices(s.db).Get(ctx, deviceID)
	if err != nil {
		return nil, dependency("get device", err)
	}
	if d.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: device %s", common.ErrNotFound, deviceID)
	}
	return d, nil
}

// enabledTypes intersects the requested categories with the device settings.
func enabledTypes(requested []models.DataType, settings models.SyncSettings) ([]models.DataType, error) {
	if len(requested) == 0 {
		requested = models.AllDataTypes
	}
	seen := make(map[models.DataType]bool)
	var out []models.DataType
	for _, dt := range requested {
		if !dt.Valid() {
			return nil, validationf("unknown data type %q", dt)
		}
		if settings.Enabled(dt) && !seen[dt] {
			seen[dt] = true
			out = append(out, dt)
		}
	}
	return out, nil
}

// Initiate records an initiated sync log, marks the device syncing and runs
// the sync body in the background.
func (s *SyncService) Initiate(ctx context.Context, req InitiateSyncRequest) (*models.SyncLog, error) {
	if req.OwnerID == "" || req.DeviceID == "" {
		return nil, validationf("owner and device ids are required")
	}
	switch req.Type {
	case "":
		req.Type = models.SyncTypeManual
	case models.SyncTypeManual, models.SyncTypeAuto:
	default:
		return nil, validationf("unknown sync type %q", req.Type)
	}

	unlock := s.locks.Lock(req.DeviceID)
	defer unlock()

	dev, err := s.device(ctx, req.OwnerID, req.DeviceID)
	if err != nil {
		return nil, err
	}
	if !dev.SyncEnabled {
		return nil, fmt.Errorf("%w: sync is disabled on device %s", common.ErrInvalidState, dev.ID)
	}
	types, err := enabledTypes(req.DataTypes, dev.Settings)
	if err != nil {
		return nil, err
	}
	if len(types) == 0 {
		return nil, fmt.Errorf("%w: no requested category is enabled on device %s", common.ErrInvalidState, dev.ID)
	}

	logs := s.repomanager.SyncLogs(s.db)
	active, err := logs.GetActiveByDevice(ctx, dev.ID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: sync %s is %s", common.ErrConflict, active.ID, active.Status)
	case !errors.Is(err, common.ErrNotFound):
		return nil, dependency("check active sync", err)
	}

	now := s.timestamp()
	l := &models.SyncLog{
		ID:        uuid.NewString(),
		OwnerID:   req.OwnerID,
		DeviceID:  dev.ID,
		Type:      req.Type,
		Status:    models.SyncStatusInitiated,
		DataTypes: types,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := logs.Create(ctx, l); err != nil {
		return nil, dependency("create sync log", err)
	}

	if err := s.repomanager.Devices(s.db).SetStatus(ctx, dev.ID, models.DeviceStatusSyncing, now); err != nil {
		cause := dependency("mark device syncing", err)
		failed := *l
		failed.Status = models.SyncStatusFailed
		failed.Error = jobError(cause)
		failed.CompletedAt = &now
		if _, ferr := logs.Finish(context.WithoutCancel(ctx), &failed); ferr != nil {
			s.log.Error(ctx, "sync failure not persisted", "sync_log_id", l.ID, "error", ferr)
		}
		return nil, cause
	}

	job := *l
	s.runner.Go("sync:"+l.ID, func(ctx context.Context) { s.run(ctx, &job) })
	s.log.Info(ctx, "sync initiated", "sync_log_id", l.ID, "device_id", dev.ID, "owner_id", l.OwnerID)
	return l, nil
}

type syncResult struct {
	counts    models.ItemCounts
	bytes     int64
	conflicts []models.Conflict
}

func (s *SyncService) run(ctx context.Context, l *models.SyncLog) {
	log := s.log.With("sync_log_id", l.ID, "device_id", l.DeviceID, "owner_id", l.OwnerID)
	logs := s.repomanager.SyncLogs(s.db)

	started := s.timestamp()
	l.Status = models.SyncStatusInProgress
	l.UpdatedAt = started
	ok, err := logs.Start(ctx, l)
	if err != nil {
		s.fail(ctx, log, l, dependency("start sync", err))
		return
	}
	if !ok {
		log.Info(ctx, "sync ended before it started")
		return
	}

	var res syncResult
	for _, dt := range l.DataTypes {
		if err := ctx.Err(); err != nil {
			s.fail(ctx, log, l, err)
			return
		}
		if err := s.reconcile(ctx, l, dt, &res); err != nil {
			s.fail(ctx, log, l, err)
			return
		}
	}

	now := s.timestamp()
	l.Status = models.SyncStatusCompleted
	l.ItemsSynced = res.counts
	l.BytesSynced = res.bytes
	l.Conflicts = res.conflicts
	l.Duration = now.Sub(started)
	l.CompletedAt = &now
	l.UpdatedAt = now

	bg := context.WithoutCancel(ctx)
	ok, err = logs.Finish(bg, l)
	if err != nil {
		s.fail(ctx, log, l, dependency("complete sync", err))
		return
	}
	if !ok {
		log.Info(ctx, "sync already terminal, completion dropped")
		return
	}
	if err := s.repomanager.Devices(s.db).MarkSynced(bg, l.DeviceID, models.DeviceStatusOnline, now); err != nil {
		log.Warn(ctx, "device not marked synced", "error", err)
	}

	log.Info(ctx, "sync completed", "items", res.counts.Total(), "bytes", res.bytes, "conflicts", len(res.conflicts))
	note := models.Notification{
		OwnerID:  l.OwnerID,
		Title:    "Sync completed",
		Message:  fmt.Sprintf("%d items synchronized", res.counts.Total()),
		Type:     models.NotificationSuccess,
		Category: models.NotificationCategorySync,
		Metadata: map[string]any{"syncLogId": l.ID, "deviceId": l.DeviceID, "conflicts": len(res.conflicts)},
	}
	if n := len(res.conflicts); n > 0 {
		note.Type = models.NotificationWarning
		note.Message = fmt.Sprintf("%d items synchronized, %d conflicts need attention", res.counts.Total(), n)
		note.Action = &models.Action{Label: "Resolve conflicts", URL: "/devices/" + l.DeviceID + "/sync/" + l.ID}
	}
	_ = s.notifier.Notify(bg, note)
}

// reconcile compares the server items of one category with the device
// replicas and applies the non-conflicting outcome of each item.
func (s *SyncService) reconcile(ctx context.Context, l *models.SyncLog, dt models.DataType, res *syncResult) error {
	var (
		local    []*models.VaultItem
		replicas []*models.Replica
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		local, err = s.repomanager.Items(s.db).ListActiveItems(gctx, l.OwnerID, dt)
		if err != nil {
			return dependency("list "+string(dt), err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		replicas, err = s.repomanager.Devices(s.db).ListReplicas(gctx, l.DeviceID, dt)
		if err != nil {
			return dependency("list replicas", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	remote := make(map[string]*models.Replica, len(replicas))
	for _, r := range replicas {
		remote[r.ItemID] = r
	}
	devices := s.repomanager.Devices(s.db)
	items := s.repomanager.Items(s.db)

	for _, it := range local {
		rep, ok := remote[it.ID]
		advance := &models.Replica{
			DeviceID: l.DeviceID, ItemID: it.ID, DataType: dt,
			BaseVersion: it.Version, Checksum: it.Checksum, ModifiedAt: s.timestamp(),
		}

		switch {
		case !ok:
			if err := devices.UpsertReplica(ctx, advance); err != nil {
				return dependency("push item", err)
			}
			res.counts.Add(dt, 1)
			res.bytes += it.SizeBytes

		case it.Version <= rep.BaseVersion && !rep.Dirty:
			res.counts.Add(dt, 1)

		case it.Version > rep.BaseVersion && !rep.Dirty:
			if err := devices.UpsertReplica(ctx, advance); err != nil {
				return dependency("advance replica", err)
			}
			res.counts.Add(dt, 1)
			res.bytes += it.SizeBytes

		case it.Version <= rep.BaseVersion && rep.Dirty:
			version, err := items.AcceptRemote(ctx, l.OwnerID, it.ID, rep.Checksum)
			if err != nil {
				return dependency("accept device change", err)
			}
			advance.BaseVersion = version
			advance.Checksum = rep.Checksum
			if err := devices.UpsertReplica(ctx, advance); err != nil {
				return dependency("settle replica", err)
			}
			res.counts.Add(dt, 1)
			res.bytes += it.SizeBytes

		case rep.Checksum == it.Checksum:
			// both sides changed to the same content
			if err := devices.UpsertReplica(ctx, advance); err != nil {
				return dependency("settle replica", err)
			}
			res.counts.Add(dt, 1)

		default:
			res.conflicts = append(res.conflicts, models.Conflict{
				Field:          string(dt) + "/" + it.ID,
				Category:       dt,
				ItemID:         it.ID,
				LocalValue:     it.Checksum,
				RemoteValue:    rep.Checksum,
				ServerVersion:  it.Version,
				ServerChecksum: it.Checksum,
			})
		}
	}
	return nil
}

func (s *SyncService) fail(ctx context.Context, log logging.Logger, l *models.SyncLog, cause error) {
	cause = jobs.Cause(ctx, cause)
	ctx = context.WithoutCancel(ctx)
	now := s.timestamp()
	l.Status = models.SyncStatusFailed
	l.Error = jobError(cause)
	l.Conflicts = nil
	l.Duration = now.Sub(l.StartedAt)
	l.CompletedAt = &now
	l.UpdatedAt = now

	ok, err := s.repomanager.SyncLogs(s.db).Finish(ctx, l)
	if err != nil {
		log.Error(ctx, "sync failure not persisted", "cause", cause, "error", err)
		return
	}
	if !ok {
		log.Info(ctx, "sync already terminal, failure dropped", "cause", cause)
		return
	}
	if err := s.repomanager.Devices(s.db).SetStatus(ctx, l.DeviceID, models.DeviceStatusOffline, now); err != nil {
		log.Warn(ctx, "device not marked offline", "error", err)
	}
	log.Error(ctx, "sync failed", "code", l.Error.Code, "error", cause)
	_ = s.notifier.Notify(ctx, models.Notification{
		OwnerID:  l.OwnerID,
		Title:    "Sync failed",
		Message:  cause.Error(),
		Type:     models.NotificationError,
		Category: models.NotificationCategorySync,
		Action:   &models.Action{Label: "Retry sync", URL: "/devices/" + l.DeviceID},
		Metadata: map[string]any{"syncLogId": l.ID, "deviceId": l.DeviceID, "code": l.Error.Code},
	})
}

// Get returns a sync log of ownerID.
func (s *SyncService) Get(ctx context.Context, ownerID, id string) (*models.SyncLog, error) {
	l, err := s.repomanager.SyncLogs(s.db).Get(ctx, id)
	if err != nil {
		return nil, dependency("get sync log", err)
	}
	if l.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: sync log %s", common.ErrNotFound, id)
	}
	return l, nil
}

// History returns the latest sync logs of a device.
func (s *SyncService) History(ctx context.Context, ownerID, deviceID string, limit int) ([]*models.SyncLog, error) {
	if _, err := s.device(ctx, ownerID, deviceID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	list, err := s.repomanager.SyncLogs(s.db).ListByDevice(ctx, deviceID, limit)
	if err != nil {
		return nil, dependency("list sync logs", err)
	}
	return list, nil
}

// Cancel fails a non-terminal sync as UserCancelled and returns the device
// to online. A body still running keeps going but cannot overwrite the
// cancelled state.
func (s *SyncService) Cancel(ctx context.Context, ownerID, id string) (*models.SyncLog, error) {
	l, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if !l.Status.Active() {
		return nil, fmt.Errorf("%w: sync %s is %s", common.ErrInvalidState, id, l.Status)
	}

	unlock := s.locks.Lock(l.DeviceID)
	defer unlock()

	now := s.timestamp()
	l.Status = models.SyncStatusFailed
	l.Error = jobError(common.ErrUserCancelled)
	l.Duration = now.Sub(l.StartedAt)
	l.CompletedAt = &now
	l.UpdatedAt = now
	ok, err := s.repomanager.SyncLogs(s.db).Finish(ctx, l)
	if err != nil {
		return nil, dependency("cancel sync", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: sync %s already finished", common.ErrInvalidState, id)
	}

	s.runner.Cancel("sync:" + id)
	if err := s.repomanager.Devices(s.db).SetStatus(ctx, l.DeviceID, models.DeviceStatusOnline, now); err != nil {
		s.log.Warn(ctx, "device not reset after cancel", "device_id", l.DeviceID, "error", err)
	}
	s.log.Info(ctx, "sync cancelled", "sync_log_id", id, "device_id", l.DeviceID)
	_ = s.notifier.Notify(ctx, models.Notification{
		OwnerID:  l.OwnerID,
		Title:    "Sync cancelled",
		Message:  "Synchronization was cancelled",
		Type:     models.NotificationInfo,
		Category: models.NotificationCategorySync,
		Metadata: map[string]any{"syncLogId": l.ID, "deviceId": l.DeviceID, "code": common.CodeUserCancelled},
	})
	return l, nil
}

// ResolveConflict records the resolution of one conflict and rebases the
// affected replica in the same transaction. Other conflicts are untouched.
func (s *SyncService) ResolveConflict(ctx context.Context, ownerID, id string, index int,
	resolution models.Resolution, resolvedBy string) (*models.SyncLog, error) {
	if !resolution.Valid() {
		return nil, validationf("unknown resolution %q", resolution)
	}
	if resolvedBy == "" {
		resolvedBy = ownerID
	}

	var out *models.SyncLog
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		l, err := s.repomanager.SyncLogs(tx).Get(ctx, id)
		if err != nil {
			return dependency("get sync log", err)
		}
		if l.OwnerID != ownerID {
			return fmt.Errorf("%w: sync log %s", common.ErrNotFound, id)
		}
		if index < 0 || index >= len(l.Conflicts) {
			return fmt.Errorf("%w: conflict %d of sync log %s", common.ErrNotFound, index, id)
		}
		c := &l.Conflicts[index]
		if c.Resolved() {
			return fmt.Errorf("%w: conflict %d already resolved as %s", common.ErrInvalidState, index, *c.Resolution)
		}

		now := s.timestamp()
		r := resolution
		c.Resolution = &r
		c.ResolvedBy = resolvedBy
		c.ResolvedAt = &now
		l.UpdatedAt = now
		if err := s.repomanager.SyncLogs(tx).UpdateConflicts(ctx, l); err != nil {
			return dependency("update conflicts", err)
		}

		rep := &models.Replica{
			DeviceID: l.DeviceID, ItemID: c.ItemID, DataType: c.Category,
			BaseVersion: c.ServerVersion, Checksum: c.ServerChecksum, ModifiedAt: now,
		}
		if resolution != models.ResolutionLocal {
			// device copy wins; it stays dirty so the next run uploads it
			rep.Checksum = c.RemoteValue
			rep.Dirty = true
		}
		if err := s.repomanager.Devices(tx).UpsertReplica(ctx, rep); err != nil {
			return dependency("rebase replica", err)
		}
		out = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "conflict resolved", "sync_log_id", id, "index", index, "resolution", resolution)
	return out, nil
}

// RecoverStale fails syncs a crashed process left active and sets their
// devices offline. Syncs this process is still running are skipped.
func (s *SyncService) RecoverStale(ctx context.Context, before time.Time) (int, error) {
	stale, err := s.repomanager.SyncLogs(s.db).ListStale(ctx, before)
	if err != nil {
		return 0, dependency("list stale syncs", err)
	}
	n := 0
	for _, l := range stale {
		if s.runner.Running("sync:" + l.ID) {
			continue
		}
		log := s.log.With("sync_log_id", l.ID, "device_id", l.DeviceID)
		s.fail(ctx, log, l, fmt.Errorf("%w: sync left %s by a previous process", common.ErrInterrupted, l.Status))
		n++
	}
	return n, nil
}

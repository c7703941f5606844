package services

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/vaultguard/internal/common"
	"github.com/dmitrijs2005/vaultguard/internal/dbx"
	"github.com/dmitrijs2005/vaultguard/internal/server/models"
	"github.com/dmitrijs2005/vaultguard/internal/server/repositories/alerts"
	"github.com/dmitrijs2005/vaultguard/internal/server/repositories/backups"
	"github.com/dmitrijs2005/vaultguard/internal/server/repositories/devices"
	"github.com/dmitrijs2005/vaultguard/internal/server/repositories/items"
	"github.com/dmitrijs2005/vaultguard/internal/server/repositories/notifications"
	"github.com/dmitrijs2005/vaultguard/internal/server/repositories/synclogs"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// store is the shared state behind the fake repositories. It enforces the
// same uniqueness rules as the partial indexes of the Postgres schema.
type store struct {
	mu sync.Mutex

	items    map[string]*models.VaultItem
	backups  map[string]*models.Backup
	logs     map[string]*models.SyncLog
	devices  map[string]*models.Device
	replicas map[string]*models.Replica
	alerts   map[string]*models.Alert
	notes    []*models.Notification

	// gate, when set, blocks ListActiveItems until closed.
	gate    chan struct{}
	listErr error
	noteErr error
}

func newStore() *store {
	return &store{
		items:    map[string]*models.VaultItem{},
		backups:  map[string]*models.Backup{},
		logs:     map[string]*models.SyncLog{},
		devices:  map[string]*models.Device{},
		replicas: map[string]*models.Replica{},
		alerts:   map[string]*models.Alert{},
	}
}

func (s *store) addItem(it models.VaultItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it.IsActive = true
	if it.Version == 0 {
		it.Version = 1
	}
	if it.Checksum == "" {
		it.Checksum = "sum-" + it.ID
	}
	s.items[it.ID] = &it
}

func (s *store) item(id string) models.VaultItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.items[id]
}

func (s *store) backup(id string) models.Backup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.backups[id]
}

func (s *store) syncLog(id string) models.SyncLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyLog(s.logs[id])
}

func (s *store) device(id string) models.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.devices[id]
}

func (s *store) replica(deviceID, itemID string) (models.Replica, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.replicas[deviceID+"/"+itemID]
	if !ok {
		return models.Replica{}, false
	}
	return *r, true
}

func (s *store) putReplica(r models.Replica) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replicas[r.DeviceID+"/"+r.ItemID] = &r
}

func (s *store) notifications() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Notification, 0, len(s.notes))
	for _, n := range s.notes {
		out = append(out, *n)
	}
	return out
}

func (s *store) countBackups(owner string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.backups {
		if b.OwnerID == owner {
			n++
		}
	}
	return n
}

func copyLog(l *models.SyncLog) models.SyncLog {
	c := *l
	c.Conflicts = append([]models.Conflict(nil), l.Conflicts...)
	return c
}

type fakeManager struct{ s *store }

func (m fakeManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m fakeManager) Items(dbx.DBTX) items.Repository              { return fakeItems{m.s} }
func (m fakeManager) Backups(dbx.DBTX) backups.Repository          { return fakeBackups{m.s} }
func (m fakeManager) SyncLogs(dbx.DBTX) synclogs.Repository        { return fakeSyncLogs{m.s} }
func (m fakeManager) Devices(dbx.DBTX) devices.Repository          { return fakeDevices{m.s} }
func (m fakeManager) Alerts(dbx.DBTX) alerts.Repository            { return fakeAlerts{m.s} }
func (m fakeManager) Notifications(dbx.DBTX) notifications.Repository {
	return fakeNotifications{m.s}
}

type fakeItems struct{ s *store }

func (f fakeItems) ListActiveItems(ctx context.Context, ownerID string, dt models.DataType) ([]*models.VaultItem, error) {
	f.s.mu.Lock()
	gate, listErr := f.s.gate, f.s.listErr
	f.s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if listErr != nil {
		return nil, listErr
	}

	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*models.VaultItem
	for _, it := range f.s.items {
		if it.OwnerID == ownerID && it.Type == dt && it.IsActive {
			c := *it
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f fakeItems) CountItems(ctx context.Context, ownerID string, dt models.DataType) (int, error) {
	list, err := f.ListActiveItems(ctx, ownerID, dt)
	return len(list), err
}

func (f fakeItems) ListOwners(context.Context) ([]string, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, it := range f.s.items {
		if it.IsActive && !seen[it.OwnerID] {
			seen[it.OwnerID] = true
			out = append(out, it.OwnerID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f fakeItems) AcceptRemote(_ context.Context, ownerID, itemID, checksum string) (int64, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	it, ok := f.s.items[itemID]
	if !ok || it.OwnerID != ownerID {
		return 0, common.ErrNotFound
	}
	it.Version++
	it.Checksum = checksum
	return it.Version, nil
}

type fakeBackups struct{ s *store }

func (f fakeBackups) Create(_ context.Context, b *models.Backup) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, other := range f.s.backups {
		if other.OwnerID == b.OwnerID && other.Status.Active() {
			return common.ErrConflict
		}
	}
	c := *b
	f.s.backups[b.ID] = &c
	return nil
}

func (f fakeBackups) Get(_ context.Context, id string) (*models.Backup, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	b, ok := f.s.backups[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	c := *b
	return &c, nil
}

func (f fakeBackups) GetActive(_ context.Context, ownerID string) (*models.Backup, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, b := range f.s.backups {
		if b.OwnerID == ownerID && b.Status.Active() {
			c := *b
			return &c, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f fakeBackups) ListByOwner(_ context.Context, ownerID string) ([]*models.Backup, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*models.Backup
	for _, b := range f.s.backups {
		if b.OwnerID == ownerID {
			c := *b
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (f fakeBackups) Transition(_ context.Context, b *models.Backup, from models.BackupStatus) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	cur, ok := f.s.backups[b.ID]
	if !ok || cur.Status != from {
		return false, nil
	}
	c := *b
	f.s.backups[b.ID] = &c
	return true, nil
}

func (f fakeBackups) UpdateHealth(_ context.Context, b *models.Backup) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	cur, ok := f.s.backups[b.ID]
	if !ok || cur.Status != models.BackupStatusCompleted {
		return common.ErrNotFound
	}
	cur.Health = b.Health
	cur.UpdatedAt = b.UpdatedAt
	return nil
}

func (f fakeBackups) Delete(_ context.Context, ownerID, id string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	cur, ok := f.s.backups[id]
	if !ok || cur.OwnerID != ownerID || !cur.Status.Terminal() {
		return common.ErrNotFound
	}
	delete(f.s.backups, id)
	return nil
}

func (f fakeBackups) ListStale(_ context.Context, before time.Time) ([]*models.Backup, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*models.Backup
	for _, b := range f.s.backups {
		if (b.Status.Active() || b.Status == models.BackupStatusRestoring) && b.UpdatedAt.Before(before) {
			c := *b
			out = append(out, &c)
		}
	}
	return out, nil
}

type fakeSyncLogs struct{ s *store }

func (f fakeSyncLogs) Create(_ context.Context, l *models.SyncLog) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, other := range f.s.logs {
		if other.DeviceID == l.DeviceID && other.Status.Active() {
			return common.ErrConflict
		}
	}
	c := copyLog(l)
	f.s.logs[l.ID] = &c
	return nil
}

func (f fakeSyncLogs) Get(_ context.Context, id string) (*models.SyncLog, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	l, ok := f.s.logs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	c := copyLog(l)
	return &c, nil
}

func (f fakeSyncLogs) GetActiveByDevice(_ context.Context, deviceID string) (*models.SyncLog, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, l := range f.s.logs {
		if l.DeviceID == deviceID && l.Status.Active() {
			c := copyLog(l)
			return &c, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f fakeSyncLogs) ListByDevice(_ context.Context, deviceID string, limit int) ([]*models.SyncLog, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*models.SyncLog
	for _, l := range f.s.logs {
		if l.DeviceID == deviceID {
			c := copyLog(l)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f fakeSyncLogs) Start(_ context.Context, l *models.SyncLog) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	cur, ok := f.s.logs[l.ID]
	if !ok || cur.Status != models.SyncStatusInitiated {
		return false, nil
	}
	cur.Status = l.Status
	cur.UpdatedAt = l.UpdatedAt
	return true, nil
}

func (f fakeSyncLogs) Finish(_ context.Context, l *models.SyncLog) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	cur, ok := f.s.logs[l.ID]
	if !ok || !cur.Status.Active() {
		return false, nil
	}
	c := copyLog(l)
	f.s.logs[l.ID] = &c
	return true, nil
}

func (f fakeSyncLogs) UpdateConflicts(_ context.Context, l *models.SyncLog) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	cur, ok := f.s.logs[l.ID]
	if !ok {
		return common.ErrNotFound
	}
	cur.Conflicts = append([]models.Conflict(nil), l.Conflicts...)
	cur.UpdatedAt = l.UpdatedAt
	return nil
}

func (f fakeSyncLogs) ListStale(_ context.Context, before time.Time) ([]*models.SyncLog, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*models.SyncLog
	for _, l := range f.s.logs {
		if l.Status.Active() && l.UpdatedAt.Before(before) {
			c := copyLog(l)
			out = append(out, &c)
		}
	}
	return out, nil
}

type fakeDevices struct{ s *store }

func (f fakeDevices) Create(_ context.Context, d *models.Device) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if d.IsPrimary {
		for _, other := range f.s.devices {
			if other.OwnerID == d.OwnerID && other.IsPrimary {
				return common.ErrConflict
			}
		}
	}
	c := *d
	f.s.devices[d.ID] = &c
	return nil
}

func (f fakeDevices) Get(_ context.Context, id string) (*models.Device, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	d, ok := f.s.devices[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	c := *d
	return &c, nil
}

func (f fakeDevices) ListByOwner(_ context.Context, ownerID string) ([]*models.Device, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*models.Device
	for _, d := range f.s.devices {
		if d.OwnerID == ownerID {
			c := *d
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f fakeDevices) update(id string, fn func(d *models.Device)) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	d, ok := f.s.devices[id]
	if !ok {
		return common.ErrNotFound
	}
	fn(d)
	return nil
}

func (f fakeDevices) SetStatus(_ context.Context, id string, status models.DeviceStatus, at time.Time) error {
	return f.update(id, func(d *models.Device) {
		d.Status = status
		d.LastActiveAt = &at
	})
}

func (f fakeDevices) MarkSynced(_ context.Context, id string, status models.DeviceStatus, at time.Time) error {
	return f.update(id, func(d *models.Device) {
		d.Status = status
		d.LastActiveAt = &at
		d.LastSyncedAt = &at
	})
}

func (f fakeDevices) ClearPrimary(_ context.Context, ownerID string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, d := range f.s.devices {
		if d.OwnerID == ownerID {
			d.IsPrimary = false
		}
	}
	return nil
}

func (f fakeDevices) SetPrimary(_ context.Context, id string) error {
	return f.update(id, func(d *models.Device) { d.IsPrimary = true })
}

func (f fakeDevices) Delete(_ context.Context, id string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.devices[id]; !ok {
		return common.ErrNotFound
	}
	delete(f.s.devices, id)
	return nil
}

func (f fakeDevices) ListReplicas(_ context.Context, deviceID string, dt models.DataType) ([]*models.Replica, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*models.Replica
	for _, r := range f.s.replicas {
		if r.DeviceID == deviceID && r.DataType == dt {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func (f fakeDevices) UpsertReplica(_ context.Context, r *models.Replica) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	c := *r
	f.s.replicas[r.DeviceID+"/"+r.ItemID] = &c
	return nil
}

type fakeAlerts struct{ s *store }

func (f fakeAlerts) Create(_ context.Context, a *models.Alert) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, other := range f.s.alerts {
		if other.OwnerID == a.OwnerID && other.RelatedTo == a.RelatedTo && other.RelatedID == a.RelatedID &&
			!other.IsResolved {
			return common.ErrConflict
		}
	}
	c := *a
	f.s.alerts[a.ID] = &c
	return nil
}

func (f fakeAlerts) GetUnresolved(_ context.Context, ownerID, relatedTo, relatedID string) (*models.Alert, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, a := range f.s.alerts {
		if a.OwnerID == ownerID && a.RelatedTo == relatedTo && a.RelatedID == relatedID && !a.IsResolved {
			c := *a
			return &c, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f fakeAlerts) ListUnresolved(_ context.Context, ownerID string) ([]*models.Alert, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*models.Alert
	for _, a := range f.s.alerts {
		if a.OwnerID == ownerID && !a.IsResolved {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelatedID < out[j].RelatedID })
	return out, nil
}

func (f fakeAlerts) Escalate(_ context.Context, a *models.Alert) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	cur, ok := f.s.alerts[a.ID]
	if !ok || cur.IsResolved {
		return common.ErrNotFound
	}
	cur.Severity, cur.Title, cur.Message = a.Severity, a.Title, a.Message
	cur.ExpiryDate, cur.Metadata, cur.IsRead = a.ExpiryDate, a.Metadata, false
	return nil
}

func (f fakeAlerts) MarkRead(_ context.Context, ownerID, id string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	cur, ok := f.s.alerts[id]
	if !ok || cur.OwnerID != ownerID {
		return common.ErrNotFound
	}
	cur.IsRead = true
	return nil
}

func (f fakeAlerts) Resolve(_ context.Context, ownerID, id string, at time.Time) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	cur, ok := f.s.alerts[id]
	if !ok || cur.OwnerID != ownerID {
		return common.ErrNotFound
	}
	if !cur.IsResolved {
		cur.IsResolved = true
		cur.ResolvedAt = &at
	}
	return nil
}

type fakeNotifications struct{ s *store }

func (f fakeNotifications) Append(_ context.Context, n *models.Notification) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.noteErr != nil {
		return f.s.noteErr
	}
	c := *n
	f.s.notes = append(f.s.notes, &c)
	return nil
}

func (f fakeNotifications) ListByOwner(_ context.Context, ownerID string, limit int) ([]*models.Notification, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*models.Notification
	for i := len(f.s.notes) - 1; i >= 0 && len(out) < limit; i-- {
		if f.s.notes[i].OwnerID == ownerID {
			c := *f.s.notes[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

// openTestDB returns an in-memory database; the fakes ignore it but
// dbx.WithTx needs a real handle to begin transactions on.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := sql.Open("sqlite", "file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

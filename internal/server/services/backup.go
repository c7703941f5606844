package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/vaultguard/internal/common"
	"github.com/dmitrijs2005/vaultguard/internal/cryptox"
	"github.com/dmitrijs2005/vaultguard/internal/logging"
	"github.com/dmitrijs2005/vaultguard/internal/server/blobstore"
	"github.com/dmitrijs2005/vaultguard/internal/server/config"
	"github.com/dmitrijs2005/vaultguard/internal/server/jobs"
	"github.com/dmitrijs2005/vaultguard/internal/server/models"
	"github.com/dmitrijs2005/vaultguard/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// CreateBackupRequest selects what to back up.
type CreateBackupRequest struct {
	OwnerID   string
	Kind      models.BackupKind
	DataTypes []models.DataType
	Selection *models.Selection
}

// Manifest is the plaintext serialized, encrypted and stored by a backup.
type Manifest struct {
	BackupID  string                             `json:"backupId"`
	OwnerID   string                             `json:"ownerId"`
	Kind      models.BackupKind                  `json:"kind"`
	CreatedAt time.Time                          `json:"createdAt"`
	Items     map[models.DataType][]ManifestItem `json:"items"`
}

// ManifestItem is one vault item as captured by a backup.
type ManifestItem struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Category    string     `json:"category,omitempty"`
	Data        string     `json:"data"`
	EncodedData string     `json:"encodedData,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Version     int64      `json:"version"`
	Checksum    string     `json:"checksum"`
}

// BackupService drives the backup and restore state machines.
//
// Creation is serialized per owner in process; the partial unique index on
// active backups covers concurrent processes.
type BackupService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	blobs       blobstore.Store
	runner      *jobs.Runner
	locks       *jobs.KeyedMutex
	notifier    *Notifier
	secret      []byte
	keks        *jobs.Cache[[]byte]
	log         logging.Logger
	now         func() time.Time
}

func NewBackupService(db *sql.DB, m repomanager.RepositoryManager, blobs blobstore.Store, runner *jobs.Runner,
	notifier *Notifier, cfg *config.Config, log logging.Logger) *BackupService {
	return &BackupService{
		db:          db,
		repomanager: m,
		blobs:       blobs,
		runner:      runner,
		locks:       jobs.NewKeyedMutex(),
		notifier:    notifier,
		secret:      []byte(cfg.SecretKey),
		keks:        jobs.NewCache[[]byte](10*time.Minute, time.Minute),
		log:         log.With("module", "backup"),
		now:         time.Now,
	}
}

// Close stops the key cache sweeper.
func (s *BackupService) Close() {
	s.keks.Close()
}

// kek returns the owner's key-encryption key.
func (s *BackupService) kek(ownerID string) []byte {
	if k, ok := s.keks.Get(ownerID); ok {
		return k
	}
	k := cryptox.DeriveKeyEncryptionKey(s.secret, []byte(ownerID))
	s.keks.Put(ownerID, k)
	return k
}

func (s *BackupService) timestamp() time.Time {
	return s.now().UTC()
}

func (req *CreateBackupRequest) normalize() error {
	if req.OwnerID == "" {
		return validationf("owner id is required")
	}
	switch req.Kind {
	case models.BackupKindFull:
		if len(req.DataTypes) == 0 {
			req.DataTypes = models.AllDataTypes
		}
		req.Selection = nil
	case models.BackupKindSelective:
		if req.Selection == nil {
			return validationf("selective backup needs a selection")
		}
		req.DataTypes = req.Selection.DataTypes()
		if len(req.DataTypes) == 0 {
			return validationf("selective backup selects no items")
		}
	default:
		return validationf("unknown backup kind %q", req.Kind)
	}
	seen := make(map[models.DataType]bool)
	types := make([]models.DataType, 0, len(req.DataTypes))
	for _, dt := range req.DataTypes {
		if !dt.Valid() {
			return validationf("unknown data type %q", dt)
		}
		if !seen[dt] {
			seen[dt] = true
			types = append(types, dt)
		}
	}
	req.DataTypes = types
	return nil
}

// Create records an initiated backup and runs its body in the background.
// An owner with an initiated or in_progress backup gets ErrConflict.
func (s *BackupService) Create(ctx context.Context, req CreateBackupRequest) (*models.Backup, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(req.OwnerID)
	defer unlock()

	repo := s.repomanager.Backups(s.db)
	active, err := repo.GetActive(ctx, req.OwnerID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: backup %s is %s", common.ErrConflict, active.ID, active.Status)
	case !errors.Is(err, common.ErrNotFound):
		return nil, dependency("check active backup", err)
	}

	now := s.timestamp()
	b := &models.Backup{
		ID:        uuid.NewString(),
		OwnerID:   req.OwnerID,
		Kind:      req.Kind,
		Status:    models.BackupStatusInitiated,
		DataTypes: req.DataTypes,
		Selection: req.Selection,
		Health: models.HealthMetrics{
			EncryptionStrength: cryptox.Algorithm,
			VerificationStatus: models.VerificationPending,
		},
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := repo.Create(ctx, b); err != nil {
		return nil, dependency("create backup", err)
	}

	job := *b
	s.runner.Go("backup:"+b.ID, func(ctx context.Context) { s.run(ctx, &job) })
	s.log.Info(ctx, "backup initiated", "backup_id", b.ID, "owner_id", b.OwnerID, "kind", b.Kind)
	return b, nil
}

// run is the backup body. It owns b until the terminal write.
func (s *BackupService) run(ctx context.Context, b *models.Backup) {
	log := s.log.With("backup_id", b.ID, "owner_id", b.OwnerID)
	repo := s.repomanager.Backups(s.db)

	b.Status = models.BackupStatusInProgress
	b.UpdatedAt = s.timestamp()
	ok, err := repo.Transition(ctx, b, models.BackupStatusInitiated)
	if err != nil {
		s.fail(ctx, log, b, models.BackupStatusInitiated, dependency("start backup", err))
		return
	}
	if !ok {
		log.Warn(ctx, "backup moved by another writer before start")
		return
	}

	manifest, counts, err := s.collect(ctx, b)
	if err != nil {
		s.fail(ctx, log, b, models.BackupStatusInProgress, err)
		return
	}
	plaintext, err := json.Marshal(manifest)
	if err != nil {
		s.fail(ctx, log, b, models.BackupStatusInProgress, fmt.Errorf("serialize manifest: %w", err))
		return
	}
	sealed, err := cryptox.Seal(plaintext, s.kek(b.OwnerID))
	common.WipeByteArray(plaintext)
	if err != nil {
		s.fail(ctx, log, b, models.BackupStatusInProgress, err)
		return
	}

	key := blobstore.StorageKey(b.OwnerID, s.timestamp())
	if err := s.blobs.Put(ctx, key, sealed.Ciphertext); err != nil {
		s.fail(ctx, log, b, models.BackupStatusInProgress, dependency("store payload", err))
		return
	}

	now := s.timestamp()
	b.Status = models.BackupStatusCompleted
	b.SizeBytes = int64(len(sealed.Ciphertext))
	b.ItemsBackedUp = counts
	b.StorageLocation = key
	b.Checksum = sealed.Checksum
	b.Encryption = models.BackupEncryption{Algorithm: sealed.Algorithm, KeyMaterial: sealed.KeyMaterial, IV: sealed.IV}
	b.Health = models.HealthMetrics{
		IntegrityScore:     100,
		EncryptionStrength: sealed.Algorithm,
		VerificationStatus: models.VerificationVerified,
		LastVerified:       &now,
	}
	b.Restorable = true
	b.CompletedAt = &now
	b.UpdatedAt = now

	ok, err = repo.Transition(context.WithoutCancel(ctx), b, models.BackupStatusInProgress)
	if err != nil || !ok {
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), key); delErr != nil && !errors.Is(delErr, common.ErrNotFound) {
			log.Warn(ctx, "orphaned backup payload", "key", key, "error", delErr)
		}
		if err != nil {
			s.fail(ctx, log, b, models.BackupStatusInProgress, dependency("complete backup", err))
			return
		}
		log.Warn(ctx, "backup moved by another writer before completion")
		return
	}

	log.Info(ctx, "backup completed", "size", b.SizeBytes, "items", counts.Total())
	_ = s.notifier.Notify(context.WithoutCancel(ctx), models.Notification{
		OwnerID:  b.OwnerID,
		Title:    "Backup completed",
		Message:  fmt.Sprintf("%d items backed up (%d bytes)", counts.Total(), b.SizeBytes),
		Type:     models.NotificationSuccess,
		Category: models.NotificationCategoryBackup,
		Action:   &models.Action{Label: "View backups", URL: "/backups"},
		Metadata: map[string]any{"backupId": b.ID, "sizeBytes": b.SizeBytes, "items": counts.Total()},
	})
}

// collect loads the items of every requested category. Selected ids that are
// not active items of the owner fail the backup with ErrNotFound.
func (s *BackupService) collect(ctx context.Context, b *models.Backup) (*Manifest, models.ItemCounts, error) {
	var counts models.ItemCounts
	manifest := &Manifest{
		BackupID:  b.ID,
		OwnerID:   b.OwnerID,
		Kind:      b.Kind,
		CreatedAt: b.StartedAt,
		Items:     make(map[models.DataType][]ManifestItem),
	}
	repo := s.repomanager.Items(s.db)

	for _, dt := range b.DataTypes {
		if err := ctx.Err(); err != nil {
			return nil, counts, err
		}
		if b.Kind == models.BackupKindFull {
			n, err := repo.CountItems(ctx, b.OwnerID, dt)
			if err != nil {
				return nil, counts, dependency("count "+string(dt), err)
			}
			if n == 0 {
				manifest.Items[dt] = []ManifestItem{}
				continue
			}
		}
		items, err := repo.ListActiveItems(ctx, b.OwnerID, dt)
		if err != nil {
			return nil, counts, dependency("list "+string(dt), err)
		}

		if b.Kind == models.BackupKindSelective {
			byID := make(map[string]*models.VaultItem, len(items))
			for _, it := range items {
				byID[it.ID] = it
			}
			selected := make([]*models.VaultItem, 0, len(b.Selection.IDs(dt)))
			for _, id := range b.Selection.IDs(dt) {
				it, ok := byID[id]
				if !ok {
					return nil, counts, fmt.Errorf("%w: selected %s item %s", common.ErrNotFound, dt, id)
				}
				selected = append(selected, it)
			}
			items = selected
		}

		entries := make([]ManifestItem, 0, len(items))
		for _, it := range items {
			entries = append(entries, ManifestItem{
				ID: it.ID, Title: it.Title, Category: it.Category, Data: it.Data, EncodedData: it.EncodedData,
				ExpiresAt: it.ExpiresAt, Version: it.Version, Checksum: it.Checksum,
			})
		}
		manifest.Items[dt] = entries
		counts.Add(dt, len(entries))
	}
	return manifest, counts, nil
}

// fail persists the failed state, unless another writer already moved the
// record away from from, and notifies the owner.
func (s *BackupService) fail(ctx context.Context, log logging.Logger, b *models.Backup, from models.BackupStatus, cause error) bool {
	cause = jobs.Cause(ctx, cause)
	ctx = context.WithoutCancel(ctx)
	now := s.timestamp()
	b.Status = models.BackupStatusFailed
	b.Error = jobError(cause)
	b.Restorable = false
	if b.CompletedAt == nil {
		b.CompletedAt = &now
	}
	b.UpdatedAt = now

	ok, err := s.repomanager.Backups(s.db).Transition(ctx, b, from)
	if err != nil {
		log.Error(ctx, "backup failure not persisted", "cause", cause, "error", err)
		return false
	}
	if !ok {
		log.Warn(ctx, "backup failure skipped, record already moved", "cause", cause)
		return false
	}
	title, action := "Backup failed", &models.Action{Label: "Retry backup", URL: "/backups"}
	if from == models.BackupStatusRestoring {
		title, action = "Restore failed", &models.Action{Label: "View backup", URL: "/backups/" + b.ID}
	}
	log.Error(ctx, strings.ToLower(title), "code", b.Error.Code, "error", cause)
	_ = s.notifier.Notify(ctx, models.Notification{
		OwnerID:  b.OwnerID,
		Title:    title,
		Message:  cause.Error(),
		Type:     models.NotificationError,
		Category: models.NotificationCategoryBackup,
		Action:   action,
		Metadata: map[string]any{"backupId": b.ID, "code": b.Error.Code},
	})
	return true
}

// Get returns a backup of ownerID. Foreign records are reported as missing.
func (s *BackupService) Get(ctx context.Context, ownerID, id string) (*models.Backup, error) {
	b, err := s.repomanager.Backups(s.db).Get(ctx, id)
	if err != nil {
		return nil, dependency("get backup", err)
	}
	if b.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: backup %s", common.ErrNotFound, id)
	}
	return b, nil
}

// List returns the owner's backups, newest first.
func (s *BackupService) List(ctx context.Context, ownerID string) ([]*models.Backup, error) {
	list, err := s.repomanager.Backups(s.db).ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, dependency("list backups", err)
	}
	return list, nil
}

// Restore moves a completed, restorable backup to restoring and verifies its
// payload in the background. Nothing is written back to the item store.
func (s *BackupService) Restore(ctx context.Context, ownerID, id string) (*models.Backup, error) {
	unlock := s.locks.Lock(ownerID)
	defer unlock()

	b, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BackupStatusCompleted || !b.Restorable {
		return nil, fmt.Errorf("%w: backup %s is %s (restorable=%t)", common.ErrInvalidState, id, b.Status, b.Restorable)
	}

	b.Status = models.BackupStatusRestoring
	b.UpdatedAt = s.timestamp()
	ok, err := s.repomanager.Backups(s.db).Transition(ctx, b, models.BackupStatusCompleted)
	if err != nil {
		return nil, dependency("start restore", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: backup %s changed concurrently", common.ErrInvalidState, id)
	}

	job := *b
	s.runner.Go("restore:"+b.ID, func(ctx context.Context) { s.restore(ctx, &job) })
	s.log.Info(ctx, "restore initiated", "backup_id", b.ID, "owner_id", ownerID)
	return b, nil
}

// open downloads and decrypts the payload of b and checks it against the record.
func (s *BackupService) open(ctx context.Context, b *models.Backup) (*Manifest, error) {
	ciphertext, err := s.blobs.Get(ctx, b.StorageLocation)
	if err != nil {
		return nil, dependency("load payload", err)
	}
	plaintext, err := cryptox.Open(&cryptox.EncryptedBlob{
		Algorithm:   b.Encryption.Algorithm,
		KeyMaterial: b.Encryption.KeyMaterial,
		IV:          b.Encryption.IV,
		Ciphertext:  ciphertext,
		Checksum:    b.Checksum,
	}, s.kek(b.OwnerID))
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(plaintext)

	var m Manifest
	if err := json.Unmarshal(plaintext, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", common.ErrCorruptPayload, err)
	}
	if m.BackupID != b.ID || m.OwnerID != b.OwnerID {
		return nil, fmt.Errorf("%w: manifest belongs to another backup", common.ErrCorruptPayload)
	}
	for _, dt := range models.AllDataTypes {
		if len(m.Items[dt]) != b.ItemsBackedUp.Get(dt) {
			return nil, fmt.Errorf("%w: %s count mismatch", common.ErrCorruptPayload, dt)
		}
	}
	return &m, nil
}

func (s *BackupService) restore(ctx context.Context, b *models.Backup) {
	log := s.log.With("backup_id", b.ID, "owner_id", b.OwnerID)
	repo := s.repomanager.Backups(s.db)

	if _, err := s.open(ctx, b); err != nil {
		now := s.timestamp()
		b.Health.IntegrityScore = 0
		b.Health.VerificationStatus = verificationFor(err)
		b.Health.LastVerified = &now
		s.fail(ctx, log, b, models.BackupStatusRestoring, err)
		return
	}

	now := s.timestamp()
	b.Status = models.BackupStatusCompleted
	b.LastRestoredAt = &now
	b.UpdatedAt = now
	ok, err := repo.Transition(context.WithoutCancel(ctx), b, models.BackupStatusRestoring)
	if err != nil {
		log.Error(ctx, "restore completion not persisted", "error", err)
		return
	}
	if !ok {
		log.Warn(ctx, "restore moved by another writer")
		return
	}

	log.Info(ctx, "restore verified")
	_ = s.notifier.Notify(context.WithoutCancel(ctx), models.Notification{
		OwnerID:  b.OwnerID,
		Title:    "Restore completed",
		Message:  fmt.Sprintf("Backup from %s verified, %d items", b.StartedAt.Format(time.RFC822), b.ItemsBackedUp.Total()),
		Type:     models.NotificationSuccess,
		Category: models.NotificationCategoryBackup,
		Metadata: map[string]any{"backupId": b.ID},
	})
}

func verificationFor(err error) string {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return models.VerificationMissing
	case errors.Is(err, common.ErrCorruptPayload):
		return models.VerificationCorrupted
	}
	return models.VerificationPending
}

// Verify re-reads the payload of a completed backup and refreshes its health
// metrics. Status never changes; calling it again yields the same metrics.
func (s *BackupService) Verify(ctx context.Context, ownerID, id string) (*models.Backup, error) {
	b, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BackupStatusCompleted {
		return nil, fmt.Errorf("%w: backup %s is %s", common.ErrInvalidState, id, b.Status)
	}

	_, openErr := s.open(ctx, b)
	status := models.VerificationVerified
	score := 100
	if openErr != nil {
		status = verificationFor(openErr)
		if status == models.VerificationPending {
			return nil, openErr
		}
		score = 0
	}

	now := s.timestamp()
	b.Health = models.HealthMetrics{
		IntegrityScore:     score,
		EncryptionStrength: b.Encryption.Algorithm,
		VerificationStatus: status,
		LastVerified:       &now,
	}
	b.UpdatedAt = now
	if err := s.repomanager.Backups(s.db).UpdateHealth(ctx, b); err != nil {
		return nil, dependency("update health", err)
	}
	s.log.Info(ctx, "backup verified", "backup_id", b.ID, "status", status)
	return b, nil
}

// Delete removes a terminal backup and its payload.
func (s *BackupService) Delete(ctx context.Context, ownerID, id string) error {
	b, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if !b.Status.Terminal() {
		return fmt.Errorf("%w: backup %s is %s", common.ErrInvalidState, id, b.Status)
	}
	if err := s.repomanager.Backups(s.db).Delete(ctx, ownerID, id); err != nil {
		return dependency("delete backup", err)
	}
	if b.StorageLocation != "" {
		if err := s.blobs.Delete(ctx, b.StorageLocation); err != nil && !errors.Is(err, common.ErrNotFound) {
			s.log.Warn(ctx, "backup payload not removed", "backup_id", id, "key", b.StorageLocation, "error", err)
		}
	}
	return nil
}

// RecoverStale settles records a crashed process left behind: unfinished
// backups fail as Interrupted, interrupted restores return to completed.
// Jobs this process is still running are skipped.
func (s *BackupService) RecoverStale(ctx context.Context, before time.Time) (int, error) {
	repo := s.repomanager.Backups(s.db)
	stale, err := repo.ListStale(ctx, before)
	if err != nil {
		return 0, dependency("list stale backups", err)
	}

	n := 0
	for _, b := range stale {
		if s.runner.Running("backup:"+b.ID) || s.runner.Running("restore:"+b.ID) {
			continue
		}
		log := s.log.With("backup_id", b.ID, "owner_id", b.OwnerID)
		from := b.Status
		if from == models.BackupStatusRestoring {
			b.Status = models.BackupStatusCompleted
			b.UpdatedAt = s.timestamp()
			ok, err := repo.Transition(ctx, b, from)
			if err != nil {
				return n, dependency("recover restore", err)
			}
			if ok {
				n++
				log.Warn(ctx, "interrupted restore returned to completed")
			}
			continue
		}
		if s.fail(ctx, log, b, from, fmt.Errorf("%w: backup left %s by a previous process", common.ErrInterrupted, from)) {
			n++
		}
	}
	return n, nil
}

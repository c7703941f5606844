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
)

// RegisterDeviceRequest describes a new device of an owner.
type RegisterDeviceRequest struct {
	OwnerID     string
	Name        string
	Type        string
	IsTrusted   bool
	SyncEnabled bool
	Settings    models.SyncSettings
}

// DeviceService is the device registry. It keeps exactly one primary
// device per owner.
type DeviceService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	locks       *jobs.KeyedMutex
	log         logging.Logger
	now         func() time.Time
}

func NewDeviceService(db *sql.DB, m repomanager.RepositoryManager, log logging.Logger) *DeviceService {
	return &DeviceService{
		db:          db,
		repomanager: m,
		locks:       jobs.NewKeyedMutex(),
		log:         log.With("module", "devices"),
		now:         time.Now,
	}
}

// Register adds a device. The first device of an owner becomes primary.
func (s *DeviceService) Register(ctx context.Context, req RegisterDeviceRequest) (*models.Device, error) {
	if req.OwnerID == "" || req.Name == "" {
		return nil, validationf("owner id and device name are required")
	}

	unlock := s.locks.Lock(req.OwnerID)
	defer unlock()

	repo := s.repomanager.Devices(s.db)
	existing, err := repo.ListByOwner(ctx, req.OwnerID)
	if err != nil {
		return nil, dependency("list devices", err)
	}

	now := s.now().UTC()
	d := &models.Device{
		ID:           uuid.NewString(),
		OwnerID:      req.OwnerID,
		Name:         req.Name,
		Type:         req.Type,
		IsTrusted:    req.IsTrusted,
		IsPrimary:    len(existing) == 0,
		SyncEnabled:  req.SyncEnabled,
		Settings:     req.Settings,
		Status:       models.DeviceStatusOnline,
		LastActiveAt: &now,
		CreatedAt:    now,
	}
	if err := repo.Create(ctx, d); err != nil {
		return nil, dependency("create device", err)
	}
	s.log.Info(ctx, "device registered", "device_id", d.ID, "owner_id", d.OwnerID, "primary", d.IsPrimary)
	return d, nil
}

// Get returns a device of ownerID.
func (s *DeviceService) Get(ctx context.Context, ownerID, id string) (*models.Device, error) {
	d, err := s.repomanager.Devices(s.db).Get(ctx, id)
	if err != nil {
		return nil, dependency("get device", err)
	}
	if d.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: device %s", common.ErrNotFound, id)
	}
	return d, nil
}

func (s *DeviceService) List(ctx context.Context, ownerID string) ([]*models.Device, error) {
	list, err := s.repomanager.Devices(s.db).ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, dependency("list devices", err)
	}
	return list, nil
}

// SetPrimary moves the primary flag to device id.
func (s *DeviceService) SetPrimary(ctx context.Context, ownerID, id string) (*models.Device, error) {
	unlock := s.locks.Lock(ownerID)
	defer unlock()

	var out *models.Device
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Devices(tx)
		d, err := repo.Get(ctx, id)
		if err != nil {
			return dependency("get device", err)
		}
		if d.OwnerID != ownerID {
			return fmt.Errorf("%w: device %s", common.ErrNotFound, id)
		}
		out = d
		if d.IsPrimary {
			return nil
		}
		if err := repo.ClearPrimary(ctx, ownerID); err != nil {
			return dependency("clear primary", err)
		}
		if err := repo.SetPrimary(ctx, id); err != nil {
			return dependency("set primary", err)
		}
		d.IsPrimary = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "primary device changed", "device_id", id, "owner_id", ownerID)
	return out, nil
}

// Remove deletes a device. The primary device stays while others exist and
// a device cannot be removed during a sync.
func (s *DeviceService) Remove(ctx context.Context, ownerID, id string) error {
	unlock := s.locks.Lock(ownerID)
	defer unlock()

	d, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	repo := s.repomanager.Devices(s.db)
	if d.IsPrimary {
		all, err := repo.ListByOwner(ctx, ownerID)
		if err != nil {
			return dependency("list devices", err)
		}
		if len(all) > 1 {
			return fmt.Errorf("%w: device %s is primary, choose another primary first", common.ErrInvalidState, id)
		}
	}

	active, err := s.repomanager.SyncLogs(s.db).GetActiveByDevice(ctx, id)
	switch {
	case err == nil:
		return fmt.Errorf("%w: device %s has sync %s running", common.ErrInvalidState, id, active.ID)
	case !errors.Is(err, common.ErrNotFound):
		return dependency("check active sync", err)
	}

	if err := repo.Delete(ctx, id); err != nil {
		return dependency("delete device", err)
	}
	s.log.Info(ctx, "device removed", "device_id", id, "owner_id", ownerID)
	return nil
}

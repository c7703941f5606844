package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vaultguard/internal/common"
	"github.com/dmitrijs2005/vaultguard/internal/logging"
	"github.com/dmitrijs2005/vaultguard/internal/server/config"
	"github.com/dmitrijs2005/vaultguard/internal/server/expiry"
	"github.com/dmitrijs2005/vaultguard/internal/server/jobs"
	"github.com/dmitrijs2005/vaultguard/internal/server/models"
	"github.com/dmitrijs2005/vaultguard/internal/server/repositories/repomanager"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// scanFreshness throttles the scans triggered by reads.
const scanFreshness = time.Minute

// ScanResult summarizes one expiration scan of an owner.
type ScanResult struct {
	Created   int
	Escalated int
	Resolved  int
}

// AlertService is the expiration alert engine.
//
// Scans of one owner are serialized; the partial unique index on
// unresolved alerts covers scans running in other processes.
type AlertService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	notifier    *Notifier
	locks       *jobs.KeyedMutex
	group       singleflight.Group
	scanned     *jobs.Cache[time.Time]
	window      int
	log         logging.Logger
	now         func() time.Time
}

func NewAlertService(db *sql.DB, m repomanager.RepositoryManager, notifier *Notifier, cfg *config.Config,
	log logging.Logger) *AlertService {
	window := cfg.AlertWindowDays
	if window <= 0 {
		window = 30
	}
	return &AlertService{
		db:          db,
		repomanager: m,
		notifier:    notifier,
		locks:       jobs.NewKeyedMutex(),
		scanned:     jobs.NewCache[time.Time](scanFreshness, scanFreshness),
		window:      window,
		log:         log.With("module", "alerts"),
		now:         time.Now,
	}
}

// Close stops the scan throttle sweeper.
func (s *AlertService) Close() {
	s.scanned.Close()
}

// Scan raises alerts for expiring items of ownerID, escalates alerts whose
// severity grew and resolves alerts whose item no longer needs one.
func (s *AlertService) Scan(ctx context.Context, ownerID string) (ScanResult, error) {
	if ownerID == "" {
		return ScanResult{}, validationf("owner id is required")
	}
	unlock := s.locks.Lock(ownerID)
	defer unlock()

	now := s.now().UTC()
	repo := s.repomanager.Alerts(s.db)

	open, err := repo.ListUnresolved(ctx, ownerID)
	if err != nil {
		return ScanResult{}, dependency("list alerts", err)
	}
	stale := make(map[string]*models.Alert, len(open))
	for _, a := range open {
		if a.RelatedTo == models.RelatedVaultItem {
			stale[a.RelatedID] = a
		}
	}

	var res ScanResult
	for _, dt := range models.AllDataTypes {
		list, err := s.repomanager.Items(s.db).ListActiveItems(ctx, ownerID, dt)
		if err != nil {
			return res, dependency("list "+string(dt), err)
		}
		for _, item := range list {
			as, ok := expiry.Assess(item, now, s.window)
			if !ok {
				continue
			}
			existing, found := stale[item.ID]
			delete(stale, item.ID)
			if found {
				escalated, err := s.escalate(ctx, existing, as)
				if err != nil {
					return res, err
				}
				if escalated {
					res.Escalated++
				}
				continue
			}
			created, err := s.raise(ctx, ownerID, item, as, now)
			if err != nil {
				return res, err
			}
			if created {
				res.Created++
			}
		}
	}

	for _, a := range stale {
		if err := repo.Resolve(ctx, ownerID, a.ID, now); err != nil && !errors.Is(err, common.ErrNotFound) {
			return res, dependency("resolve alert", err)
		}
		res.Resolved++
	}

	s.scanned.Put(ownerID, now)
	s.log.Info(ctx, "expiration scan finished", "owner_id", ownerID,
		"created", res.Created, "escalated", res.Escalated, "resolved", res.Resolved)
	return res, nil
}

func (s *AlertService) raise(ctx context.Context, ownerID string, item *models.VaultItem, as *expiry.Assessment,
	now time.Time) (bool, error) {
	action := as.Action
	at := as.At
	a := &models.Alert{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		Type:           as.Type,
		Severity:       as.Severity,
		Title:          as.Title,
		Message:        as.Message,
		RelatedTo:      models.RelatedVaultItem,
		RelatedID:      item.ID,
		ActionRequired: true,
		Action:         &action,
		ExpiryDate:     &at,
		Metadata:       as.Metadata,
		CreatedAt:      now,
	}
	err := s.repomanager.Alerts(s.db).Create(ctx, a)
	switch {
	case errors.Is(err, common.ErrConflict):
		// another scan created it first
		return false, nil
	case err != nil:
		return false, dependency("create alert", err)
	}

	_ = s.notifier.Notify(ctx, models.Notification{
		OwnerID:  ownerID,
		Title:    a.Title,
		Message:  a.Message,
		Type:     models.NotificationWarning,
		Category: models.NotificationCategoryExpiry,
		Action:   &action,
		Metadata: map[string]any{"alertId": a.ID, "itemId": item.ID, "severity": string(a.Severity)},
	})
	return true, nil
}

// escalate rewrites an unresolved alert when its severity rank grew. Lower
// or equal severities leave it untouched, the read flag included.
func (s *AlertService) escalate(ctx context.Context, a *models.Alert, as *expiry.Assessment) (bool, error) {
	if as.Severity.Rank() <= a.Severity.Rank() {
		return false, nil
	}
	at := as.At
	a.Severity = as.Severity
	a.Title = as.Title
	a.Message = as.Message
	a.ExpiryDate = &at
	a.Metadata = as.Metadata
	a.IsRead = false
	err := s.repomanager.Alerts(s.db).Escalate(ctx, a)
	switch {
	case errors.Is(err, common.ErrNotFound):
		return false, nil
	case err != nil:
		return false, dependency("escalate alert", err)
	}
	return true, nil
}

// ScanAll scans every owner holding active items. Failures of one owner do
// not stop the others.
func (s *AlertService) ScanAll(ctx context.Context) error {
	owners, err := s.repomanager.Items(s.db).ListOwners(ctx)
	if err != nil {
		return dependency("list owners", err)
	}
	var errs []error
	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.Scan(ctx, owner); err != nil {
			s.log.Error(ctx, "expiration scan failed", "owner_id", owner, "error", err)
			errs = append(errs, fmt.Errorf("owner %s: %w", owner, err))
		}
	}
	return errors.Join(errs...)
}

// ListUnresolved returns the open alerts of ownerID, scanning first unless
// a scan finished recently. Concurrent reads of one owner share one scan.
func (s *AlertService) ListUnresolved(ctx context.Context, ownerID string) ([]*models.Alert, error) {
	if _, fresh := s.scanned.Get(ownerID); !fresh {
		_, err, _ := s.group.Do(ownerID, func() (any, error) {
			return s.Scan(context.WithoutCancel(ctx), ownerID)
		})
		if err != nil {
			return nil, err
		}
	}
	list, err := s.repomanager.Alerts(s.db).ListUnresolved(ctx, ownerID)
	if err != nil {
		return nil, dependency("list alerts", err)
	}
	return list, nil
}

func (s *AlertService) MarkRead(ctx context.Context, ownerID, id string) error {
	if err := s.repomanager.Alerts(s.db).MarkRead(ctx, ownerID, id); err != nil {
		return dependency("mark alert read", err)
	}
	return nil
}

// Resolve closes an alert. A later scan raises a new one if the item still
// expires within the window.
func (s *AlertService) Resolve(ctx context.Context, ownerID, id string) error {
	if err := s.repomanager.Alerts(s.db).Resolve(ctx, ownerID, id, s.now().UTC()); err != nil {
		return dependency("resolve alert", err)
	}
	s.scanned.Expire(ownerID)
	return nil
}

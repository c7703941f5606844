package grpc

import (
	"context"

	"github.com/dmitrijs2005/vaultguard/internal/server/models"
	"github.com/dmitrijs2005/vaultguard/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type BackupManager interface {
	Create(ctx context.Context, req services.CreateBackupRequest) (*models.Backup, error)
	Restore(ctx context.Context, ownerID, id string) (*models.Backup, error)
	Verify(ctx context.Context, ownerID, id string) (*models.Backup, error)
	Get(ctx context.Context, ownerID, id string) (*models.Backup, error)
	List(ctx context.Context, ownerID string) ([]*models.Backup, error)
	Delete(ctx context.Context, ownerID, id string) error
}

type SyncCoordinator interface {
	Initiate(ctx context.Context, req services.InitiateSyncRequest) (*models.SyncLog, error)
	Cancel(ctx context.Context, ownerID, id string) (*models.SyncLog, error)
	ResolveConflict(ctx context.Context, ownerID, id string, index int, resolution models.Resolution,
		resolvedBy string) (*models.SyncLog, error)
	Get(ctx context.Context, ownerID, id string) (*models.SyncLog, error)
	History(ctx context.Context, ownerID, deviceID string, limit int) ([]*models.SyncLog, error)
}

type AlertEngine interface {
	Scan(ctx context.Context, ownerID string) (services.ScanResult, error)
	ListUnresolved(ctx context.Context, ownerID string) ([]*models.Alert, error)
	MarkRead(ctx context.Context, ownerID, id string) error
	Resolve(ctx context.Context, ownerID, id string) error
}

type DeviceRegistry interface {
	Register(ctx context.Context, req services.RegisterDeviceRequest) (*models.Device, error)
	List(ctx context.Context, ownerID string) ([]*models.Device, error)
	SetPrimary(ctx context.Context, ownerID, id string) (*models.Device, error)
	Remove(ctx context.Context, ownerID, id string) error
}

type NotificationLister interface {
	List(ctx context.Context, ownerID string, limit int) ([]*models.Notification, error)
}

// call decodes req into In, runs fn for the authenticated owner and encodes
// its result. Engine errors are translated to gRPC statuses.
func call[In any](ctx context.Context, s *GRPCServer, op string, req *structpb.Struct,
	fn func(owner string, in In) (any, error)) (*structpb.Struct, error) {
	owner, err := ownerFrom(ctx)
	if err != nil {
		return nil, err
	}
	var in In
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	out, err := fn(owner, in)
	if err != nil {
		return nil, s.toStatus(ctx, op, err)
	}
	return encode(out)
}

func required(name, value string) error {
	if value == "" {
		return status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	return nil
}

type empty struct{}

type backupRef struct {
	BackupID string `json:"backupId"`
}

type createBackupIn struct {
	Kind      models.BackupKind `json:"kind"`
	DataTypes []models.DataType `json:"dataTypes"`
	Selection *models.Selection `json:"selection"`
}

func (s *GRPCServer) CreateBackup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return call(ctx, s, "CreateBackup", req, func(owner string, in createBackupIn) (any, error) {
		if in.Kind == "" {
			in.Kind = models.BackupKindFull
		}
		b, err := s.backups.Create(ctx, services.CreateBackupRequest{
			OwnerID: owner, Kind: in.Kind, DataTypes: in.DataTypes, Selection: in.Selection,
		})
		if err != nil {
			return nil, err
		}
		return newBackupView(b), nil
	})
}

func (s *GRPCServer) RestoreBackup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.backupOp(ctx, "RestoreBackup", req, s.backups.Restore)
}

func (s *GRPCServer) VerifyBackup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.backupOp(ctx, "VerifyBackup", req, s.backups.Verify)
}

func (s *GRPCServer) GetBackupStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.backupOp(ctx, "GetBackupStatus", req, s.backups.Get)
}

func (s *GRPCServer) backupOp(ctx context.Context, op string, req *structpb.Struct,
	fn func(ctx context.Context, ownerID, id string) (*models.Backup, error)) (*structpb.Struct, error) {
	return call(ctx, s, op, req, func(owner string, in backupRef) (any, error) {
		if err := required("backupId", in.BackupID); err != nil {
			return nil, err
		}
		b, err := fn(ctx, owner, in.BackupID)
		if err != nil {
			return nil, err
		}
		return newBackupView(b), nil
	})
}

func (s *GRPCServer) ListBackups(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return call(ctx, s, "ListBackups", req, func(owner string, _ empty) (any, error) {
		list, err := s.backups.List(ctx, owner)
		if err != nil {
			return nil, err
		}
		return map[string]any{"backups": mapViews(list, newBackupView)}, nil
	})
}

func (s *GRPCServer) DeleteBackup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return call(ctx, s, "DeleteBackup", req, func(owner string, in backupRef) (any, error) {
		if err := required("backupId", in.BackupID); err != nil {
			return nil, err
		}
		return empty{}, s.backups.Delete(ctx, owner, in.BackupID)
	})
}

type syncRef struct {
	SyncLogID string `json:"syncLogId"`
}

type initiateSyncIn struct {
	DeviceID  string            `json:"deviceId"`
	Type      models.SyncType   `json:"type"`
	DataTypes []models.DataType `json:"dataTypes"`
}

func (s *GRPCServer) InitiateSync(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return call(ctx, s, "InitiateSync", req, func(owner string, in initiateSyncIn) (any, error) {
		if err := required("deviceId", in.DeviceID); err != nil {
			return nil, err
		}
		l, err := s.syncs.Initiate(ctx, services.InitiateSyncRequest{
			OwnerID: owner, DeviceID: in.DeviceID, Type: in.Type, DataTypes: in.DataTypes,
		})
		if err != nil {
			return nil, err
		}
		return newSyncLogView(l), nil
	})
}

func (s *GRPCServer) CancelSync(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.syncOp(ctx, "CancelSync", req, s.syncs.Cancel)
}

func (s *GRPCServer) GetSyncStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.syncOp(ctx, "GetSyncStatus", req, s.syncs.Get)
}

func (s *GRPCServer) syncOp(ctx context.Context, op string, req *structpb.Struct,
	fn func(ctx context.Context, ownerID, id string) (*models.SyncLog, error)) (*structpb.Struct, error) {
	return call(ctx, s, op, req, func(owner string, in syncRef) (any, error) {
		if err := required("syncLogId", in.SyncLogID); err != nil {
			return nil, err
		}
		l, err := fn(ctx, owner, in.SyncLogID)
		if err != nil {
			return nil, err
		}
		return newSyncLogView(l), nil
	})
}

type resolveConflictIn struct {
	SyncLogID     string            `json:"syncLogId"`
	ConflictIndex *int              `json:"conflictIndex"`
	Resolution    models.Resolution `json:"resolution"`
	ResolvedBy    string            `json:"resolvedBy"`
}

func (s *GRPCServer) ResolveConflict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return call(ctx, s, "ResolveConflict", req, func(owner string, in resolveConflictIn) (any, error) {
		if err := required("syncLogId", in.SyncLogID); err != nil {
			return nil, err
		}
		if in.ConflictIndex == nil {
			return nil, status.Error(codes.InvalidArgument, "conflictIndex is required")
		}
		l, err := s.syncs.ResolveConflict(ctx, owner, in.SyncLogID, *in.ConflictIndex, in.Resolution, in.ResolvedBy)
		if err != nil {
			return nil, err
		}
		return newSyncLogView(l), nil
	})
}

type historyIn struct {
	DeviceID string `json:"deviceId"`
	Limit    int    `json:"limit"`
}

func (s *GRPCServer) ListSyncHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return call(ctx, s, "ListSyncHistory", req, func(owner string, in historyIn) (any, error) {
		if err := required("deviceId", in.DeviceID); err != nil {
			return nil, err
		}
		list, err := s.syncs.History(ctx, owner, in.DeviceID, in.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"syncLogs": mapViews(list, newSyncLogView)}, nil
	})
}

func (s *GRPCServer) ScanExpirations(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return call(ctx, s, "ScanExpirations", req, func(owner string, _ empty) (any, error) {
		res, err := s.alerts.Scan(ctx, owner)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"alertsCreated":   res.Created,
			"alertsEscalated": res.Escalated,
			"alertsResolved":  res.Resolved,
		}, nil
	})
}

func (s *GRPCServer) ListUnresolvedAlerts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return call(ctx, s, "ListUnresolvedAlerts", req, func(owner string, _ empty) (any, error) {
		list, err := s.alerts.ListUnresolved(ctx, owner)
		if err != nil {
			return nil, err
		}
		return map[string]any{"alerts": mapViews(list, newAlertView)}, nil
	})
}

type alertRef struct {
	AlertID string `json:"alertId"`
}

func (s *GRPCServer) MarkAlertRead(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return call(ctx, s, "MarkAlertRead", req, func(owner string, in alertRef) (any, error) {
		if err := required("alertId", in.AlertID); err != nil {
			return nil, err
		}
		return empty{}, s.alerts.MarkRead(ctx, owner, in.AlertID)
	})
}

func (s *GRPCServer) ResolveAlert(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return call(ctx, s, "ResolveAlert", req, func(owner string, in alertRef) (any, error) {
		if err := required("alertId", in.AlertID); err != nil {
			return nil, err
		}
		return empty{}, s.alerts.Resolve(ctx, owner, in.AlertID)
	})
}

type registerDeviceIn struct {
	Name        string               `json:"name"`
	Type        string               `json:"type"`
	IsTrusted   bool                 `json:"isTrusted"`
	SyncEnabled *bool                `json:"syncEnabled"`
	Settings    *models.SyncSettings `json:"settings"`
}

func (s *GRPCServer) RegisterDevice(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return call(ctx, s, "RegisterDevice", req, func(owner string, in registerDeviceIn) (any, error) {
		r := services.RegisterDeviceRequest{
			OwnerID:     owner,
			Name:        in.Name,
			Type:        in.Type,
			IsTrusted:   in.IsTrusted,
			SyncEnabled: true,
			Settings:    models.AllCategories(),
		}
		if in.SyncEnabled != nil {
			r.SyncEnabled = *in.SyncEnabled
		}
		if in.Settings != nil {
			r.Settings = *in.Settings
		}
		d, err := s.devices.Register(ctx, r)
		if err != nil {
			return nil, err
		}
		return newDeviceView(d), nil
	})
}

func (s *GRPCServer) ListDevices(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return call(ctx, s, "ListDevices", req, func(owner string, _ empty) (any, error) {
		list, err := s.devices.List(ctx, owner)
		if err != nil {
			return nil, err
		}
		return map[string]any{"devices": mapViews(list, newDeviceView)}, nil
	})
}

type deviceRef struct {
	DeviceID string `json:"deviceId"`
}

func (s *GRPCServer) SetPrimaryDevice(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return call(ctx, s, "SetPrimaryDevice", req, func(owner string, in deviceRef) (any, error) {
		if err := required("deviceId", in.DeviceID); err != nil {
			return nil, err
		}
		d, err := s.devices.SetPrimary(ctx, owner, in.DeviceID)
		if err != nil {
			return nil, err
		}
		return newDeviceView(d), nil
	})
}

func (s *GRPCServer) RemoveDevice(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return call(ctx, s, "RemoveDevice", req, func(owner string, in deviceRef) (any, error) {
		if err := required("deviceId", in.DeviceID); err != nil {
			return nil, err
		}
		return empty{}, s.devices.Remove(ctx, owner, in.DeviceID)
	})
}

type limitIn struct {
	Limit int `json:"limit"`
}

func (s *GRPCServer) ListNotifications(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return call(ctx, s, "ListNotifications", req, func(owner string, in limitIn) (any, error) {
		list, err := s.notifications.List(ctx, owner, in.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"notifications": mapViews(list, newNotificationView)}, nil
	})
}

package grpc

import (
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/vaultguard/internal/server/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// decode converts a request Struct into the JSON-tagged value v.
func decode(req *structpb.Struct, v any) error {
	if req == nil {
		return nil
	}
	raw, err := protojson.Marshal(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	return nil
}

// encode converts a JSON-tagged value into a response Struct.
func encode(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

type errorView struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func newErrorView(e *models.JobError) *errorView {
	if e == nil {
		return nil
	}
	return &errorView{Message: e.Message, Code: e.Code}
}

type backupView struct {
	ID              string               `json:"id"`
	OwnerID         string               `json:"ownerId"`
	Kind            models.BackupKind    `json:"kind"`
	Status          models.BackupStatus  `json:"status"`
	DataTypes       []models.DataType    `json:"dataTypes"`
	Selection       *models.Selection    `json:"selection,omitempty"`
	SizeBytes       int64                `json:"sizeBytes"`
	ItemsBackedUp   models.ItemCounts    `json:"itemsBackedUp"`
	StorageLocation string               `json:"storageLocation,omitempty"`
	Checksum        string               `json:"checksum,omitempty"`
	Algorithm       string               `json:"algorithm,omitempty"`
	HealthMetrics   models.HealthMetrics `json:"healthMetrics"`
	Restorable      bool                 `json:"restorable"`
	Error           *errorView           `json:"error,omitempty"`
	StartedAt       time.Time            `json:"startedAt"`
	CompletedAt     *time.Time           `json:"completedAt,omitempty"`
	LastRestoredAt  *time.Time           `json:"lastRestoredAt,omitempty"`
}

func newBackupView(b *models.Backup) backupView {
	return backupView{
		ID:              b.ID,
		OwnerID:         b.OwnerID,
		Kind:            b.Kind,
		Status:          b.Status,
		DataTypes:       b.DataTypes,
		Selection:       b.Selection,
		SizeBytes:       b.SizeBytes,
		ItemsBackedUp:   b.ItemsBackedUp,
		StorageLocation: b.StorageLocation,
		Checksum:        b.Checksum,
		Algorithm:       b.Encryption.Algorithm,
		HealthMetrics:   b.Health,
		Restorable:      b.Restorable,
		Error:           newErrorView(b.Error),
		StartedAt:       b.StartedAt,
		CompletedAt:     b.CompletedAt,
		LastRestoredAt:  b.LastRestoredAt,
	}
}

type syncLogView struct {
	ID                  string            `json:"id"`
	OwnerID             string            `json:"ownerId"`
	DeviceID            string            `json:"deviceId"`
	Type                models.SyncType   `json:"type"`
	Status              models.SyncStatus `json:"status"`
	DataTypes           []models.DataType `json:"dataTypes"`
	ItemsSynced         models.ItemCounts `json:"itemsSynced"`
	BytesSynced         int64             `json:"bytesSynced"`
	DurationMs          int64             `json:"durationMs"`
	Conflicts           []models.Conflict `json:"conflicts"`
	UnresolvedConflicts int               `json:"unresolvedConflicts"`
	Error               *errorView        `json:"error,omitempty"`
	StartedAt           time.Time         `json:"startedAt"`
	CompletedAt         *time.Time        `json:"completedAt,omitempty"`
}

func newSyncLogView(l *models.SyncLog) syncLogView {
	conflicts := l.Conflicts
	if conflicts == nil {
		conflicts = []models.Conflict{}
	}
	return syncLogView{
		ID:                  l.ID,
		OwnerID:             l.OwnerID,
		DeviceID:            l.DeviceID,
		Type:                l.Type,
		Status:              l.Status,
		DataTypes:           l.DataTypes,
		ItemsSynced:         l.ItemsSynced,
		BytesSynced:         l.BytesSynced,
		DurationMs:          l.Duration.Milliseconds(),
		Conflicts:           conflicts,
		UnresolvedConflicts: l.UnresolvedConflicts(),
		Error:               newErrorView(l.Error),
		StartedAt:           l.StartedAt,
		CompletedAt:         l.CompletedAt,
	}
}

type alertView struct {
	ID             string               `json:"id"`
	Type           models.AlertType     `json:"type"`
	Severity       models.Severity      `json:"severity"`
	Title          string               `json:"title"`
	Message        string               `json:"message"`
	RelatedTo      string               `json:"relatedTo"`
	RelatedID      string               `json:"relatedId"`
	IsRead         bool                 `json:"isRead"`
	IsResolved     bool                 `json:"isResolved"`
	ActionRequired bool                 `json:"actionRequired"`
	Action         *models.Action       `json:"action,omitempty"`
	ExpiryDate     *time.Time           `json:"expiryDate,omitempty"`
	Metadata       models.AlertMetadata `json:"metadata"`
	CreatedAt      time.Time            `json:"createdAt"`
}

func newAlertView(a *models.Alert) alertView {
	return alertView{
		ID:             a.ID,
		Type:           a.Type,
		Severity:       a.Severity,
		Title:          a.Title,
		Message:        a.Message,
		RelatedTo:      a.RelatedTo,
		RelatedID:      a.RelatedID,
		IsRead:         a.IsRead,
		IsResolved:     a.IsResolved,
		ActionRequired: a.ActionRequired,
		Action:         a.Action,
		ExpiryDate:     a.ExpiryDate,
		Metadata:       a.Metadata,
		CreatedAt:      a.CreatedAt,
	}
}

type deviceView struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Type         string              `json:"type"`
	IsTrusted    bool                `json:"isTrusted"`
	IsPrimary    bool                `json:"isPrimary"`
	SyncEnabled  bool                `json:"syncEnabled"`
	Settings     models.SyncSettings `json:"settings"`
	Status       models.DeviceStatus `json:"status"`
	LastActiveAt *time.Time          `json:"lastActiveAt,omitempty"`
	LastSyncedAt *time.Time          `json:"lastSyncedAt,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
}

func newDeviceView(d *models.Device) deviceView {
	return deviceView{
		ID:           d.ID,
		Name:         d.Name,
		Type:         d.Type,
		IsTrusted:    d.IsTrusted,
		IsPrimary:    d.IsPrimary,
		SyncEnabled:  d.SyncEnabled,
		Settings:     d.Settings,
		Status:       d.Status,
		LastActiveAt: d.LastActiveAt,
		LastSyncedAt: d.LastSyncedAt,
		CreatedAt:    d.CreatedAt,
	}
}

type notificationView struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Type      string         `json:"type"`
	Category  string         `json:"category"`
	Action    *models.Action `json:"action,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	IsRead    bool           `json:"isRead"`
	CreatedAt time.Time      `json:"createdAt"`
}

func newNotificationView(n *models.Notification) notificationView {
	return notificationView{
		ID:        n.ID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Type,
		Category:  n.Category,
		Action:    n.Action,
		Metadata:  n.Metadata,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}

func mapViews[T, V any](in []*T, fn func(*T) V) []V {
	out := make([]V, 0, len(in))
	for _, v := range in {
		out = append(out, fn(v))
	}
	return out
}

package models

import "time"

type DeviceStatus string

const (
	DeviceStatusOnline  DeviceStatus = "online"
	DeviceStatusOffline DeviceStatus = "offline"
	DeviceStatusSyncing DeviceStatus = "syncing"
)

// SyncSettings selects which categories a device synchronizes.
type SyncSettings struct {
	Passwords bool `json:"passwords"`
	Documents bool `json:"documents"`
	QRCodes   bool `json:"qrcodes"`
}

// AllCategories enables every category.
func AllCategories() SyncSettings {
	return SyncSettings{Passwords: true, Documents: true, QRCodes: true}
}

// Enabled reports whether category d is synchronized.
func (s SyncSettings) Enabled(d DataType) bool {
	switch d {
	case DataTypePasswords:
		return s.Passwords
	case DataTypeDocuments:
		return s.Documents
	case DataTypeQRCodes:
		return s.QRCodes
	}
	return false
}

// Device is a registered client of one owner. Exactly one device per owner
// is primary.
type Device struct {
	ID           string
	OwnerID      string
	Name         string
	Type         string
	IsTrusted    bool
	IsPrimary    bool
	SyncEnabled  bool
	Settings     SyncSettings
	Status       DeviceStatus
	LastActiveAt *time.Time
	LastSyncedAt *time.Time
	CreatedAt    time.Time
}

// Replica is the device's view of one vault item as of its last sync.
//
// BaseVersion is the server version the replica was last reconciled with.
// Dirty marks a local edit on the device that the server has not accepted;
// Checksum is the checksum of the device copy.
type Replica struct {
	DeviceID    string
	ItemID      string
	DataType    DataType
	BaseVersion int64
	Checksum    string
	Dirty       bool
	ModifiedAt  time.Time
}

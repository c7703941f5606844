package models

import "time"

// Notification categories.
const (
	NotificationCategoryBackup = "backup"
	NotificationCategorySync   = "sync"
	NotificationCategoryExpiry = "expiry"
)

// Notification types.
const (
	NotificationSuccess = "success"
	NotificationError   = "error"
	NotificationWarning = "warning"
	NotificationInfo    = "info"
)

// Notification is a human-readable event appended to an owner's list.
// Metadata is open-ended by nature and stays a map.
type Notification struct {
	ID        string
	OwnerID   string
	Title     string
	Message   string
	Type      string
	Category  string
	Action    *Action
	Metadata  map[string]any
	IsRead    bool
	CreatedAt time.Time
}

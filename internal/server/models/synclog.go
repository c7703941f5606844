package models

import "time"

type SyncType string

const (
	SyncTypeManual SyncType = "manual"
	SyncTypeAuto   SyncType = "auto"
)

// SyncStatus is the state of a sync log: initiated -> in_progress -> completed,
// or failed from any non-terminal state.
type SyncStatus string

const (
	SyncStatusInitiated  SyncStatus = "initiated"
	SyncStatusInProgress SyncStatus = "in_progress"
	SyncStatusCompleted  SyncStatus = "completed"
	SyncStatusFailed     SyncStatus = "failed"
)

// Active reports initiated or in_progress. A device has at most one active log.
func (s SyncStatus) Active() bool {
	return s == SyncStatusInitiated || s == SyncStatusInProgress
}

// Resolution of a sync conflict.
type Resolution string

const (
	// ResolutionLocal keeps the server copy.
	ResolutionLocal Resolution = "local"
	// ResolutionRemote keeps the device copy.
	ResolutionRemote Resolution = "remote"
	// ResolutionMerged records that the owner merged both copies on the device.
	ResolutionMerged Resolution = "merged"
)

// Valid reports whether r is a known resolution.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionLocal, ResolutionRemote, ResolutionMerged:
		return true
	}
	return false
}

// Conflict is a divergence of one logical field between the server copy
// (local) and the device replica (remote).
type Conflict struct {
	Field          string      `json:"field"`
	Category       DataType    `json:"category"`
	ItemID         string      `json:"itemId"`
	LocalValue     string      `json:"localValue"`
	RemoteValue    string      `json:"remoteValue"`
	ServerVersion  int64       `json:"serverVersion"`
	ServerChecksum string      `json:"serverChecksum"`
	Resolution     *Resolution `json:"resolution,omitempty"`
	ResolvedBy     string      `json:"resolvedBy,omitempty"`
	ResolvedAt     *time.Time  `json:"resolvedAt,omitempty"`
}

// Resolved reports whether a resolution was recorded.
func (c Conflict) Resolved() bool {
	return c.Resolution != nil
}

// SyncLog is one synchronization attempt of one device.
type SyncLog struct {
	ID          string
	OwnerID     string
	DeviceID    string
	Type        SyncType
	Status      SyncStatus
	DataTypes   []DataType
	ItemsSynced ItemCounts
	BytesSynced int64
	Duration    time.Duration
	Conflicts   []Conflict
	Error       *JobError
	StartedAt   time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// UnresolvedConflicts counts conflicts without a resolution.
func (l *SyncLog) UnresolvedConflicts() int {
	n := 0
	for _, c := range l.Conflicts {
		if !c.Resolved() {
			n++
		}
	}
	return n
}

package models

import "time"

type BackupKind string

const (
	BackupKindFull      BackupKind = "full"
	BackupKindSelective BackupKind = "selective"
)

// BackupStatus is the state of a backup record.
//
//	initiated -> in_progress -> completed
//	completed -> restoring -> completed
//	any non-terminal -> failed
type BackupStatus string

const (
	BackupStatusInitiated  BackupStatus = "initiated"
	BackupStatusInProgress BackupStatus = "in_progress"
	BackupStatusCompleted  BackupStatus = "completed"
	BackupStatusRestoring  BackupStatus = "restoring"
	BackupStatusFailed     BackupStatus = "failed"
)

// Active reports whether the backup body has not finished yet. At most one
// active backup exists per owner.
func (s BackupStatus) Active() bool {
	return s == BackupStatusInitiated || s == BackupStatusInProgress
}

// Terminal reports completed or failed.
func (s BackupStatus) Terminal() bool {
	return s == BackupStatusCompleted || s == BackupStatusFailed
}

// Verification statuses of HealthMetrics.
const (
	VerificationPending   = "pending"
	VerificationVerified  = "verified"
	VerificationCorrupted = "corrupted"
	VerificationMissing   = "missing"
)

// HealthMetrics is refreshed on completion and by explicit verification.
type HealthMetrics struct {
	IntegrityScore     int        `json:"integrityScore"`
	EncryptionStrength string     `json:"encryptionStrength"`
	VerificationStatus string     `json:"verificationStatus"`
	LastVerified       *time.Time `json:"lastVerified,omitempty"`
}

// Selection restricts a selective backup to explicit item ids.
type Selection struct {
	PasswordIDs []string `json:"passwordIds"`
	DocumentIDs []string `json:"documentIds"`
	QRCodeIDs   []string `json:"qrcodeIds"`
}

// IDs returns the selected ids of category d.
func (s *Selection) IDs(d DataType) []string {
	if s == nil {
		return nil
	}
	switch d {
	case DataTypePasswords:
		return s.PasswordIDs
	case DataTypeDocuments:
		return s.DocumentIDs
	case DataTypeQRCodes:
		return s.QRCodeIDs
	}
	return nil
}

// DataTypes returns the categories with at least one selected id.
func (s *Selection) DataTypes() []DataType {
	var out []DataType
	for _, d := range AllDataTypes {
		if len(s.IDs(d)) > 0 {
			out = append(out, d)
		}
	}
	return out
}

// BackupEncryption is the key material persisted next to the encrypted payload.
type BackupEncryption struct {
	Algorithm   string
	KeyMaterial []byte
	IV          []byte
}

// Backup is one backup attempt.
type Backup struct {
	ID              string
	OwnerID         string
	Kind            BackupKind
	Status          BackupStatus
	DataTypes       []DataType
	Selection       *Selection
	SizeBytes       int64
	ItemsBackedUp   ItemCounts
	StorageLocation string
	Checksum        string
	Encryption      BackupEncryption
	Health          HealthMetrics
	Restorable      bool
	Error           *JobError
	StartedAt       time.Time
	CompletedAt     *time.Time
	LastRestoredAt  *time.Time
	UpdatedAt       time.Time
}

package models

import "time"

type AlertType string

const (
	AlertTypeCardExpiry     AlertType = "card_expiry"
	AlertTypePassExpiry     AlertType = "pass_expiry"
	AlertTypePasswordExpiry AlertType = "password_expiry"
	AlertTypeDocumentExpiry AlertType = "document_expiry"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities, low = 1 .. critical = 4.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// RelatedVaultItem is the RelatedTo value of alerts raised for vault items.
const RelatedVaultItem = "vault-item"

// AlertMetadata is what the UI needs to render an expiry alert.
type AlertMetadata struct {
	ItemTitle       string `json:"itemTitle"`
	ItemType        string `json:"itemType"`
	Category        string `json:"category,omitempty"`
	ExpiryRaw       string `json:"expiryRaw,omitempty"`
	ExpiryDisplay   string `json:"expiryDisplay"`
	DaysUntilExpiry int    `json:"daysUntilExpiry"`
	Icon            string `json:"icon"`
}

// Alert notifies of an upcoming or passed expiration of exactly one item.
// For a (RelatedTo, RelatedID) pair at most one unresolved alert exists.
type Alert struct {
	ID             string
	OwnerID        string
	Type           AlertType
	Severity       Severity
	Title          string
	Message        string
	RelatedTo      string
	RelatedID      string
	IsRead         bool
	IsResolved     bool
	ActionRequired bool
	Action         *Action
	ExpiryDate     *time.Time
	Metadata       AlertMetadata
	CreatedAt      time.Time
	ResolvedAt     *time.Time
}

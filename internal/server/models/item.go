// Package models defines the records owned or consumed by the vault engine.
package models

import "time"

// DataType names a category of vault items.
type DataType string

const (
	DataTypePasswords DataType = "passwords"
	DataTypeDocuments DataType = "documents"
	DataTypeQRCodes   DataType = "qrcodes"
)

// AllDataTypes lists every category in canonical order.
var AllDataTypes = []DataType{DataTypePasswords, DataTypeDocuments, DataTypeQRCodes}

// Valid reports whether d is a known category.
func (d DataType) Valid() bool {
	switch d {
	case DataTypePasswords, DataTypeDocuments, DataTypeQRCodes:
		return true
	}
	return false
}

// VaultItem is a Password, Document or Card/Pass (QR-encoded) record as the
// engine sees it through the item repository.
type VaultItem struct {
	ID      string
	OwnerID string
	Type    DataType
	Title   string
	// Category refines the type, e.g. "credit", "debit", "boarding_pass".
	Category string
	// Data is the outer payload, usually JSON.
	Data string
	// EncodedData is an optional serialized sub-document (QR content).
	EncodedData string
	ExpiresAt   *time.Time
	// Version is bumped by the store on every server-side write.
	Version   int64
	Checksum  string
	SizeBytes int64
	IsActive  bool
	UpdatedAt time.Time
}

// ItemCounts holds per-category counters.
type ItemCounts struct {
	Passwords int `json:"passwords"`
	Documents int `json:"documents"`
	QRCodes   int `json:"qrcodes"`
}

// Add increments the counter of d by n.
func (c *ItemCounts) Add(d DataType, n int) {
	switch d {
	case DataTypePasswords:
		c.Passwords += n
	case DataTypeDocuments:
		c.Documents += n
	case DataTypeQRCodes:
		c.QRCodes += n
	}
}

// Get returns the counter of d.
func (c ItemCounts) Get(d DataType) int {
	switch d {
	case DataTypePasswords:
		return c.Passwords
	case DataTypeDocuments:
		return c.Documents
	case DataTypeQRCodes:
		return c.QRCodes
	}
	return 0
}

// Total sums all counters.
func (c ItemCounts) Total() int {
	return c.Passwords + c.Documents + c.QRCodes
}

// JobError captures why an asynchronous job failed.
type JobError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Stack   string `json:"stack,omitempty"`
}

// Action points the user at the feature page that resolves a notice.
type Action struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

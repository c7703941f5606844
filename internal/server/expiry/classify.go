package expiry

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dmitrijs2005/vaultguard/internal/server/models"
)

// DaysUntil counts started days from now until at; passed instants are negative.
func DaysUntil(at, now time.Time) int {
	return int(math.Ceil(at.Sub(now).Hours() / 24))
}

// SeverityFor maps days until expiry to a severity.
func SeverityFor(days int) models.Severity {
	switch {
	case days <= 0:
		return models.SeverityCritical
	case days <= 7:
		return models.SeverityHigh
	case days <= 14:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

type kind struct {
	alertType models.AlertType
	label     string
	icon      string
	action    models.Action
}

func kindOf(item *models.VaultItem) kind {
	switch item.Type {
	case models.DataTypePasswords:
		return kind{models.AlertTypePasswordExpiry, "Password", "key",
			models.Action{Label: "Update password", URL: "/passwords"}}
	case models.DataTypeDocuments:
		return kind{models.AlertTypeDocumentExpiry, "Document", "file-text",
			models.Action{Label: "Renew document", URL: "/documents"}}
	}
	if isCard(item.Category) {
		return kind{models.AlertTypeCardExpiry, "Card", "credit-card",
			models.Action{Label: "View card", URL: "/qrcodes/cards"}}
	}
	return kind{models.AlertTypePassExpiry, "Pass", "ticket",
		models.Action{Label: "View pass", URL: "/qrcodes/passes"}}
}

func isCard(category string) bool {
	c := strings.ToLower(category)
	return strings.Contains(c, "credit") || strings.Contains(c, "debit")
}

// Assessment is everything an alert needs to describe one expiring item.
type Assessment struct {
	Type     models.AlertType
	Severity models.Severity
	Days     int
	Title    string
	Message  string
	Action   models.Action
	At       time.Time
	Metadata models.AlertMetadata
}

// Assess resolves the expiry of item and reports it when it falls within
// window days of now, already passed ones included.
func Assess(item *models.VaultItem, now time.Time, window int) (*Assessment, bool) {
	exp, ok := Resolve(item)
	if !ok {
		return nil, false
	}
	days := DaysUntil(exp.At, now)
	if days > window {
		return nil, false
	}

	k := kindOf(item)
	display := exp.At.Format("January 2, 2006")
	a := &Assessment{
		Type:     k.alertType,
		Severity: SeverityFor(days),
		Days:     days,
		Action:   k.action,
		At:       exp.At,
		Metadata: models.AlertMetadata{
			ItemTitle:       item.Title,
			ItemType:        string(item.Type),
			Category:        item.Category,
			ExpiryRaw:       exp.Raw,
			ExpiryDisplay:   display,
			DaysUntilExpiry: days,
			Icon:            k.icon,
		},
	}

	name := item.Title
	if name == "" {
		name = k.label
	}
	switch {
	case days < 0:
		a.Title = k.label + " expired"
		a.Message = fmt.Sprintf("%s EXPIRED %s ago (%s)", name, plural(-days, "day"), display)
	case days == 0:
		a.Title = k.label + " expired"
		a.Message = fmt.Sprintf("%s EXPIRED today (%s)", name, display)
	default:
		a.Title = k.label + " expiring soon"
		a.Message = fmt.Sprintf("%s expires in %s (%s)", name, plural(days, "day"), display)
	}
	return a, true
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

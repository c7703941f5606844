package expiry

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/dmitrijs2005/vaultguard/internal/server/models"
)

// Expiry is a derived expiration instant.
type Expiry struct {
	At time.Time
	// Raw is the payload string the instant came from; empty when it came
	// from the item's expiresAt column.
	Raw string
}

var monthYear = regexp.MustCompile(`^\s*(\d{1,2})\s*/\s*(\d{2}|\d{4})\s*$`)

// Normalize resolves src into an instant. Payload values win over fallback;
// a payload value that cannot be parsed is ignored rather than reported.
func Normalize(src Source, fallback *time.Time) (Expiry, bool) {
	var raw string
	switch s := src.(type) {
	case Inline:
		raw = s.Raw
	case NestedEncoded:
		if r, ok := probe(s.Encoded); ok {
			raw = r
		} else if r, ok := probe(s.Outer); ok {
			raw = r
		}
	}

	if raw != "" {
		if at, ok := parse(raw); ok {
			return Expiry{At: at, Raw: raw}, true
		}
	}
	if fallback != nil {
		return Expiry{At: fallback.UTC()}, true
	}
	return Expiry{}, false
}

// Resolve is Normalize(SourceOf(item), item.ExpiresAt).
func Resolve(item *models.VaultItem) (Expiry, bool) {
	return Normalize(SourceOf(item), item.ExpiresAt)
}

func parse(raw string) (time.Time, bool) {
	if m := monthYear.FindStringSubmatch(raw); m != nil {
		return endOfMonth(m[1], m[2])
	}
	if secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil && secs > 100000000 {
		return time.Unix(secs, 0).UTC(), true
	}
	t, err := dateparse.ParseIn(strings.TrimSpace(raw), time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// endOfMonth applies the full-month validity rule: a card marked 02/25 is
// valid through February 28, 2025, so its instant is 00:00 UTC of that day.
func endOfMonth(mm, yy string) (time.Time, bool) {
	month, err := strconv.Atoi(mm)
	if err != nil || month < 1 || month > 12 {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(yy)
	if err != nil {
		return time.Time{}, false
	}
	if len(yy) == 2 {
		year += 2000
	}
	firstOfNext := time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	return firstOfNext.AddDate(0, 0, -1), true
}

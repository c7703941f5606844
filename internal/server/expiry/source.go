// Package expiry derives expiration instants from heterogeneous vault items
// and classifies how urgent they are.
//
// Items carry their expiry in one of three shapes, modelled by Source:
// an explicit field of the outer JSON payload (Inline), an explicit field of
// a serialized sub-document such as the content of a QR code (NestedEncoded),
// or nothing at all (Absent). Normalize is the single place that turns a
// Source into an instant, falling back to the item's expiresAt column.
package expiry

import (
	"github.com/dmitrijs2005/vaultguard/internal/server/models"
	"github.com/valyala/fastjson"
)

// Source is one of Inline, NestedEncoded or Absent.
type Source interface {
	isSource()
}

// Inline holds the raw expiry string found in the outer payload.
type Inline struct {
	Raw string
}

// NestedEncoded holds a serialized sub-document. Outer is the enclosing
// payload, probed when the sub-document cannot be decoded or has no expiry.
type NestedEncoded struct {
	Encoded string
	Outer   string
}

// Absent means no payload field names an expiry.
type Absent struct{}

func (Inline) isSource()        {}
func (NestedEncoded) isSource() {}
func (Absent) isSource()        {}

// fieldNames are the payload keys treated as an explicit expiry, in priority order.
var fieldNames = []string{"expiry", "expiryDate", "expirationDate", "expires", "validUntil", "exp"}

// SourceOf classifies the expiry shape of item.
func SourceOf(item *models.VaultItem) Source {
	if item.EncodedData != "" {
		return NestedEncoded{Encoded: item.EncodedData, Outer: item.Data}
	}
	if raw, ok := probe(item.Data); ok {
		return Inline{Raw: raw}
	}
	return Absent{}
}

// probe parses payload as JSON and returns the first expiry field found at
// the top level or one level below "data". Numbers are kept in their textual
// form. Invalid JSON yields no field.
func probe(payload string) (string, bool) {
	if payload == "" {
		return "", false
	}
	v, err := fastjson.Parse(payload)
	if err != nil {
		return "", false
	}
	for _, path := range [][]string{nil, {"data"}} {
		for _, name := range fieldNames {
			f := v.Get(append(append([]string(nil), path...), name)...)
			if f == nil {
				continue
			}
			switch f.Type() {
			case fastjson.TypeString:
				if s := string(f.GetStringBytes()); s != "" {
					return s, true
				}
			case fastjson.TypeNumber:
				return f.String(), true
			}
		}
	}
	return "", false
}

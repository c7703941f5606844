// Package blobstore keeps encrypted backup payloads outside the database.
// Three implementations share the Store contract: S3 (MinIO included), the
// local filesystem and process memory.
package blobstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/vaultguard/internal/common"
	"github.com/google/uuid"
)

// Store persists opaque payloads under string keys. Get of a missing key
// reports common.ErrNotFound.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// StorageKey returns a fresh, date-partitioned key for an owner's backup.
func StorageKey(ownerID string, now time.Time) string {
	return fmt.Sprintf("backups/%s/%d/%02d/%02d/%s", ownerID, now.Year(), now.Month(), now.Day(), uuid.New())
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: bad storage key %q", common.ErrValidation, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." || part == "" {
			return fmt.Errorf("%w: bad storage key %q", common.ErrValidation, key)
		}
	}
	return nil
}

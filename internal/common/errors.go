// Package common defines the error taxonomy and small helpers shared by the
// vault protection and synchronization engine. Callers should use errors.Is
// to match the sentinel values.
package common

import (
	"context"
	"errors"
)

var (
	// ErrConflict reports that an exclusivity invariant would be violated,
	// e.g. an active backup or sync already exists.
	ErrConflict = errors.New("conflict")

	// ErrNotFound reports a missing record, or one that belongs to another owner.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState reports an operation that is illegal for the current state.
	ErrInvalidState = errors.New("invalid state")

	// ErrCorruptPayload reports a ciphertext that failed decryption or a
	// plaintext whose checksum does not match the stored one.
	ErrCorruptPayload = errors.New("corrupt payload")

	// ErrDependencyFailure wraps failures of the item repository, device
	// registry, blob store or notification sink.
	ErrDependencyFailure = errors.New("dependency failure")

	// ErrValidation reports malformed input.
	ErrValidation = errors.New("validation error")

	// ErrUserCancelled is recorded on sync logs cancelled by their owner.
	ErrUserCancelled = errors.New("cancelled by user")

	// ErrInterrupted is recorded on jobs found non-terminal after a restart.
	ErrInterrupted = errors.New("interrupted")

	// ErrInvalidToken reports a missing, malformed or expired access token.
	ErrInvalidToken = errors.New("invalid token")
)

// Failure codes persisted on failed backups and sync logs.
const (
	CodeConflict          = "Conflict"
	CodeNotFound          = "NotFound"
	CodeInvalidState      = "InvalidState"
	CodeCorruptPayload    = "CorruptPayload"
	CodeDependencyFailure = "DependencyFailure"
	CodeValidation        = "Validation"
	CodeUserCancelled     = "UserCancelled"
	CodeInterrupted       = "Interrupted"
	CodeTimeout           = "Timeout"
	CodeInternal          = "Internal"
)

// Code classifies err into one of the failure codes. More specific causes win:
// a corrupt payload wrapped as a dependency failure is still CorruptPayload.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUserCancelled):
		return CodeUserCancelled
	case errors.Is(err, ErrInterrupted):
		return CodeInterrupted
	case errors.Is(err, ErrCorruptPayload):
		return CodeCorruptPayload
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrDependencyFailure):
		return CodeDependencyFailure
	default:
		return CodeInternal
	}
}

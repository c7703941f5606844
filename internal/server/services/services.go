// Package services contains the vault engine's business logic: backup and
// restore, device synchronization, the device registry and expiry alerts.
// Services read and write through repomanager and run long bodies on a
// shared jobs.Runner.
package services

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/dmitrijs2005/vaultguard/internal/common"
	"github.com/dmitrijs2005/vaultguard/internal/server/models"
)

// dependency wraps a collaborator failure as ErrDependencyFailure while
// keeping taxonomy errors the collaborator already reported.
func dependency(op string, err error) error {
	for _, known := range []error{common.ErrNotFound, common.ErrConflict, common.ErrInvalidState,
		common.ErrCorruptPayload, common.ErrValidation, common.ErrDependencyFailure} {
		if errors.Is(err, known) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%w: %s: %w", common.ErrDependencyFailure, op, err)
}

func jobError(err error) *models.JobError {
	return &models.JobError{
		Message: err.Error(),
		Code:    common.Code(err),
		Stack:   string(debug.Stack()),
	}
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrValidation, fmt.Sprintf(format, args...))
}

package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/vaultguard/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// codeOf maps the engine error taxonomy to gRPC status codes.
func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, common.ErrValidation):
		return codes.InvalidArgument
	case errors.Is(err, common.ErrConflict):
		return codes.AlreadyExists
	case errors.Is(err, common.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, common.ErrInvalidState):
		return codes.FailedPrecondition
	case errors.Is(err, common.ErrCorruptPayload):
		return codes.DataLoss
	case errors.Is(err, common.ErrInvalidToken):
		return codes.Unauthenticated
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, common.ErrDependencyFailure):
		return codes.Unavailable
	}
	return codes.Internal
}

func (s *GRPCServer) toStatus(ctx context.Context, op string, err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := codeOf(err)
	if code == codes.Internal || code == codes.Unavailable {
		s.logger.Error(ctx, op+" failed", "error", err)
	}
	return status.Error(code, err.Error())
}

package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/peer-eval-api/internal/repository"
	appErrors "github.com/noah-isme/peer-eval-api/pkg/errors"
	"github.com/noah-isme/peer-eval-api/pkg/middleware/requestid"
)

// storeFailure maps an unexpected repository error onto the public taxonomy. Store details never
// reach the client: transient failures become STORE_TRANSIENT, everything else an opaque
// STORE_INVARIANT_VIOLATION that is logged here.
func storeFailure(ctx context.Context, logger *zap.Logger, op string, err error) error {
	fields := []zap.Field{zap.String("op", op), zap.Error(err)}
	if reqID := requestid.FromContext(ctx); reqID != "" {
		fields = append(fields, zap.String("request_id", reqID))
	}
	if errors.Is(err, repository.ErrTransient) {
		logger.Warn("store call failed transiently", fields...)
		return appErrors.Wrap(err, appErrors.ErrStoreTransient.Code, appErrors.ErrStoreTransient.Status, appErrors.ErrStoreTransient.Message)
	}
	logger.Error("store invariant violation", fields...)
	return appErrors.Wrap(err, appErrors.ErrStoreInvariant.Code, appErrors.ErrStoreInvariant.Status, appErrors.ErrStoreInvariant.Message)
}

// lookupFailure is storeFailure with ErrNotFound mapped to NOT_FOUND carrying message.
func lookupFailure(ctx context.Context, logger *zap.Logger, op string, err error, message string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return appErrors.Clone(appErrors.ErrNotFound, message)
	}
	return storeFailure(ctx, logger, op, err)
}

func validationFailure(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}

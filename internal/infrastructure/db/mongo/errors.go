package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/samtwin/companion/internal/core/domain"
)

// Server error codes treated as permission failures.
const (
	codeUnauthorized         = 13
	codeAuthenticationFailed = 18
)

// storeError wraps err with op and classifies it into a *domain.StoreError.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	return domain.NewStoreError(storeCode(err), fmt.Errorf("%s: %w", op, err))
}

func storeCode(err error) domain.StoreCode {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return domain.StoreCodeNotFound
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, mongo.ErrClientDisconnected),
		mongo.IsTimeout(err),
		mongo.IsNetworkError(err):
		return domain.StoreCodeUnavailable
	}

	var se mongo.ServerError
	if errors.As(err, &se) && (se.HasErrorCode(codeUnauthorized) || se.HasErrorCode(codeAuthenticationFailed)) {
		return domain.StoreCodePermissionDenied
	}
	return domain.StoreCodeUnknown
}

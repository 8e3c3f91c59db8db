package handler

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/baller-exchange/internal/core/service"
)

// errorMapping translates the service error taxonomy to transport statuses.
var errorMapping = []struct {
	err     error
	status  int
	code    codes.Code
	message string
}{
	{service.ErrNotFound, http.StatusNotFound, codes.NotFound, "not found"},
	{service.ErrInvalidRecipient, http.StatusNotFound, codes.NotFound, "recipient does not exist"},
	{service.ErrUnauthorized, http.StatusForbidden, codes.PermissionDenied, "not allowed"},
	{service.ErrInvalidState, http.StatusConflict, codes.FailedPrecondition, "trade is no longer pending"},
	{service.ErrInsufficientFunds, http.StatusPaymentRequired, codes.FailedPrecondition, "insufficient funds"},
	{service.ErrAlreadyLocked, http.StatusConflict, codes.Aborted, "item is in another pending trade"},
	{service.ErrItemsUnavailable, http.StatusConflict, codes.Aborted, "trade items are no longer available"},
	{service.ErrGenerationUnavailable, http.StatusServiceUnavailable, codes.Unavailable, "item generation unavailable"},
	{service.ErrProfileUnavailable, http.StatusServiceUnavailable, codes.Unavailable, "profile unavailable"},
	{service.ErrConflictExhausted, http.StatusServiceUnavailable, codes.Aborted, "too much contention, try again"},
	{service.ErrDuplicateRequest, http.StatusConflict, codes.AlreadyExists, "duplicate request"},
	{service.ErrInvalidTrade, http.StatusBadRequest, codes.InvalidArgument, ""},
	{service.ErrInvalidQuery, http.StatusBadRequest, codes.InvalidArgument, ""},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, codes.DeadlineExceeded, "deadline exceeded"},
	{context.Canceled, http.StatusServiceUnavailable, codes.Canceled, "request canceled"},
}

// classify returns the transport status of err. An empty mapped message
// means err's own text is safe to show.
func classify(err error) (int, codes.Code, string) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			msg := m.message
			if msg == "" {
				msg = err.Error()
			}
			return m.status, m.code, msg
		}
	}
	return http.StatusInternalServerError, codes.Internal, "internal error"
}

func grpcError(err error) error {
	_, code, msg := classify(err)
	return status.Error(code, msg)
}

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hongminglow/vip-ledger/internal/finance"
	"github.com/hongminglow/vip-ledger/internal/http/respond"
)

// statusFor maps core errors to HTTP status codes. Unknown errors are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, finance.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, finance.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, finance.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, finance.ErrInvalidTransition),
		errors.Is(err, finance.ErrInsufficientFunds),
		errors.Is(err, finance.ErrAlreadyEnrolled):
		return http.StatusConflict
	case errors.Is(err, finance.ErrInvalidAmount),
		errors.Is(err, finance.ErrInvalidReference),
		errors.Is(err, finance.ErrInvalidRole),
		errors.Is(err, finance.ErrInvalidPlan),
		errors.Is(err, finance.ErrInvalidProfile),
		errors.Is(err, finance.ErrUnknownPlan):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respond.Error(w, status, "internal server error")
		return
	}
	respond.Error(w, status, err.Error())
}

package finance

import "errors"

// Errors returned by the finance core. Callers match them with errors.Is;
// every operation that returns one of them has left state untouched.
var (
	ErrUnauthenticated   = errors.New("caller is not authenticated")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transaction state transition")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnknownPlan       = errors.New("unknown plan")
	ErrAlreadyEnrolled   = errors.New("already enrolled in this plan")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidReference  = errors.New("invalid reference")
	ErrInvalidRole       = errors.New("invalid role")
	ErrInvalidPlan       = errors.New("invalid plan")
	ErrInvalidProfile    = errors.New("invalid profile")
)

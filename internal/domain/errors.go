package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicateKey    = errors.New("duplicate key")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidPlan     = errors.New("invalid cascade plan")
	ErrRiskRejected    = errors.New("risk rejected")
	ErrNoRoute         = errors.New("no route available")
	ErrExecutionFailed = errors.New("execution failed")
	ErrBotDisabled     = errors.New("bot disabled")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrLockHeld        = errors.New("lock already held")
)

// ErrorKind is the machine-readable failure classification carried by
// outcomes and API responses.
type ErrorKind string

const (
	KindInvalidInput    ErrorKind = "invalid_input"
	KindRiskRejected    ErrorKind = "risk_rejected"
	KindNoRoute         ErrorKind = "no_route_available"
	KindExecutionFailed ErrorKind = "execution_failed"
	KindNotFound        ErrorKind = "not_found"
	KindDuplicateKey    ErrorKind = "duplicate_key"
	KindInvalidPlan     ErrorKind = "invalid_plan"
	KindUnauthorized    ErrorKind = "unauthorized"
	KindRateLimited     ErrorKind = "rate_limited"
)

// KindOf maps err to its ErrorKind by unwrapping to a known sentinel. Unknown
// errors are reported as execution failures.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrBotDisabled):
		return KindInvalidInput
	case errors.Is(err, ErrRiskRejected):
		return KindRiskRejected
	case errors.Is(err, ErrNoRoute):
		return KindNoRoute
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrDuplicateKey):
		return KindDuplicateKey
	case errors.Is(err, ErrInvalidPlan):
		return KindInvalidPlan
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	default:
		return KindExecutionFailed
	}
}

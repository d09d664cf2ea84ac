package errs

import (
	"context"
	"errors"
)

// error codes
const (
	ServerInternalError  = 500
	UnauthenticatedError = 1001
	ForbiddenError       = 1002
	NotFoundError        = 1003
	BadRequestError      = 1004
	ConflictError        = 1005
	UnavailableError     = 1006
	RateLimitedError     = 1007
)

var (
	ErrInternalServer  = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrUnauthenticated = NewCodeError(UnauthenticatedError, "Unauthenticated")
	ErrForbidden       = NewCodeError(ForbiddenError, "Forbidden")
	ErrNotFound        = NewCodeError(NotFoundError, "NotFound")
	ErrBadRequest      = NewCodeError(BadRequestError, "BadRequest")
	ErrConflict        = NewCodeError(ConflictError, "Conflict")
	ErrUnavailable     = NewCodeError(UnavailableError, "Unavailable")
	ErrRateLimited     = NewCodeError(RateLimitedError, "RateLimited")
)

var codeNames = map[int]string{
	ServerInternalError:  "ServerInternalError",
	UnauthenticatedError: "Unauthenticated",
	ForbiddenError:       "Forbidden",
	NotFoundError:        "NotFound",
	BadRequestError:      "BadRequest",
	ConflictError:        "Conflict",
	UnavailableError:     "Unavailable",
	RateLimitedError:     "RateLimited",
}

// CodeName is the stable kind name used on the wire and in metric labels.
func CodeName(code int) string {
	if n, ok := codeNames[code]; ok {
		return n
	}
	return codeNames[ServerInternalError]
}

// Code classifies err. Deadline and cancellation errors are Unavailable,
// anything uncoded is ServerInternalError.
func Code(err error) int {
	if err == nil {
		return 0
	}
	if ce, ok := As(err); ok {
		return ce.Code
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return UnavailableError
	}
	return ServerInternalError
}

// Retryable reports whether a client may retry the same request unchanged.
func Retryable(code int) bool {
	switch code {
	case ConflictError, UnavailableError, RateLimitedError:
		return true
	default:
		return false
	}
}

func IsCode(err error, code int) bool { return Code(err) == code }

func IsNotFound(err error) bool    { return IsCode(err, NotFoundError) }
func IsConflict(err error) bool    { return IsCode(err, ConflictError) }
func IsForbidden(err error) bool   { return IsCode(err, ForbiddenError) }
func IsBadRequest(err error) bool  { return IsCode(err, BadRequestError) }
func IsUnavailable(err error) bool { return IsCode(err, UnavailableError) }

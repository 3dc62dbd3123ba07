package domain

import "errors"

// Error kinds returned by engine operations. Wrap with fmt.Errorf("%w: ...")
// and match with errors.Is.
var (
	ErrOwnerOnly            = errors.New("caller is not an administrator")
	ErrNotFound             = errors.New("record not found")
	ErrAlreadyExists        = errors.New("record already exists")
	ErrInvalidInput         = errors.New("invalid input")
	ErrUnauthorized         = errors.New("system is not active")
	ErrThresholdNotExceeded = errors.New("risk score below fraud threshold")
	ErrBlacklisted          = errors.New("trader is blacklisted")
)

// ErrorCode returns the stable wire code for an error kind.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrOwnerOnly):
		return "OWNER_ONLY"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrAlreadyExists):
		return "ALREADY_EXISTS"
	case errors.Is(err, ErrInvalidInput):
		return "INVALID_INPUT"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrThresholdNotExceeded):
		return "THRESHOLD_NOT_EXCEEDED"
	case errors.Is(err, ErrBlacklisted):
		return "BLACKLISTED"
	default:
		return "INTERNAL"
	}
}

package collab

import "errors"

// Error taxonomy for the collaboration engine. The string values double as
// stable wire codes in op.rejected / HTTP error payloads.
var (
	ErrValidation       = errors.New("VALIDATION")
	ErrConflict         = errors.New("CONFLICT")
	ErrForbidden        = errors.New("FORBIDDEN")
	ErrSessionFull      = errors.New("SESSION_FULL")
	ErrSessionClosed    = errors.New("SESSION_CLOSED")
	ErrNotFound         = errors.New("NOT_FOUND")
	ErrInvalidOperation = errors.New("INVALID_OPERATION")
	ErrUnavailable      = errors.New("SERVICE_UNAVAILABLE")
)

// Code maps an engine error to its wire code. Unknown errors are reported as
// INTERNAL so transport layers never leak raw error strings to clients.
func Code(err error) string {
	for _, sentinel := range []error{
		ErrValidation, ErrConflict, ErrForbidden, ErrSessionFull,
		ErrSessionClosed, ErrNotFound, ErrInvalidOperation, ErrUnavailable,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "INTERNAL"
}

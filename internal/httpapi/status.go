package httpapi

import (
	"net/http"

	"codecollab/internal/collab"
)

// Status maps engine errors to HTTP status codes.
func Status(err error) int {
	switch collab.Code(err) {
	case collab.ErrValidation.Error():
		return http.StatusBadRequest
	case collab.ErrForbidden.Error():
		return http.StatusForbidden
	case collab.ErrNotFound.Error():
		return http.StatusNotFound
	case collab.ErrSessionFull.Error(), collab.ErrConflict.Error():
		return http.StatusConflict
	case collab.ErrSessionClosed.Error():
		return http.StatusGone
	case collab.ErrUnavailable.Error():
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

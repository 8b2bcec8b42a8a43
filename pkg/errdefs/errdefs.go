package errdefs

import (
	"net/http"

	"github.com/zeebo/errs"
)

// Error classes for every failure surfaced by storage, serving, and the
// admin API. Wrap at the point of failure; classify once.
var (
	ErrBadRequest   = errs.Class("bad request")
	ErrNotFound     = errs.Class("not found")
	ErrConflict     = errs.Class("conflict")
	ErrUnauthorized = errs.Class("unauthorized")
	ErrIO           = errs.Class("io")
	ErrACME         = errs.Class("acme")
	ErrFatal        = errs.Class("fatal")
)

// HTTPStatus maps an error to the status code the admin API responds with.
// Unclassified errors are treated as internal.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case ErrBadRequest.Has(err):
		return http.StatusBadRequest
	case ErrNotFound.Has(err):
		return http.StatusNotFound
	case ErrConflict.Has(err):
		return http.StatusConflict
	case ErrUnauthorized.Has(err):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Reason returns the plain-text body for a non-OK admin response.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsBadRequest reports whether err belongs to ErrBadRequest.
func IsBadRequest(err error) bool { return ErrBadRequest.Has(err) }

// IsNotFound reports whether err belongs to ErrNotFound.
func IsNotFound(err error) bool { return ErrNotFound.Has(err) }

// IsConflict reports whether err belongs to ErrConflict.
func IsConflict(err error) bool { return ErrConflict.Has(err) }

// IsUnauthorized reports whether err belongs to ErrUnauthorized.
func IsUnauthorized(err error) bool { return ErrUnauthorized.Has(err) }

// IsIO reports whether err belongs to ErrIO.
func IsIO(err error) bool { return ErrIO.Has(err) }

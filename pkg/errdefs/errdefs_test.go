package errdefs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"bad request", ErrBadRequest.New("upload to alias"), http.StatusBadRequest},
		{"not found", ErrNotFound.New("no such domain"), http.StatusNotFound},
		{"conflict", ErrConflict.New("version finished"), http.StatusConflict},
		{"unauthorized", ErrUnauthorized.New("token mismatch"), http.StatusUnauthorized},
		{"io", ErrIO.New("disk full"), http.StatusInternalServerError},
		{"acme", ErrACME.New("order invalid"), http.StatusInternalServerError},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestHTTPStatusWrapped(t *testing.T) {
	// Classification survives %w wrapping.
	inner := ErrNotFound.New("version 3 does not exist")
	outer := fmt.Errorf("activate: %w", inner)

	assert.Equal(t, http.StatusNotFound, HTTPStatus(outer))
	assert.True(t, IsNotFound(outer))
}

func TestReason(t *testing.T) {
	err := ErrBadRequest.New("domain %q is an alias of %q", "b.ex.com", "a.ex.com")

	assert.Contains(t, Reason(err), "a.ex.com")
	assert.Contains(t, Reason(err), "bad request")
	assert.Equal(t, "", Reason(nil))
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsBadRequest(ErrBadRequest.New("x")))
	assert.True(t, IsConflict(ErrConflict.New("x")))
	assert.True(t, IsUnauthorized(ErrUnauthorized.New("x")))
	assert.False(t, IsNotFound(ErrConflict.New("x")))
	assert.False(t, IsBadRequest(nil))
}

package apperr_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"huddle/internal/apperr"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err    *apperr.Error
		status int
	}{
		{apperr.NotFound("x"), http.StatusNotFound},
		{apperr.Inactive("x"), http.StatusGone},
		{apperr.NotParticipant("x"), http.StatusForbidden},
		{apperr.Validation("x"), http.StatusBadRequest},
		{apperr.Unauthenticated("x"), http.StatusUnauthorized},
		{apperr.Conflict("x"), http.StatusConflict},
		{apperr.Unavailable("x", nil), http.StatusServiceUnavailable},
	}

	for _, c := range cases {
		assert.Equal(t, c.status, c.err.HTTPStatus(), string(c.err.Kind))
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("outer context: %w", apperr.NotFound("moment not found"))

	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	assert.False(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, apperr.Kind(""), apperr.KindOf(fmt.Errorf("boom")))
	assert.Equal(t, apperr.Kind(""), apperr.KindOf(nil))
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := apperr.Unavailable("store unreachable", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "store unreachable")
	assert.Contains(t, err.Error(), "connection refused")
}

package services

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/diewo77/go-assistance/gate"
	"github.com/diewo77/go-assistance/validation"
	"github.com/stretchr/testify/assert"
)

func TestError_KindsAndStatus(t *testing.T) {
	tests := []struct {
		err    error
		kind   Kind
		status int
	}{
		{newError(InsufficientFunds, "insufficient_funds"), InsufficientFunds, http.StatusUnprocessableEntity},
		{newError(InvalidState, "invalid_transition"), InvalidState, http.StatusConflict},
		{denied(gate.ErrUnauthorized), Unauthorized, http.StatusUnauthorized},
		{denied(gate.ErrForbidden), Forbidden, http.StatusForbidden},
		{normalize(errors.New("disk full")), Internal, http.StatusInternalServerError},
		{invalid(validation.Violations{"amount": "required"}), BadRequest, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			wrapped := fmt.Errorf("handler: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.kind)
			var se *Error
			assert.True(t, errors.As(wrapped, &se))
			assert.Equal(t, tt.status, se.HTTPStatus())
		})
	}
}

func TestError_Details(t *testing.T) {
	e := newError(InsufficientFunds, "insufficient_funds").with("available", "10.00")
	assert.Equal(t, map[string]any{"available": "10.00"}, e.ErrorDetails())
	assert.Nil(t, newError(NotFound, "pool_not_found").ErrorDetails())
	assert.Equal(t, "pool_not_found", newError(NotFound, "pool_not_found").Error())

	v := invalid(validation.Violations{"name": "required"})
	assert.ErrorAs(t, v, new(validation.Violations))
	assert.Nil(t, invalid(validation.Violations{}))
	assert.Equal(t, "forbidden", resultLabel(denied(gate.ErrForbidden)))
}

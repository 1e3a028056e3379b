package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	t.Run("matches direct error", func(t *testing.T) {
		err := New(CodeNotFound, "approval request not found")
		assert.True(t, HasCode(err, CodeNotFound))
		assert.False(t, HasCode(err, CodeExpired))
	})

	t.Run("matches through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("load: %w", New(CodeExpired, "approval expired"))
		assert.True(t, Is(err, CodeExpired))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
	})

	t.Run("wrap keeps cause reachable", func(t *testing.T) {
		cause := errors.New("connection reset")
		err := Wrap(cause, CodeInternal, "failed to load approval request")
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "failed to load approval request: connection reset", err.Error())
	})
}

func TestToHTTPStatus(t *testing.T) {
	tests := map[Code]int{
		CodeValidation:             http.StatusBadRequest,
		CodeDuplicateRequest:       http.StatusConflict,
		CodeNotFound:               http.StatusNotFound,
		CodeAlreadyFinalized:       http.StatusConflict,
		CodeExpired:                http.StatusGone,
		CodeAccessDenied:           http.StatusForbidden,
		CodeConcurrentModification: http.StatusConflict,
		CodePIILeakage:             http.StatusUnprocessableEntity,
		CodeInternal:               http.StatusInternalServerError,
	}
	for code, status := range tests {
		assert.Equal(t, status, ToHTTPStatus(code), string(code))
	}
}

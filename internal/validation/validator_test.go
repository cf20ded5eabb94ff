package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/superparser/gateway-control/internal/errors"
)

type sampleRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Plan  string `json:"plan" validate:"omitempty,max=10"`
}

func TestStruct(t *testing.T) {
	t.Run("valid request", func(t *testing.T) {
		assert.NoError(t, Struct(&sampleRequest{Email: "alice@example.com"}))
	})

	t.Run("reports json field names", func(t *testing.T) {
		err := Struct(&sampleRequest{Email: "not-an-email", Plan: "much-too-long-plan"})
		require.Error(t, err)

		appErr, ok := apperrors.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeValidation, appErr.Code)

		fields, ok := appErr.Details.([]FieldError)
		require.True(t, ok)
		require.Len(t, fields, 2)
		assert.Equal(t, "email", fields[0].Field)
		assert.Equal(t, "email", fields[0].Rule)
		assert.Equal(t, "plan", fields[1].Field)
		assert.Equal(t, "max", fields[1].Rule)
	})

	t.Run("missing required field", func(t *testing.T) {
		err := Struct(&sampleRequest{})
		appErr, ok := apperrors.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, "email is required", appErr.Message)
	})
}

package pkg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSendRequest struct {
	AddressTo string `validate:"required,email"`
	Subject   string `validate:"required"`
}

func TestValidate(t *testing.T) {
	t.Run("valid struct passes", func(t *testing.T) {
		req := testSendRequest{AddressTo: "rcpt@example.com", Subject: "hi"}
		assert.NoError(t, Validate(req))
	})

	t.Run("missing required fields", func(t *testing.T) {
		req := testSendRequest{}
		assert.Error(t, Validate(req))
	})

	t.Run("invalid email format", func(t *testing.T) {
		req := testSendRequest{AddressTo: "not-an-email", Subject: "hi"}
		assert.Error(t, Validate(req))
	})
}

func TestValidationMessage(t *testing.T) {
	t.Run("single missing field", func(t *testing.T) {
		req := testSendRequest{Subject: "hi"}
		err := Validate(req)
		require.Error(t, err)

		msg, fields := ValidationMessage(err)
		assert.Contains(t, msg, "AddressTo: required")
		assert.Equal(t, []string{"AddressTo"}, fields)
	})

	t.Run("multiple failures combine with comma", func(t *testing.T) {
		req := testSendRequest{AddressTo: "not-an-email"}
		err := Validate(req)
		require.Error(t, err)

		msg, fields := ValidationMessage(err)
		assert.Contains(t, msg, "AddressTo: email")
		assert.Contains(t, msg, "Subject: required")
		assert.Contains(t, msg, ", ")
		assert.ElementsMatch(t, []string{"AddressTo", "Subject"}, fields)
	})

	t.Run("non-validator error falls back to Error()", func(t *testing.T) {
		msg, fields := ValidationMessage(assert.AnError)
		assert.Equal(t, assert.AnError.Error(), msg)
		assert.Nil(t, fields)
	})
}

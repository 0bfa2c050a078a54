package validation

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Content string `json:"content" validate:"required,notblank"`
	Hidden  string `json:"-" validate:"max=3"`
	Plain   string `validate:"max=3"`
	Count   int    `json:"count" validate:"notblank"`
}

func TestRegister(t *testing.T) {
	v := validator.New()
	require.NoError(t, Register(v))

	assert.NoError(t, v.Struct(sample{Content: "hi"}))

	err := v.Struct(sample{Content: " \t\n", Plain: "long"})
	var verrs validator.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 2)
	assert.Equal(t, "content", verrs[0].Field())
	assert.Equal(t, TagNotBlank, verrs[0].Tag())
	assert.Equal(t, "Plain", verrs[1].Field())
}

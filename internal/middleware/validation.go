package middleware

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/taxlink/taxchat/internal/pkg/logger"
	"github.com/taxlink/taxchat/internal/pkg/validation"
)

// RegisterValidators installs the custom binding rules on gin's validator and
// makes binding errors report json names ("counterpartyId") instead of Go
// field names
func RegisterValidators() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	if err := validation.Register(v); err != nil {
		logger.Error().Err(err).Msg("Failed to register validation rules")
	}
}

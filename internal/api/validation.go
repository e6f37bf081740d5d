package api

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// ValidationError is one failed field of a request body.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func formatValidationError(err error) []ValidationError {
	var out []ValidationError
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, e := range verrs {
			out = append(out, ValidationError{
				Field:   e.Field(),
				Message: e.Error(),
			})
		}
	}
	return out
}

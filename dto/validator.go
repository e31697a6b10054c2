package dto

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("object_key", validateObjectKey)
}

func GetValidator() *validator.Validate {
	return validate
}

// validateObjectKey keeps storage keys to the shape the mobile client
// uploads under: relative paths with no traversal segments.
func validateObjectKey(fl validator.FieldLevel) bool {
	key := fl.Field().String()

	if key == "" || len(key) > 512 {
		return false
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return false
	}
	if strings.ContainsAny(key, " \t\r\n") {
		return false
	}

	return true
}

type ValidationError struct {
	Field   string `json:"field" example:"r2Key"`
	Message string `json:"message" example:"r2Key is required"`
}

func FormatValidationErrors(err error) []ValidationError {
	var errors []ValidationError

	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, fieldError := range validationErrors {
			var message string

			switch fieldError.Tag() {
			case "required":
				message = fieldError.Field() + " is required"
			case "min":
				message = fieldError.Field() + " must be at least " + fieldError.Param() + " characters"
			case "max":
				message = fieldError.Field() + " must be at most " + fieldError.Param() + " characters"
			case "numeric":
				message = fieldError.Field() + " must contain only numbers"
			case "oneof":
				message = fieldError.Field() + " must be one of: " + fieldError.Param()
			case "object_key":
				message = fieldError.Field() + " must be a relative object key"
			case "dive":
				message = fieldError.Field() + " contains invalid items"
			default:
				message = fieldError.Field() + " is invalid"
			}

			errors = append(errors, ValidationError{
				Field:   fieldError.Field(),
				Message: message,
			})
		}
	}

	return errors
}

type Validator interface {
	Validate() error
}

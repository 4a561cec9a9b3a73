package models

import "github.com/go-playground/validator/v10"

// NewValidator returns a validator that also understands the "busstatus" tag.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("busstatus", func(fl validator.FieldLevel) bool {
		return BusStatus(fl.Field().String()).Valid()
	})
	return v
}

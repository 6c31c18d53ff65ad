package service

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sma-fee-api/internal/models"
)

// registerFeeValidations installs the fee-specific tags on validate and reports field errors by json name.
func registerFeeValidations(validate *validator.Validate) *validator.Validate {
	if validate == nil {
		validate = validator.New()
	}
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	mustRegister(validate, "payment_mode", func(fl validator.FieldLevel) bool {
		return models.PaymentMode(strings.ToLower(fl.Field().String())).Valid()
	})
	mustRegister(validate, "semester", func(fl validator.FieldLevel) bool {
		return models.Semester(strings.ToLower(fl.Field().String())).Valid()
	})
	return validate
}

// mustRegister panics when a tag cannot be installed; the tags are fixed at compile time.
func mustRegister(validate *validator.Validate, tag string, fn validator.Func) {
	if err := validate.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %q validation: %v", tag, err))
	}
}

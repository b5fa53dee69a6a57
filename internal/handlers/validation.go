package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"farmmarket/internal/apperror"
)

var kenyanPhone = regexp.MustCompile(`^\+254[17]\d{8}$`)

var registerOnce sync.Once

// registerValidators teaches gin's validator the custom tags and makes it
// report JSON field names.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("kephone", func(fl validator.FieldLevel) bool {
			return kenyanPhone.MatchString(fl.Field().String())
		})
	})
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fieldPath(fe)] = describe(fe)
		}
		return apperror.Validation("Validation failed", fields).Wrap(err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &typeErr):
		return apperror.Validation("Validation failed", map[string]string{typeErr.Field: "has the wrong type"}).Wrap(err)
	case errors.As(err, &syntaxErr):
		return apperror.Validation("Malformed JSON body", nil).Wrap(err)
	}
	return apperror.Validation("Invalid request body", nil).Wrap(err)
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return "must be one of " + fe.Param()
	case "kephone":
		return "must be a Kenyan phone number like +254712345678"
	case "len":
		return "must have exactly " + fe.Param() + " items"
	case "eq":
		return "must be " + fe.Param()
	}
	return "is invalid"
}

package transfer

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"panshare/internal"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// report json names so errors match what API callers send
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// validateRequest checks the struct tags of a request and converts the first
// violation into an InvalidRequest error
func validateRequest(req interface{}) *internal.PanError {
	err := getValidator().Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return internal.WrapPanError(err, "invalid request", internal.ErrInvalidRequest)
	}

	fe := fieldErrs[0]
	message := fe.Field() + " " + describeTag(fe)
	return internal.NewPanError(0, message, internal.ErrInvalidRequest).
		WithStep("validate").
		WithContext("field", fe.Field())
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "alphanum":
		return "must be a folder id, not a path"
	case "startswith":
		return "must start with " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

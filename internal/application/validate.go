package application

import (
	"errors"
	"reflect"
	"strings"

	"github.com/atvirokodosprendimai/reportdesk/internal/domain"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// validateStruct turns validator failures into a *domain.ValidationError keyed by json field path.
func validateStruct(value any) error {
	err := validate.Struct(value)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return domain.NewValidationError("", err.Error())
	}

	out := &domain.ValidationError{}
	for _, fe := range fieldErrs {
		out.Add(fieldPath(fe.Namespace()), fieldMessage(fe))
	}
	return out
}

func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "is invalid"
	}
}

func requireText(verr *domain.ValidationError, field, value string) *domain.ValidationError {
	if strings.TrimSpace(value) != "" {
		return verr
	}
	if verr == nil {
		return domain.NewValidationError(field, "is required")
	}
	verr.Add(field, "is required")
	return verr
}

// asError avoids returning a typed nil inside the error interface.
func asError(verr *domain.ValidationError) error {
	if verr == nil {
		return nil
	}
	return verr
}

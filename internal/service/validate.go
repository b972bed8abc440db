package service

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/snipshare/internal/apperror"
)

// usernamePattern allows letters, digits and @ . + - _ (the usual account-name set).
var usernamePattern = regexp.MustCompile(`^[\w.@+-]+$`)

// The validator caches struct metadata, so one instance is shared.
var (
	validateInstance *validator.Validate
	validateOnce     sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())

		// Report fields by their JSON names so clients can map errors
		// straight back onto the request body.
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})

		v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
			return usernamePattern.MatchString(fl.Field().String())
		})

		validateInstance = v
	})
	return validateInstance
}

// validateStruct runs the struct tags and converts any failures into a
// field-keyed apperror. extra holds checks the tags cannot express (a
// taken username, an unknown language); it may be nil.
func validateStruct(s any, extra map[string]string) error {
	fields := make(map[string]string, len(extra))
	for k, v := range extra {
		fields[k] = v
	}

	if err := getValidator().Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validating input: %w", err)
		}
		for _, fe := range verrs {
			if _, seen := fields[fe.Field()]; !seen {
				fields[fe.Field()] = fieldMessage(fe)
			}
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return apperror.ValidationFields(fields)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "max":
		return fmt.Sprintf("Ensure this field has no more than %s characters.", fe.Param())
	case "email":
		return "Enter a valid email address."
	case "username":
		return "Enter a valid username. This value may contain only letters, numbers, and @/./+/-/_ characters."
	default:
		return fmt.Sprintf("Invalid value (%s).", fe.Tag())
	}
}

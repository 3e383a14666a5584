package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/shivam349/codex1/internal/catalog"
)

// New returns a configured validator. Field names in errors use the json tag,
// and the "category" tag accepts the catalog categories.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("category", func(fl validatorv10.FieldLevel) bool {
		return catalog.Category(fl.Field().String()).Valid()
	})

	return v
}

// Message turns the first validation failure into a client-facing sentence.
func Message(err error) string {
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return "Invalid request body"
	}
	fe := ve[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain at least %s item(s)", field, fe.Param())
		}
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must not be less than %s", field, fe.Param())
	case "lte", "max":
		return fmt.Sprintf("%s must not be greater than %s", field, fe.Param())
	case "category":
		names := make([]string, len(catalog.Categories))
		for i, c := range catalog.Categories {
			names[i] = string(c)
		}
		return fmt.Sprintf("%s must be one of %s", field, strings.Join(names, ", "))
	}
	return fmt.Sprintf("%s is invalid", field)
}

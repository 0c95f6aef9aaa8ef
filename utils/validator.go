package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-z_]+)\s*\}\}`)

func newValidator() *validator.Validate {
	v := validator.New()

	// "template" accepts text whose placeholders are all known merge tags
	v.RegisterValidation("template", func(fl validator.FieldLevel) bool {
		for _, match := range placeholderPattern.FindAllStringSubmatch(fl.Field().String(), -1) {
			if _, ok := templateFields[match[1]]; !ok {
				return false
			}
		}
		return true
	})

	return v
}

// ValidateStruct checks request payloads against their struct tags and
// returns a single human-readable error listing every failed field.
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var problems []string
	for _, fieldErr := range err.(validator.ValidationErrors) {
		field := strings.ToLower(fieldErr.Field())

		switch fieldErr.Tag() {
		case "required":
			problems = append(problems, field+" is required")
		case "min":
			problems = append(problems, field+" must be at least "+fieldErr.Param())
		case "max":
			problems = append(problems, field+" must be at most "+fieldErr.Param())
		case "email":
			problems = append(problems, field+" must be a valid email")
		case "template":
			problems = append(problems, field+" contains an unknown merge tag")
		default:
			problems = append(problems, field+" is invalid")
		}
	}

	return fmt.Errorf(strings.Join(problems, ", "))
}

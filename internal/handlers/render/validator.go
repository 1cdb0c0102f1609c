package render

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Allowed characters of a login identifier, username or email alike
var loginIDPattern = regexp.MustCompile(`^[a-zA-Z0-9.@_-]+$`)

func configureValidator(validate *validator.Validate) {
	_ = validate.RegisterValidation("login_id", validateLoginID)
	validate.RegisterTagNameFunc(useJSONTagNames)
}

func useJSONTagNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	// skip if tag key says it should be ignored
	if name == "-" {
		return ""
	}
	return name
}

func validateLoginID(fl validator.FieldLevel) bool {
	return loginIDPattern.MatchString(fl.Field().String())
}

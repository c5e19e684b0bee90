package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/seqlog/internal/models"
)

// newBatchValidator returns a validator that reports fields by their JSON
// names and knows the "sessionid" tag.
func newBatchValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Registration only fails for an empty tag or nil func
	_ = validate.RegisterValidation("sessionid", func(fl validator.FieldLevel) bool {
		return models.ValidSessionID(fl.Field().String())
	})

	return validate
}

// validationMessage turns the first validation failure into a client message,
// e.g. "logs[2].sessionId failed 'required' validation".
func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "Invalid log batch"
	}

	fe := fieldErrs[0]
	field := fe.Namespace()
	// Drop the root struct name
	if idx := strings.Index(field, "."); idx >= 0 {
		field = field[idx+1:]
	}
	return fmt.Sprintf("%s failed '%s' validation", field, fe.Tag())
}

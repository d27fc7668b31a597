package serrors

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/iota-uz/go-i18n/v2/i18n"
)

// ValidationErrors maps a field name to its validation failure.
type ValidationErrors map[string]*BaseError

// ProcessValidatorErrors converts validator failures into coded errors.
// fieldLocaleKey resolves the translation key of a field label; an empty
// result leaves the struct field name in place.
func ProcessValidatorErrors(errs validator.ValidationErrors, fieldLocaleKey func(string) string) ValidationErrors {
	out := make(ValidationErrors, len(errs))
	for _, fe := range errs {
		field := fe.Field()
		label := field
		if fieldLocaleKey != nil {
			if key := fieldLocaleKey(field); key != "" {
				label = key
			}
		}
		out[field] = ValidationError(field, label, fe.Tag(), fe.Param())
	}
	return out
}

// ValidationError builds the coded error for one failed rule.
func ValidationError(field, label, tag, param string) *BaseError {
	message := fmt.Sprintf("%s failed %s validation", field, tag)
	switch tag {
	case "required":
		message = fmt.Sprintf("%s is required", field)
	case "max":
		message = fmt.Sprintf("%s must be at most %s characters", field, param)
	}
	return NewError(
		"VALIDATION_"+tag,
		message,
		"Validations."+tag,
	).WithTemplateData(map[string]string{
		"Field":    label,
		"FieldKey": label,
		"Param":    param,
	})
}

func LocalizeValidationErrors(errs ValidationErrors, l *i18n.Localizer) map[string]string {
	out := make(map[string]string, len(errs))
	for field, err := range errs {
		out[field] = err.Localize(l)
	}
	return out
}

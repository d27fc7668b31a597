package serrors

import (
	"fmt"

	"github.com/iota-uz/go-i18n/v2/i18n"
)

// BaseError is an error carrying a stable code and a locale key so that
// callers can render a translated message without string matching.
type BaseError struct {
	Code         string            `json:"code"`
	Message      string            `json:"message"`
	LocaleKey    string            `json:"locale_key,omitempty"`
	TemplateData map[string]string `json:"-"`
}

func NewError(code, message, localeKey string) *BaseError {
	return &BaseError{
		Code:      code,
		Message:   message,
		LocaleKey: localeKey,
	}
}

func (e *BaseError) Error() string {
	return e.Message
}

// Is matches by code so that errors copied with WithTemplateData still
// compare equal to the package sentinel they were built from.
func (e *BaseError) Is(target error) bool {
	t, ok := target.(*BaseError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func (e *BaseError) WithTemplateData(data map[string]string) *BaseError {
	cp := *e
	cp.TemplateData = data
	return &cp
}

// Localize renders the error using the given localizer, falling back to the
// raw message when no translation exists.
func (e *BaseError) Localize(l *i18n.Localizer) string {
	if l == nil || e.LocaleKey == "" {
		return e.Message
	}
	msg, err := l.Localize(&i18n.LocalizeConfig{
		MessageID:    e.LocaleKey,
		TemplateData: e.TemplateData,
		DefaultMessage: &i18n.Message{
			ID:    e.LocaleKey,
			Other: e.Message,
		},
	})
	if err != nil || msg == "" {
		return e.Message
	}
	return msg
}

func NewFieldRequiredError(field, localeKey string) *BaseError {
	return NewError(
		"FIELD_REQUIRED",
		fmt.Sprintf("%s is required", field),
		"Validations.required",
	).WithTemplateData(map[string]string{
		"Field":    field,
		"FieldKey": localeKey,
	})
}

package intl

import (
	"context"

	"github.com/iota-uz/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

type SupportedLanguage struct {
	Code        string
	VerboseName string
	Tag         language.Tag
}

type ctxKey int

const (
	localizerKey ctxKey = iota
	localeKey
)

var (
	allSupportedLanguages = []SupportedLanguage{
		{
			Code:        "en",
			VerboseName: "English",
			Tag:         language.English,
		},
		{
			Code:        "ko",
			VerboseName: "한국어",
			Tag:         language.Korean,
		},
	}

	SupportedLanguages = allSupportedLanguages
)

// GetSupportedLanguages filters the known languages by whitelist. An empty
// whitelist returns all of them.
func GetSupportedLanguages(whitelist []string) []SupportedLanguage {
	if len(whitelist) == 0 {
		return allSupportedLanguages
	}
	allowed := make(map[string]bool, len(whitelist))
	for _, code := range whitelist {
		allowed[code] = true
	}
	filtered := make([]SupportedLanguage, 0, len(whitelist))
	for _, lang := range allSupportedLanguages {
		if allowed[lang.Code] {
			filtered = append(filtered, lang)
		}
	}
	return filtered
}

// Tags returns the language tags of the given codes in declaration order.
func Tags(codes []string) []language.Tag {
	supported := GetSupportedLanguages(codes)
	tags := make([]language.Tag, len(supported))
	for i, lang := range supported {
		tags[i] = lang.Tag
	}
	return tags
}

func WithLocalizer(ctx context.Context, l *i18n.Localizer) context.Context {
	return context.WithValue(ctx, localizerKey, l)
}

func UseLocalizer(ctx context.Context) (*i18n.Localizer, bool) {
	l, ok := ctx.Value(localizerKey).(*i18n.Localizer)
	return l, ok && l != nil
}

func WithLocale(ctx context.Context, tag language.Tag) context.Context {
	return context.WithValue(ctx, localeKey, tag)
}

func UseLocale(ctx context.Context) language.Tag {
	if tag, ok := ctx.Value(localeKey).(language.Tag); ok {
		return tag
	}
	return language.English
}

// T localizes messageID with the localizer stored in ctx. Missing
// localizers or messages yield fallback.
func T(ctx context.Context, messageID, fallback string, data map[string]any) string {
	l, ok := UseLocalizer(ctx)
	if !ok {
		return fallback
	}
	msg, err := l.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
		DefaultMessage: &i18n.Message{
			ID:    messageID,
			Other: fallback,
		},
	})
	if err != nil || msg == "" {
		return fallback
	}
	return msg
}

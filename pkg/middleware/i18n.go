package middleware

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/iota-uz/go-i18n/v2/i18n"
	"golang.org/x/text/language"

	"github.com/iota-uz/reportgrid/pkg/intl"
)

// Application interface for accessing app config needed by localizer
type Application interface {
	Bundle() *i18n.Bundle
	GetSupportedLanguages() []string
}

func matchSupported(defaultLocale language.Tag, supported []language.Tag, candidates []language.Tag) language.Tag {
	if len(supported) == 0 {
		return defaultLocale
	}
	if len(candidates) == 0 {
		candidates = []language.Tag{defaultLocale}
	}
	matcher := language.NewMatcher(supported)
	_, idx, _ := matcher.Match(candidates...)
	return supported[idx]
}

// useLocale prefers an explicit ?lang= override, then Accept-Language.
func useLocale(r *http.Request, defaultLocale language.Tag, supported []language.Tag) language.Tag {
	if lang := r.URL.Query().Get("lang"); lang != "" {
		if tag, err := language.Parse(lang); err == nil {
			return matchSupported(defaultLocale, supported, []language.Tag{tag})
		}
	}
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return matchSupported(defaultLocale, supported, nil)
	}
	return matchSupported(defaultLocale, supported, tags)
}

func ProvideLocalizer(app Application) mux.MiddlewareFunc {
	bundle := app.Bundle()
	supportedLanguages := intl.Tags(app.GetSupportedLanguages())
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				locale := useLocale(r, language.English, supportedLanguages)
				ctx := intl.WithLocalizer(
					r.Context(),
					i18n.NewLocalizer(bundle, locale.String()),
				)
				ctx = intl.WithLocale(ctx, locale)
				next.ServeHTTP(w, r.WithContext(ctx))
			},
		)
	}
}

package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/iota-uz/reportgrid/pkg/constants"
)

func contextWithStart(ctx context.Context, start time.Time) context.Context {
	return context.WithValue(ctx, constants.RequestStart, start)
}

// Provide stores value under key in every request context.
func Provide(key constants.ContextKey, value any) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), key, value)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

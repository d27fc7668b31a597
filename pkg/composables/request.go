package composables

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/form"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/reportgrid/pkg/constants"
	"github.com/iota-uz/reportgrid/pkg/logging"
)

// Decoder maps url.Values onto structs using `form` tags. Map fields use the
// `name[key]=value` notation.
var Decoder = form.NewDecoder()

// WithLogger returns a new context carrying the request logger.
func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, constants.LoggerKey, logger)
}

// UseLogger returns the logger from the context.
// Contexts created outside a request get a no-op logger.
func UseLogger(ctx context.Context) *logrus.Entry {
	if logger, ok := TryUseLogger(ctx); ok {
		return logger
	}
	return logging.Nop()
}

func TryUseLogger(ctx context.Context) (*logrus.Entry, bool) {
	logger, ok := ctx.Value(constants.LoggerKey).(*logrus.Entry)
	return logger, ok && logger != nil
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, constants.RequestIDKey, id)
}

// UseRequestID returns the id assigned to the current request, or "".
func UseRequestID(ctx context.Context) string {
	id, _ := ctx.Value(constants.RequestIDKey).(string)
	return id
}

// UseRequestStart returns when the request entered the middleware stack.
func UseRequestStart(ctx context.Context) (time.Time, bool) {
	start, ok := ctx.Value(constants.RequestStart).(time.Time)
	return start, ok
}

func UseQuery[T any](v T, r *http.Request) (T, error) {
	return v, Decoder.Decode(v, r.URL.Query())
}

func UseForm[T any](v T, r *http.Request) (T, error) {
	if err := r.ParseForm(); err != nil {
		return v, err
	}
	return v, Decoder.Decode(v, r.Form)
}

// GetLastQueryParam returns the last occurrence of a query parameter.
//
// Example:
//
//	URL: /rows?page=1&page=3
//	GetLastQueryParam(r, "page") returns "3"
func GetLastQueryParam(r *http.Request, key string) string {
	values := r.URL.Query()[key]
	if len(values) > 0 {
		return values[len(values)-1]
	}
	return ""
}

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/iota-uz/reportgrid/pkg/composables"
	"github.com/iota-uz/reportgrid/pkg/intl"
	"github.com/iota-uz/reportgrid/pkg/serrors"
)

// ErrorEnvelope standardizes JSON error responses for API namespaces.
type ErrorEnvelope struct {
	Message string            `json:"message"`
	Code    string            `json:"code"`
	Meta    map[string]string `json:"meta,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	if w == nil {
		return nil
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(payload)
}

func WriteError(w http.ResponseWriter, status int, code, message string, meta map[string]string) error {
	return WriteJSON(w, status, &ErrorEnvelope{
		Code:    code,
		Message: message,
		Meta:    meta,
	})
}

// WriteBaseError localizes err with the request localizer and attaches the
// request id to the envelope meta.
func WriteBaseError(ctx context.Context, w http.ResponseWriter, status int, err *serrors.BaseError, meta map[string]string) error {
	message := err.Message
	if l, ok := intl.UseLocalizer(ctx); ok {
		message = err.Localize(l)
	}
	return WriteError(w, status, err.Code, message, withRequestID(ctx, meta))
}

func withRequestID(ctx context.Context, meta map[string]string) map[string]string {
	id := composables.UseRequestID(ctx)
	if id == "" {
		return meta
	}
	out := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out["request_id"] = id
	return out
}

package reportapi

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/iota-uz/reportgrid/pkg/serrors"
)

// ErrTransport is matched by every TransportError. Its message is the
// generic text shown when the real cause must not reach the user.
var ErrTransport = serrors.NewError(
	"REPORT_API_UNAVAILABLE",
	"Failed to load data. Please try again later.",
	"ReportAPI.Errors.Unavailable",
)

// TransportError covers network failures, non-2xx statuses and undecodable
// bodies.
type TransportError struct {
	Endpoint string
	Status   int
	Cause    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("reportapi: %s: status %d: %v", e.Endpoint, e.Status, e.Cause)
	}
	return fmt.Sprintf("reportapi: %s: %v", e.Endpoint, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// DeclaredError is returned when the envelope reports success=false.
type DeclaredError struct {
	Endpoint string
	Message  string
}

func (e *DeclaredError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("reportapi: %s: request failed", e.Endpoint)
	}
	return fmt.Sprintf("reportapi: %s: %s", e.Endpoint, e.Message)
}

// BusinessError is a technically successful response that carries errMsg.
type BusinessError struct {
	Endpoint string
	ErrMsg   string
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("reportapi: %s: %s", e.Endpoint, e.ErrMsg)
}

// Kind names the failure class for API responses and metrics.
func Kind(err error) string {
	var (
		be *BusinessError
		de *DeclaredError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &be):
		return "business"
	case errors.As(err, &de):
		return "declared"
	case errors.Is(err, ErrTransport):
		return "transport"
	}
	return "unexpected"
}

// UserMessage picks the text shown over an empty grid after a failed fetch.
// Business errors show errMsg verbatim; declared failures show the server
// message when present; everything else falls back to generic.
func UserMessage(err error, generic string) string {
	var (
		be *BusinessError
		de *DeclaredError
	)
	switch {
	case errors.As(err, &be):
		return be.ErrMsg
	case errors.As(err, &de) && de.Message != "":
		return de.Message
	}
	return generic
}

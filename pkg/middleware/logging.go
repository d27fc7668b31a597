package middleware

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/iota-uz/reportgrid/pkg/composables"
	"github.com/iota-uz/reportgrid/pkg/configuration"
	"github.com/iota-uz/reportgrid/pkg/httpapi"
)

type LoggerOptions struct {
	LogRequestBody  bool
	LogResponseBody bool
	MaxBodyLength   int

	// APIPrefixes select paths whose panics are answered with a JSON error
	// envelope instead of plain text.
	APIPrefixes []string
	Repanic     bool
}

func NewLoggerOptions(logRequestBody bool, logResponseBody bool, maxBodyLength int) LoggerOptions {
	return LoggerOptions{
		LogRequestBody:  logRequestBody,
		LogResponseBody: logResponseBody,
		MaxBodyLength:   maxBodyLength,
	}
}

func DefaultLoggerOptions() LoggerOptions {
	opts := NewLoggerOptions(true, false, 512)
	opts.APIPrefixes = []string{"/reports/api"}
	return opts
}

func (o LoggerOptions) isAPI(path string) bool {
	for _, p := range o.APIPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func (o LoggerOptions) truncate(s string) string {
	if o.MaxBodyLength > 0 && len(s) > o.MaxBodyLength {
		return s[:o.MaxBodyLength] + "..."
	}
	return s
}

type responseCaptureWriter struct {
	http.ResponseWriter
	statusCode    int
	statusWritten bool
	body          *bytes.Buffer
	capture       bool
}

func (w *responseCaptureWriter) WriteHeader(code int) {
	if !w.statusWritten {
		w.statusCode = code
		w.statusWritten = true
		w.ResponseWriter.WriteHeader(code)
	}
}

// Status returns the HTTP status code
func (w *responseCaptureWriter) Status() int {
	if w.statusCode == 0 {
		return http.StatusOK
	}
	return w.statusCode
}

func (w *responseCaptureWriter) Write(b []byte) (int, error) {
	if !w.statusWritten {
		w.WriteHeader(http.StatusOK)
	}
	if w.capture {
		w.body.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

func (w *responseCaptureWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack is required by the websocket upgrader.
func (w *responseCaptureWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
}

func wrapResponseWriter(w http.ResponseWriter, capture bool) *responseCaptureWriter {
	return &responseCaptureWriter{
		ResponseWriter: w,
		body:           &bytes.Buffer{},
		capture:        capture,
	}
}

func getRealIP(r *http.Request, conf *configuration.Configuration) string {
	if len(r.Header.Get(conf.RealIPHeader)) > 0 {
		return r.Header.Get(conf.RealIPHeader)
	}
	return r.RemoteAddr
}

func getRequestID(r *http.Request, conf *configuration.Configuration) string {
	if len(r.Header.Get(conf.RequestIDHeader)) > 0 {
		return r.Header.Get(conf.RequestIDHeader)
	}
	return uuid.New().String()
}

var tracer = otel.Tracer("reportgrid-middleware")

func TracedMiddleware(name string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			propagator := propagation.TraceContext{}
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			ctx, span := tracer.Start(
				ctx,
				"middleware."+name,
				trace.WithAttributes(
					attribute.String("middleware.name", name),
					attribute.String("http.method", r.Method),
					attribute.String("http.url", r.URL.String()),
				),
			)
			defer span.End()

			propagator.Inject(ctx, propagation.HeaderCarrier(r.Header))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func shouldLogBody(contentType string) bool {
	contentType = strings.ToLower(contentType)
	return strings.Contains(contentType, "application/json") ||
		strings.Contains(contentType, "application/x-www-form-urlencoded")
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// WithLogger puts a request-scoped logger and request id into the context,
// opens the request span, logs start and completion, and recovers panics.
func WithLogger(logger *logrus.Logger, opts LoggerOptions) mux.MiddlewareFunc {
	conf := configuration.Use()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				start := time.Now()
				requestID := getRequestID(r, conf)

				fieldsLogger := logger.WithFields(logrus.Fields{
					"request-id": requestID,
					"path":       r.URL.Path,
					"method":     r.Method,
				})

				fieldsLogger.WithFields(logrus.Fields{
					"host":       r.Host,
					"ip":         getRealIP(r, conf),
					"user-agent": r.UserAgent(),
				}).Debug("request started")

				reqContentType := r.Header.Get("Content-Type")
				if opts.LogRequestBody && isMutating(r.Method) && shouldLogBody(reqContentType) && r.Body != nil {
					bodyBuf := new(bytes.Buffer)
					if _, err := io.Copy(bodyBuf, r.Body); err != nil {
						fieldsLogger.WithError(err).Error("failed to read request-body")
						http.Error(w, "failed to read request-body", http.StatusInternalServerError)
						return
					}
					r.Body = io.NopCloser(bytes.NewReader(bodyBuf.Bytes()))
					fieldsLogger.WithField("request-body", opts.truncate(bodyBuf.String())).Debug("request-body captured")
				}

				propagator := propagation.TraceContext{}
				ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

				ctx, span := tracer.Start(
					ctx,
					"http.request",
					trace.WithAttributes(
						attribute.String("http.method", r.Method),
						attribute.String("http.route", r.URL.Path),
						attribute.String("http.request_id", requestID),
						attribute.String("net.peer.ip", getRealIP(r, conf)),
					),
				)
				defer span.End()

				if spanContext := span.SpanContext(); spanContext.HasTraceID() {
					traceID := spanContext.TraceID().String()
					w.Header().Set("X-Trace-Id", traceID)
					fieldsLogger = fieldsLogger.WithField("trace-id", traceID)
				}

				ctx = composables.WithLogger(ctx, fieldsLogger)
				ctx = composables.WithRequestID(ctx, requestID)
				ctx = contextWithStart(ctx, start)

				w.Header().Set(conf.RequestIDHeader, requestID)

				wrappedWriter := wrapResponseWriter(w, opts.LogResponseBody)

				defer func() {
					recovered := recover()
					if recovered == nil {
						return
					}
					fieldsLogger.WithFields(logrus.Fields{
						"panic":    recovered,
						"stack":    string(debug.Stack()),
						"duration": time.Since(start),
					}).Error("panic recovered in request handler")

					if !wrappedWriter.statusWritten {
						if opts.isAPI(r.URL.Path) {
							_ = httpapi.WriteError(wrappedWriter, http.StatusInternalServerError,
								"INTERNAL_SERVER_ERROR", "internal server error",
								map[string]string{"request_id": requestID, "path": r.URL.Path})
						} else {
							http.Error(wrappedWriter, "Internal Server Error", http.StatusInternalServerError)
						}
					}
					if opts.Repanic {
						panic(recovered)
					}
				}()

				next.ServeHTTP(wrappedWriter, r.WithContext(ctx))

				statusCode := wrappedWriter.Status()
				duration := time.Since(start)
				entry := fieldsLogger.WithFields(logrus.Fields{
					"duration":     duration,
					"status-code":  statusCode,
					"status-class": statusCode / 100,
				})
				if opts.LogResponseBody && shouldLogBody(wrappedWriter.Header().Get("Content-Type")) {
					body := wrappedWriter.body.Bytes()
					if json.Valid(body) {
						entry = entry.WithField("response-body", opts.truncate(string(body)))
					}
				}
				entry.Info("request completed")

				span.SetAttributes(
					attribute.Int64("http.request_duration_ms", duration.Milliseconds()),
					attribute.Int("http.status_code", statusCode),
				)
			},
		)
	}
}

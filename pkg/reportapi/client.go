// Package reportapi issues search requests against the remote report API and
// normalizes the {success, errMsg, data} envelope into grid rows.
package reportapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iota-uz/reportgrid/pkg/logging"
)

const tracerName = "github.com/iota-uz/reportgrid/pkg/reportapi"

type Options struct {
	BaseURL       string
	Authorization string
	Timeout       time.Duration
	// Debug is sent with every request under DebugParam.
	Debug      bool
	DebugParam string

	RequestIDHeader string
	HTTPClient      *http.Client
	Logger          *logrus.Entry
}

func (o *Options) setDefaults() {
	if o.Timeout == 0 {
		o.Timeout = 30 * time.Second
	}
	if o.DebugParam == "" {
		o.DebugParam = "debug"
	}
	if o.RequestIDHeader == "" {
		o.RequestIDHeader = "X-Request-ID"
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
}

type Client struct {
	baseURL *url.URL
	opts    Options
	tracer  trace.Tracer
}

func New(opts Options) (*Client, error) {
	opts.setDefaults()
	raw := strings.TrimSpace(opts.BaseURL)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("invalid report API url: %q", raw)
	}
	return &Client{
		baseURL: u,
		opts:    opts,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// envelope is the response shape shared by every report endpoint.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	ErrMsg  string          `json:"errMsg,omitempty"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) endpointURL(endpoint string) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(endpoint, "/")
	return u.String()
}

// call posts params to endpoint and returns the raw data element of a
// successful envelope.
func (c *Client) call(ctx context.Context, endpoint string, params Params) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, "reportapi.call", trace.WithAttributes(
		attribute.String("reportapi.endpoint", endpoint),
	))
	defer span.End()

	start := time.Now()
	data, err := c.doJSON(ctx, endpoint, params)
	kind := Kind(err)
	if kind == "" {
		kind = "ok"
	}
	requestsTotal.WithLabelValues(endpoint, kind).Inc()
	requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		c.opts.Logger.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"kind":     kind,
		}).WithError(err).Warn("reportapi: request failed")
		return nil, err
	}
	return data, nil
}

func (c *Client) doJSON(ctx context.Context, endpoint string, params Params) (json.RawMessage, error) {
	payload := params.Clone()
	payload[c.opts.DebugParam] = c.opts.Debug

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Cause: errors.Wrap(err, "json marshal request")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL(endpoint), bytes.NewReader(b))
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Cause: errors.Wrap(err, "http request")}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(c.opts.RequestIDHeader, uuid.NewString())
	if c.opts.Authorization != "" {
		req.Header.Set("Authorization", c.opts.Authorization)
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Cause: errors.Wrap(err, "http do")}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Status: resp.StatusCode, Cause: errors.Wrap(err, "http read")}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Cause:    errors.Errorf("body=%s", strings.TrimSpace(string(body))),
		}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &TransportError{Endpoint: endpoint, Status: resp.StatusCode, Cause: errors.Wrap(err, "json unmarshal response")}
	}
	if !env.Success {
		return nil, &DeclaredError{Endpoint: endpoint, Message: strings.TrimSpace(env.Message)}
	}
	if msg := strings.TrimSpace(env.ErrMsg); msg != "" {
		return nil, &BusinessError{Endpoint: endpoint, ErrMsg: msg}
	}
	return env.Data, nil
}

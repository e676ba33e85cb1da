package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/smallbiznis/ocpilink/internal/config"
	"github.com/smallbiznis/ocpilink/internal/observability/logger"
	"github.com/smallbiznis/ocpilink/internal/observability/tracing"
	"github.com/smallbiznis/ocpilink/internal/ocpi"
	"github.com/smallbiznis/ocpilink/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	DefaultTimeout  = 10 * time.Second
	maxResponseSize = 1 << 20
)

var Module = fx.Module("ocpi.transport",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

// Client performs authenticated OCPI calls against remote parties. One Client
// shares a single connection pool; credentials and timeout are per request.
type Client struct {
	http    *http.Client
	timeout time.Duration
	log     *zap.Logger
	tracer  trace.Tracer
}

func New(p Params) *Client {
	return NewClient(nil, p.Cfg.OutboundTimeout, p.Log)
}

func NewClient(httpClient *http.Client, timeout time.Duration, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		http:    httpClient,
		timeout: timeout,
		log:     log.Named("ocpi.transport"),
		tracer:  tracing.Tracer("transport"),
	}
}

// Request describes one outbound call. Token is sent as the OCPI
// Authorization header and is never logged.
type Request struct {
	Op     string
	Method string
	URL    string
	Token  string
	Body   any
}

// Do executes req and decodes the envelope's data into out (may be nil).
// Failures are returned as *ocpi.Error.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "ocpi."+req.Op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("http.method", req.Method))

	err := c.do(ctx, req, out)
	if err != nil {
		span.SetStatus(codes.Error, ocpi.KindName(err))
	}
	return err
}

func (c *Client) do(ctx context.Context, req Request, out any) error {
	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", req.Op, err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return &ocpi.Error{Op: req.Op, Kind: ocpi.ErrNoMatchingEndpoints, Err: err}
	}

	ctx, requestID := correlation.Stamp(ctx, httpReq.Header)
	httpReq.Header.Set("Authorization", ocpi.AuthorizationHeader(req.Token))
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	tracing.InjectHeaders(ctx, httpReq.Header)

	log := logger.WithContext(ctx, c.log).With(
		zap.String("op", req.Op),
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.String("outbound_request_id", requestID),
	)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		log.Warn("ocpi call failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return &ocpi.Error{Op: req.Op, Kind: ocpi.ErrNoMatchingEndpoints, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		log.Warn("ocpi response read failed", zap.Error(err))
		return &ocpi.Error{Op: req.Op, Kind: ocpi.ErrNoMatchingEndpoints, Retryable: true, StatusCode: resp.StatusCode, Err: err}
	}

	log.Debug("ocpi call completed",
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if err := classifyStatus(req.Op, resp.StatusCode); err != nil {
		return err
	}
	return decodeEnvelope(req.Op, resp.StatusCode, raw, out)
}

func classifyStatus(op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &ocpi.Error{Op: op, Kind: ocpi.ErrUnknownToken, StatusCode: status}
	case status == http.StatusNotFound:
		return &ocpi.Error{Op: op, Kind: ocpi.ErrUnknownLocation, StatusCode: status}
	case status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return &ocpi.Error{Op: op, Kind: ocpi.ErrUnableToUseClient, Retryable: true, StatusCode: status}
	default:
		return &ocpi.Error{Op: op, Kind: ocpi.ErrInvalidParameters, StatusCode: status}
	}
}

var errMalformedEnvelope = errors.New("malformed response envelope")

// inboundEnvelope leaves timestamp undecoded; peers may send DateTime
// values without a zone.
type inboundEnvelope struct {
	Data          json.RawMessage `json:"data"`
	StatusCode    int             `json:"status_code"`
	StatusMessage string          `json:"status_message"`
}

func decodeEnvelope(op string, status int, raw []byte, out any) error {
	var envelope inboundEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return &ocpi.Error{Op: op, Kind: ocpi.ErrNoMatchingEndpoints, StatusCode: status, Err: errMalformedEnvelope}
	}

	// A missing status_code is tolerated from peers that only rely on HTTP status.
	if envelope.StatusCode != 0 && (envelope.StatusCode < ocpi.StatusSuccess || envelope.StatusCode >= ocpi.StatusClientError) {
		kind, retryable := ocpi.KindForStatusCode(envelope.StatusCode)
		return &ocpi.Error{
			Op:         op,
			Kind:       kind,
			Retryable:  retryable,
			StatusCode: envelope.StatusCode,
			Err:        fmt.Errorf("remote status: %s", envelope.StatusMessage),
		}
	}

	if out == nil {
		return nil
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return &ocpi.Error{Op: op, Kind: ocpi.ErrNoMatchingEndpoints, StatusCode: status, Err: errMalformedEnvelope}
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return &ocpi.Error{Op: op, Kind: ocpi.ErrNoMatchingEndpoints, StatusCode: status, Err: errMalformedEnvelope}
	}
	return nil
}

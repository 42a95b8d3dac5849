package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"resty.dev/v3"

	"github.com/zatekoja/diagnosticpricesearch/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/diagnosticpricesearch/pkg/errors"
)

// ErrorClass is the transport-level taxonomy of a failed request
type ErrorClass string

const (
	ClassNone         ErrorClass = ""
	ClassServer       ErrorClass = "server"
	ClassNetwork      ErrorClass = "network"
	ClassClientConfig ErrorClass = "client_config"
	ClassCancelled    ErrorClass = "cancelled"
)

const defaultTimeout = 30 * time.Second

// Options tunes a Client. The zero value is usable.
type Options struct {
	// Name labels logs and metrics, e.g. "legacy" or "token_auth"
	Name    string
	Timeout time.Duration
	Headers map[string]string
	Metrics *observability.Metrics
	// Limiter throttles outbound requests; nil means unlimited
	Limiter *rate.Limiter
}

// Client is an HTTP client bound to one upstream base URL. It carries no auth
// and no caching: only transport, a fixed timeout and failure classification.
type Client struct {
	name    string
	rc      *resty.Client
	metrics *observability.Metrics
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// New creates a client for baseURL
func New(baseURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	name := opts.Name
	if name == "" {
		name = "upstream"
	}

	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	for k, v := range opts.Headers {
		rc.SetHeader(k, v)
	}

	return &Client{
		name:    name,
		rc:      rc,
		metrics: opts.Metrics,
		limiter: opts.Limiter,
		logger:  observability.ComponentLogger("apiclient").With().Str("backend", name).Logger(),
	}
}

// Name returns the backend label
func (c *Client) Name() string {
	return c.name
}

// Close releases idle connections
func (c *Client) Close() error {
	return c.rc.Close()
}

// Do executes one request. configure may add query parameters, headers or a body.
//
// A response with any status is returned with a nil error; non-2xx statuses are
// classified and logged but left for the caller to interpret. Transport failures
// are returned as *errors.AppError wrapping the original error.
func (c *Client) Do(ctx context.Context, method, path string, configure func(*resty.Request)) (*resty.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.fail(ctx, nil, err, 0)
		}
	}

	req := c.rc.R().SetContext(ctx)
	if configure != nil {
		configure(req)
	}

	start := time.Now()
	resp, err := req.Execute(method, path)
	elapsed := time.Since(start)
	if err != nil {
		return nil, c.fail(ctx, resp, err, elapsed)
	}

	class := ClassNone
	if !resp.IsSuccess() {
		class = ClassServer
		c.logger.Warn().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode()).
			Dur("elapsed", elapsed).
			Msg("upstream returned non-success status")
	}
	observability.RecordUpstreamMetric(ctx, c.metrics, c.name, string(class), elapsed)
	return resp, nil
}

func (c *Client) fail(ctx context.Context, resp *resty.Response, err error, elapsed time.Duration) error {
	class := Classify(ctx, resp, err)
	observability.RecordUpstreamMetric(ctx, c.metrics, c.name, string(class), elapsed)

	switch class {
	case ClassCancelled:
		c.logger.Debug().Err(err).Msg("upstream request aborted")
		return apperrors.NewCancelledError(err)
	case ClassClientConfig:
		c.logger.Error().Err(err).Msg("upstream request could not be built")
		return apperrors.NewClientConfigError(fmt.Sprintf("%s request invalid", c.name), err)
	case ClassServer:
		c.logger.Warn().Err(err).Int("status", resp.StatusCode()).Msg("upstream request failed")
		return apperrors.NewServerError(fmt.Sprintf("%s returned status %d", c.name, resp.StatusCode()), resp.StatusCode())
	default:
		c.logger.Warn().Err(err).Dur("elapsed", elapsed).Msg("upstream unreachable")
		return apperrors.NewNetworkError(fmt.Sprintf("%s unreachable", c.name), err)
	}
}

// Classify maps a request outcome onto the transport taxonomy
func Classify(ctx context.Context, resp *resty.Response, err error) ErrorClass {
	if err == nil {
		if resp != nil && !resp.IsSuccess() {
			return ClassServer
		}
		return ClassNone
	}
	if errors.Is(err, context.Canceled) || (ctx != nil && errors.Is(ctx.Err(), context.Canceled)) {
		return ClassCancelled
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Op == "parse" {
		return ClassClientConfig
	}
	var parseErr *url.EscapeError
	if errors.As(err, &parseErr) {
		return ClassClientConfig
	}
	if resp != nil && resp.RawResponse != nil && !resp.IsSuccess() {
		return ClassServer
	}
	return ClassNetwork
}

// StatusError converts a non-2xx response into a server error
func StatusError(name string, resp *resty.Response) error {
	msg := strings.TrimSpace(resp.String())
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = resp.Status()
	}
	return apperrors.NewServerError(fmt.Sprintf("%s returned status %d: %s", name, resp.StatusCode(), msg), resp.StatusCode())
}

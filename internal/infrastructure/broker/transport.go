package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/vitos/equity_trade_bot/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultRetryAfter = time.Second

type TransportConfig struct {
	BaseURL     string
	MinInterval time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	Timeout     time.Duration
}

// Request describes one API call relative to the base URL.
type Request struct {
	Method string
	Path   string
	Query  map[string]string
	Body   interface{}
}

// Transport issues authenticated Upstox API calls. Calls are spaced by a
// one-token rate limiter; network failures and 5xx responses are retried
// with exponential backoff, 429 responses wait for Retry-After, and other
// 4xx responses fail immediately.
type Transport struct {
	client      *resty.Client
	tokens      domain.TokenSource
	limiter     *rate.Limiter
	maxAttempts int
	baseDelay   time.Duration
	logger      *zap.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewTransport(cfg TransportConfig, tokens domain.TokenSource, logger *zap.Logger) *Transport {
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("Accept", "application/json")
	client.SetHeader("Api-Version", "2.0")

	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	return &Transport{
		client:      client,
		tokens:      tokens,
		limiter:     rate.NewLimiter(limit, 1),
		maxAttempts: attempts,
		baseDelay:   cfg.BaseDelay,
		logger:      logger,
		sleep:       sleepCtx,
	}
}

// Do runs req and returns the raw response body. An empty body is
// returned as "{}".
func (t *Transport) Do(ctx context.Context, req Request) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < t.maxAttempts; attempt++ {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		token, err := t.tokens.AccessToken(ctx)
		if err != nil {
			return nil, err
		}

		r := t.client.R().
			SetContext(ctx).
			SetAuthToken(token)
		if len(req.Query) > 0 {
			r.SetQueryParams(req.Query)
		}
		if req.Body != nil {
			r.SetHeader("Content-Type", "application/json").SetBody(req.Body)
		}

		start := time.Now()
		resp, err := r.Execute(req.Method, req.Path)
		requestDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())

		if err != nil {
			requestsTotal.WithLabelValues(req.Method, statusClass(0)).Inc()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = &NetworkError{Method: req.Method, Path: req.Path, Timeout: isTimeout(err), Attempts: attempt + 1, Err: err}
			if err := t.backoff(ctx, attempt, "network", lastErr); err != nil {
				return nil, err
			}
			continue
		}

		status := resp.StatusCode()
		requestsTotal.WithLabelValues(req.Method, statusClass(status)).Inc()

		switch {
		case status == http.StatusTooManyRequests:
			wait := parseRetryAfter(resp.Header().Get("Retry-After"))
			lastErr = &RateLimitError{Method: req.Method, Path: req.Path, RetryAfter: wait, Attempts: attempt + 1, Body: resp.Body()}
			if attempt+1 >= t.maxAttempts {
				continue
			}
			retriesTotal.WithLabelValues("rate_limit").Inc()
			t.logger.Warn("Rate limited, cooling down",
				zap.String("path", req.Path),
				zap.Duration("retry_after", wait),
				zap.Int("attempt", attempt+1),
			)
			if err := t.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue

		case status >= 500:
			lastErr = &ServerError{Method: req.Method, Path: req.Path, StatusCode: status, Body: resp.Body(), Attempts: attempt + 1}
			if err := t.backoff(ctx, attempt, "server", lastErr); err != nil {
				return nil, err
			}
			continue

		case status >= 400:
			return nil, &ClientError{Method: req.Method, Path: req.Path, StatusCode: status, Body: resp.Body()}
		}

		body := resp.Body()
		if len(bytes.TrimSpace(body)) == 0 {
			return []byte("{}"), nil
		}
		return body, nil
	}

	return nil, lastErr
}

// DoJSON runs req and decodes the "data" member of a success envelope into
// out. An envelope with status "error" yields an *APIError.
func (t *Transport) DoJSON(ctx context.Context, req Request, out interface{}) error {
	body, err := t.Do(ctx, req)
	if err != nil {
		return err
	}
	return decodeEnvelope(body, out)
}

func (t *Transport) backoff(ctx context.Context, attempt int, reason string, cause error) error {
	if attempt+1 >= t.maxAttempts {
		return nil
	}
	delay := t.baseDelay * time.Duration(1<<attempt)
	retriesTotal.WithLabelValues(reason).Inc()
	t.logger.Warn("Request failed, retrying",
		zap.Error(cause),
		zap.Int("attempt", attempt+1),
		zap.Duration("backoff", delay),
	)
	return t.sleep(ctx, delay)
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		ErrorCode  string `json:"errorCode"`
		ErrorCode2 string `json:"error_code"`
		Message    string `json:"message"`
	} `json:"errors"`
}

func decodeEnvelope(body []byte, out interface{}) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return err
	}
	if env.Status == "error" {
		apiErr := &APIError{Body: body}
		if len(env.Errors) > 0 {
			apiErr.Code = env.Errors[0].ErrorCode
			if apiErr.Code == "" {
				apiErr.Code = env.Errors[0].ErrorCode2
			}
			apiErr.Message = env.Errors[0].Message
		}
		return apiErr
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
		return 0
	}
	return defaultRetryAfter
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

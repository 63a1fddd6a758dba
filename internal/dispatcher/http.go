package dispatcher

import (
	"bytes"
	"context"
	"curator/pkg/backoff"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPDispatcher performs outbound calls over net/http. Transient failures
// (timeouts, connection errors, 429 and 5xx responses) are retried with
// exponential backoff; everything else fails on the first attempt.
type HTTPDispatcher struct {
	client  *http.Client
	config  Config
	backoff backoff.Config
	logger  *slog.Logger
}

// NewHTTP creates an HTTP dispatcher. The per-attempt timeout is enforced by
// the client, so a slow attempt counts as one transient failure.
func NewHTTP(cfg Config) *HTTPDispatcher {
	cfg = cfg.withDefaults()
	return &HTTPDispatcher{
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		config: cfg,
		backoff: backoff.Config{
			Initial: cfg.BaseDelay,
			Max:     cfg.MaxBackoff,
			Factor:  cfg.BackoffFactor,
			Jitter:  cfg.BackoffJitter,
		},
		logger: slog.With("component", "dispatcher"),
	}
}

// Dispatch performs req, retrying transient failures up to MaxRetries times.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, req *Request) Outcome {
	method, ok := NormalizeMethod(req.Method)
	if !ok {
		return Fail(KindValidation, fmt.Sprintf("unsupported method %q", req.Method))
	}

	var last Outcome
	for attempt := range d.config.MaxRetries + 1 {
		if attempt > 0 {
			delay := backoff.Exponential(attempt, &d.backoff)
			d.logger.Debug("Retrying request", "url", redactQuery(req.URL), "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				last.Failure = &Failure{Kind: KindCancelled, Message: ctx.Err().Error()}
				return last
			case <-time.After(delay):
			}
		}

		outcome, transient := d.attempt(ctx, method, req)
		outcome.Attempts = attempt + 1
		if outcome.OK() || !transient {
			return outcome
		}
		last = outcome
	}
	return last
}

// attempt performs a single HTTP round trip and reports whether a failure
// is worth retrying.
func (d *HTTPDispatcher) attempt(ctx context.Context, method string, req *Request) (Outcome, bool) {
	httpReq, err := buildRequest(ctx, method, req)
	if err != nil {
		return Fail(KindValidation, err.Error()), false
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", d.config.UserAgent)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return classifyError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.config.MaxResponseBytes+1))
	if err != nil {
		return classifyError(ctx, err)
	}
	if int64(len(body)) > d.config.MaxResponseBytes {
		return Fail(KindInternal, fmt.Sprintf("response exceeds %d bytes", d.config.MaxResponseBytes)), false
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Success(&Response{
			StatusCode: resp.StatusCode,
			Header:     flattenHeader(resp.Header),
			Body:       body,
		}), false
	}

	message := fmt.Sprintf("HTTP %d", resp.StatusCode)
	if snippet := strings.TrimSpace(string(body)); snippet != "" {
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		message += ": " + snippet
	}

	// 429 and 5xx are transient and surface as network failures once retries run out
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Outcome{Failure: &Failure{Kind: KindNetwork, Message: message, StatusCode: resp.StatusCode}}, true
	}
	return Outcome{Failure: &Failure{Kind: KindHTTPStatus, Message: message, StatusCode: resp.StatusCode}}, false
}

func classifyError(ctx context.Context, err error) (Outcome, bool) {
	if ctx.Err() != nil {
		return Fail(KindCancelled, ctx.Err().Error()), false
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return Fail(KindTimeout, err.Error()), true
	}
	return Fail(KindNetwork, err.Error()), true
}

// buildRequest encodes the payload according to the method: mappings go to
// the query string for GET/DELETE; bodies are JSON unless the caller asked
// for a form or passed a raw string.
func buildRequest(ctx context.Context, method string, req *Request) (*http.Request, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("malformed url: %w", err)
	}

	contentType := ""
	for k, v := range req.Headers {
		if strings.EqualFold(k, "Content-Type") {
			contentType = v
		}
	}

	var body io.Reader
	switch method {
	case http.MethodGet, http.MethodDelete:
		if req.Payload != nil {
			params, ok := req.Payload.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%s payload must be an object of query parameters", method)
			}
			q := u.Query()
			addValues(q, params)
			u.RawQuery = q.Encode()
		}
	default:
		switch p := req.Payload.(type) {
		case nil:
		case string:
			body = strings.NewReader(p)
		case map[string]any:
			if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
				form := url.Values{}
				addValues(form, p)
				body = strings.NewReader(form.Encode())
			} else {
				b, err := json.Marshal(p)
				if err != nil {
					return nil, fmt.Errorf("encode payload: %w", err)
				}
				body = bytes.NewReader(b)
				if contentType == "" {
					contentType = "application/json"
				}
			}
		default:
			b, err := json.Marshal(p)
			if err != nil {
				return nil, fmt.Errorf("encode payload: %w", err)
			}
			body = bytes.NewReader(b)
			if contentType == "" {
				contentType = "application/json"
			}
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	return httpReq, nil
}

func addValues(dst url.Values, params map[string]any) {
	for k, v := range params {
		if items, ok := v.([]any); ok {
			for _, item := range items {
				dst.Add(k, formatValue(item))
			}
			continue
		}
		dst.Add(k, formatValue(v))
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case json.Number:
		return val.String()
	case float64:
		// keep integral floats free of exponents
		if val == math.Trunc(val) && math.Abs(val) < 1<<63 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// redactQuery strips the query string, which often carries API tokens.
func redactQuery(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

var _ Dispatcher = (*HTTPDispatcher)(nil)

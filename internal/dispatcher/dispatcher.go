// Package dispatcher performs single outbound HTTP calls with bounded retry
// and classifies their outcome.
package dispatcher

import (
	"context"
	"net/http"
	"slices"
	"strings"
)

// Dispatcher performs one outbound call. It never returns a Go error:
// every failure is captured in the returned Outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *Request) Outcome
}

// Methods the dispatcher accepts.
var SupportedMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodPatch,
}

// NormalizeMethod upper-cases method and reports whether it is supported.
func NormalizeMethod(method string) (string, bool) {
	m := strings.ToUpper(strings.TrimSpace(method))
	return m, slices.Contains(SupportedMethods, m)
}

// Request describes one outbound call.
type Request struct {
	URL     string
	Method  string
	Payload any
	Headers map[string]string
}

// Response is a completed 2xx response.
type Response struct {
	StatusCode int               `json:"statusCode"`
	Header     map[string]string `json:"header,omitempty"`
	Body       []byte            `json:"body"`
}

// FailureKind classifies a failed dispatch.
type FailureKind string

const (
	KindTimeout    FailureKind = "timeout"
	KindNetwork    FailureKind = "network"
	KindHTTPStatus FailureKind = "http-status"
	KindValidation FailureKind = "validation"
	KindCancelled  FailureKind = "cancelled"
	KindInternal   FailureKind = "internal"
)

// Failure describes why a dispatch did not produce a Response.
type Failure struct {
	Kind       FailureKind `json:"kind"`
	Message    string      `json:"message"`
	StatusCode int         `json:"statusCode,omitempty"`
}

// Outcome is the terminal result of a dispatch: exactly one of Response
// and Failure is set.
type Outcome struct {
	Response *Response
	Failure  *Failure
	Attempts int  // HTTP attempts made, 0 for cache hits
	Cached   bool // served from cache without a network call
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool {
	return o.Failure == nil && o.Response != nil
}

// Success wraps resp in an Outcome.
func Success(resp *Response) Outcome {
	return Outcome{Response: resp}
}

// Fail builds a failed Outcome.
func Fail(kind FailureKind, message string) Outcome {
	return Outcome{Failure: &Failure{Kind: kind, Message: message}}
}

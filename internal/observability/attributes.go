// Package observability provides metrics, tracing, and logging utilities.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys
const (
	attrMethod = "method"
	attrPath   = "path"
	attrStatus = "status"
	attrResult = "result"
	attrReason = "reason"
	attrHit    = "hit"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	// Normalize paths with IDs to reduce cardinality
	// /v1/requests/abc123 -> /v1/requests/{requestId}
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// Group status codes to reduce cardinality
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	group := fmt.Sprintf("%dxx", code/100)
	return attribute.String(attrStatus, group)
}

func resultAttr(result string) attribute.KeyValue {
	return attribute.String(attrResult, result)
}

func reasonAttr(reason string) attribute.KeyValue {
	if reason == "" {
		reason = "unknown"
	}
	return attribute.String(attrReason, reason)
}

func hitAttr(hit bool) attribute.KeyValue {
	return attribute.Bool(attrHit, hit)
}

// idSegments names the placeholder for the segment following each
// collection prefix.
var idSegments = []struct {
	prefix      string
	placeholder string
}{
	{"/v1/schedulers/", "{schedulerId}"},
	{"/v1/requests/", "{requestId}"},
	{"/v1/notifications/", "{clientToken}"},
}

// normalizePath replaces dynamic path segments with placeholders.
func normalizePath(path string) string {
	for _, s := range idSegments {
		rest, ok := strings.CutPrefix(path, s.prefix)
		if !ok || rest == "" {
			continue
		}
		if _, tail, found := strings.Cut(rest, "/"); found {
			return s.prefix + s.placeholder + "/" + tail
		}
		return s.prefix + s.placeholder
	}
	return path
}

// WithMethod returns a metric option with the method attribute.
func WithMethod(method string) metric.MeasurementOption {
	return metric.WithAttributes(methodAttr(method))
}

// WithPath returns a metric option with the path attribute.
func WithPath(path string) metric.MeasurementOption {
	return metric.WithAttributes(pathAttr(path))
}

// WithStatus returns a metric option with the status attribute.
func WithStatus(code int) metric.MeasurementOption {
	return metric.WithAttributes(statusAttr(code))
}

// WithResult returns a metric option with the result attribute.
func WithResult(result string) metric.MeasurementOption {
	return metric.WithAttributes(resultAttr(result))
}

package apperrors

import (
	"errors"
	"net/http"
)

// HTTPStatus maps an error to the appropriate HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnsupportedMedia):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrQueueFull):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Reply describes the error body sent to an API caller.
type Reply struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Code    string `json:"code"`
}

// ToReply classifies err for the wire. Errors without a code are internal,
// and their message is replaced so causes from storage or transports stay
// in the logs.
func ToReply(err error) Reply {
	code := Code(err)
	if code == "" || code == CodeInternal {
		return Reply{Status: http.StatusInternalServerError, Message: "internal error", Code: CodeInternal}
	}
	return Reply{Status: HTTPStatus(err), Message: err.Error(), Code: code}
}

package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is returned for every failed call to the execution service.
// StatusCode is 0 when the request never produced a response.
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the call may succeed if repeated.
func (e *APIError) Temporary() bool {
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// errorBody matches both error envelopes used by the execution service.
type errorBody struct {
	Detail  any    `json:"detail"`
	Message string `json:"message"`
}

// message extracts the human readable text from the body. FastAPI validation
// errors put a list under detail; those are reported with the fallback.
func (b errorBody) message(field errorField) string {
	if field == fieldMessage {
		return b.Message
	}
	if s, ok := b.Detail.(string); ok {
		return s
	}
	return ""
}

type errorField int

const (
	fieldDetail errorField = iota
	fieldMessage
)

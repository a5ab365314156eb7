package store

import (
	"fmt"
	"net/http"
)

// Error is the structured failure shape returned by the remote store:
// an HTTP status plus the PostgREST-style body {message, code, details, hint}.
type Error struct {
	StatusCode int

	Message string `json:"message"`
	Code    string `json:"code"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote store error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("remote store error %d: %s", e.StatusCode, e.Message)
}

// IsClientError reports whether the failure is a 4xx-equivalent, i.e. caused
// by the request itself. Retrying those verbatim can't succeed. Timeouts
// (408) and throttling (429) are transient and stay retryable.
func (e *Error) IsClientError() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

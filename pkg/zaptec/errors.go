package zaptec

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is implemented by all errors originating from the API client.
type Error interface {
	error
	apiError()
}

// AuthenticationError means the credentials were rejected by the token
// endpoint.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string { return e.Message }
func (e *AuthenticationError) apiError()     {}

// RequestError is a non-successful HTTP response from the API.
type RequestError struct {
	Message    string
	StatusCode int
}

func (e *RequestError) Error() string { return e.Message }
func (e *RequestError) apiError()     {}

// RequestConnectionError means the API could not be reached after all
// retries.
type RequestConnectionError struct {
	Message string
	Err     error
}

func (e *RequestConnectionError) Error() string { return e.Message }
func (e *RequestConnectionError) Unwrap() error { return e.Err }
func (e *RequestConnectionError) apiError()     {}

// RequestTimeoutError means requests kept timing out until the retries
// were exhausted.
type RequestTimeoutError struct {
	Message string
	Err     error
}

func (e *RequestTimeoutError) Error() string { return e.Message }
func (e *RequestTimeoutError) Unwrap() error { return e.Err }
func (e *RequestTimeoutError) apiError()     {}

// RequestRetryError means the retries were exhausted without a usable
// response.
type RequestRetryError struct {
	Message string
}

func (e *RequestRetryError) Error() string { return e.Message }
func (e *RequestRetryError) apiError()     {}

// RequestDataError means the API responded with a payload that could not
// be decoded or that failed schema validation.
type RequestDataError struct {
	Message string
}

func (e *RequestDataError) Error() string { return e.Message }
func (e *RequestDataError) apiError()     {}

// IsForbidden reports whether err is an API response with status 403.
// Several endpoints return 403 when the account lacks access and callers
// treat that as "feature unavailable" rather than a failure.
func IsForbidden(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusForbidden
}

func errUnknownObject(id string) error {
	return fmt.Errorf("object with id %s not found", id)
}

package transcription

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated is returned before any request is made when the
	// session carries no bearer token.
	ErrUnauthenticated = errors.New("not logged in")

	// ErrInvalidResponse is returned when a successful response cannot be decoded
	ErrInvalidResponse = errors.New("invalid response from backend")
)

// ServerError reports a non-2xx response. Body holds the raw response text
// and Message the backend's "error" field when it sent one.
type ServerError struct {
	StatusCode int
	Body       string
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("Server error: %d - %s", e.StatusCode, e.Body)
}

// NetworkError reports a transport-level failure
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network failure: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsServerError reports whether err is a *ServerError and returns it
func IsServerError(err error) (*ServerError, bool) {
	var se *ServerError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsNetworkError reports whether err is a transport-level failure
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

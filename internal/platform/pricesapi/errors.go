package pricesapi

import (
	"errors"
	"fmt"
)

// ErrNoRecord is returned by GetPrice when the response holds no card.
var ErrNoRecord = errors.New("pricesapi: no record in response")

// NetworkError is a failed HTTP exchange with the vendor. Transport errors,
// timeouts, 429 and 5xx responses are retryable; other statuses are not.
type NetworkError struct {
	Path       string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("pricesapi: GET %s: unexpected status code: %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("pricesapi: GET %s: %v", e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// PageError reports the page at which pagination stopped.
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

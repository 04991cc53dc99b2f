/*
Copyright 2025 Infra Bits
SPDX-License-Identifier: MIT
*/

package gh

import (
	"errors"
	"fmt"

	"github.com/google/go-github/v75/github"
)

// RemoteError is a non-2xx response from the GitHub API. It carries the
// HTTP status and the service's message so callers can log enough to
// diagnose a refused operation.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("github api: %d %s", e.StatusCode, e.Message)
}

// TransportError is a network-level failure (timeout, DNS, connection
// reset) that never reached the GitHub API. The orchestrator retries
// these; this layer does not.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("github transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError is a credential exchange failure: bad key material, an
// unknown app identity, or a failed installation-token exchange.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("github auth: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// classify maps a go-github call result onto the error kinds above.
// go-github surfaces non-2xx responses as *github.ErrorResponse; anything
// else that produced no usable response is a transport failure.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var er *github.ErrorResponse
	if errors.As(err, &er) {
		status := 0
		if er.Response != nil {
			status = er.Response.StatusCode
		}
		return &RemoteError{StatusCode: status, Message: er.Message}
	}

	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		status := 0
		if rle.Response != nil {
			status = rle.Response.StatusCode
		}
		return &RemoteError{StatusCode: status, Message: rle.Message}
	}

	return &TransportError{Err: err}
}

package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dukex/careflow/pkg/auth"
	"github.com/moogar0880/problems"
)

// ErrRemoteSubmissionFailed is returned when the API rejects a call or cannot be reached.
var ErrRemoteSubmissionFailed = errors.New("remote submission failed")

// RemoteError describes a failed API call. Problem holds the RFC 7807 body
// when the API sent one.
type RemoteError struct {
	Op         string
	Method     string
	Path       string
	StatusCode int
	Problem    *problems.Problem
	Err        error
}

func (e *RemoteError) Error() string {
	switch {
	case e.Problem != nil && e.Problem.Detail != "":
		return fmt.Sprintf("%s: %s %s returned %d: %s", e.Op, e.Method, e.Path, e.StatusCode, e.Problem.Detail)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %s %s returned %d", e.Op, e.Method, e.Path, e.StatusCode)
	default:
		return fmt.Sprintf("%s: %s %s: %v", e.Op, e.Method, e.Path, e.Err)
	}
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// NotFound reports whether the API answered 404.
func (e *RemoteError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

func newStatusError(op, method, path string, statusCode int, problem *problems.Problem) *RemoteError {
	// a rejected token is reported as missing authentication, not as a queue failure
	err := ErrRemoteSubmissionFailed
	if statusCode == http.StatusUnauthorized {
		err = auth.ErrAuthenticationRequired
	}

	return &RemoteError{
		Op:         op,
		Method:     method,
		Path:       path,
		StatusCode: statusCode,
		Problem:    problem,
		Err:        err,
	}
}

func newTransportError(op, method, path string, err error) *RemoteError {
	return &RemoteError{
		Op:     op,
		Method: method,
		Path:   path,
		Err:    fmt.Errorf("%w: %w", ErrRemoteSubmissionFailed, err),
	}
}

// IsRemoteSubmissionFailed reports whether err is a rejected or unreachable API call.
func IsRemoteSubmissionFailed(err error) bool {
	return errors.Is(err, ErrRemoteSubmissionFailed)
}

// IsNotFound reports whether err is an API 404.
func IsNotFound(err error) bool {
	var remoteErr *RemoteError

	return errors.As(err, &remoteErr) && remoteErr.NotFound()
}

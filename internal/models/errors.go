package models

import (
	"errors"
	"fmt"
)

// ErrorKind is the classification of a failed chat request.
type ErrorKind string

const (
	KindAPI       ErrorKind = "api"
	KindNetwork   ErrorKind = "network"
	KindTimeout   ErrorKind = "timeout"
	KindCancelled ErrorKind = "cancelled"
	KindUnknown   ErrorKind = "unknown"
)

var (
	// ErrTimeout is returned when a request did not complete within its timeout.
	ErrTimeout = errors.New("request timed out")
	// ErrCancelled is returned when a request was aborted by its caller.
	ErrCancelled = errors.New("request was cancelled")
	// ErrStreamAborted is joined with ErrTimeout or ErrCancelled when an event stream stops being read
	// because its request was cancelled.
	ErrStreamAborted = errors.New("stream processing aborted")
)

// APIError is returned for a non-success HTTP status, or for a successful response that could not be turned
// into any message.
type APIError struct {
	Status  int
	Message string
}

// NetworkError is returned when the backend could not be reached or the connection broke mid-response.
type NetworkError struct {
	Message string
	Err     error
}

// UnknownError wraps any failure that fits no other kind.
type UnknownError struct {
	Message string
	Err     error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *UnknownError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *UnknownError) Unwrap() error { return e.Err }

// Classify returns the kind of err. Errors that carry no classification are KindUnknown.
func Classify(err error) ErrorKind {
	var apiErr *APIError
	var netErr *NetworkError
	switch {
	case errors.As(err, &apiErr):
		return KindAPI
	case errors.As(err, &netErr):
		return KindNetwork
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	}
	return KindUnknown
}

// ErrorText returns the human readable notice shown in a conversation for a failed request.
func ErrorText(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	var netErr *NetworkError
	var unknownErr *UnknownError
	switch Classify(err) {
	case KindAPI:
		errors.As(err, &apiErr)
		return "API Error: " + apiErr.Message
	case KindNetwork:
		errors.As(err, &netErr)
		return netErr.Message
	case KindTimeout:
		return "Request timed out. Please try again."
	case KindCancelled:
		return "Error: Request was cancelled."
	}
	if errors.As(err, &unknownErr) {
		return "Error: " + unknownErr.Message
	}
	return "Error: " + err.Error()
}

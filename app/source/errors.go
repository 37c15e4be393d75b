package source

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Fetch error kinds. Adapter errors are classified values returned across
// the boundary, never panics.
type ErrorKind string

const (
	ErrKindTimeout ErrorKind = "timeout"
	ErrKindNetwork ErrorKind = "network"
	ErrKindParse   ErrorKind = "parse"
	ErrKindHTTP    ErrorKind = "http"
)

type FetchError struct {
	Kind     ErrorKind
	SourceID string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s from source %s: %v", e.Kind, e.SourceID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func newFetchError(kind ErrorKind, sourceID string, err error) *FetchError {
	return &FetchError{Kind: kind, SourceID: sourceID, Err: err}
}

// classifyTransportError separates timeouts from other network failures.
func classifyTransportError(sourceID string, err error) *FetchError {
	if errors.Is(err, context.DeadlineExceeded) {
		return newFetchError(ErrKindTimeout, sourceID, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newFetchError(ErrKindTimeout, sourceID, err)
	}

	return newFetchError(ErrKindNetwork, sourceID, err)
}

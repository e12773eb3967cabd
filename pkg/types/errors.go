package types

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig indicates a missing credential, URL or model. Not retryable
	// until the configuration is fixed.
	ErrConfig = errors.New("configuration error")

	// ErrUpstream indicates a non-success or malformed response from the
	// summarization or embedding service. Retryable by re-running the stage.
	ErrUpstream = errors.New("upstream service error")

	// ErrFormat indicates a malformed import payload.
	ErrFormat = errors.New("invalid memory file format")

	// ErrStorage indicates a persistence read or write failure.
	ErrStorage = errors.New("storage error")

	// ErrNotFound indicates that the requested memory does not exist.
	ErrNotFound = errors.New("memory not found")
)

// UpstreamError carries the remote status and message of a failed call to an
// external service. errors.Is(err, ErrUpstream) holds for every UpstreamError.
type UpstreamError struct {
	Service string // "summarizer" or "embedding"
	Status  int    // HTTP status, 0 when the response was malformed
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Service, e.Message)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.Status, e.Message)
}

// Is makes UpstreamError match the ErrUpstream sentinel.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

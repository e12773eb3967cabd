package llm

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"

	"github.com/solo125812/st-voyageai-memory/pkg/types"
)

// Service names carried by UpstreamError.
const (
	ServiceSummarizer = "summarizer"
	ServiceEmbedding  = "embedding"
)

// configError reports a missing setting for service.
func configError(service, msg string) error {
	return goerr.Wrap(types.ErrConfig, msg, goerr.V("service", service))
}

// upstreamError classifies a failed call. Context cancellation is passed
// through unchanged; everything else that is not already an UpstreamError
// becomes one with status 0.
func upstreamError(service string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ue *types.UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	if errors.Is(err, ErrCircuitOpen) {
		return &types.UpstreamError{Service: service, Message: "too many recent failures, circuit breaker is open"}
	}
	return &types.UpstreamError{Service: service, Message: err.Error()}
}

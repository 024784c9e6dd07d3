package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

// FailureKind distinguishes model-transport failure modes. Transient and
// rate-limited failures are retried; permanent ones fail the run.
type FailureKind int

const (
	FailureTransient FailureKind = iota
	FailureRateLimited
	FailurePermanent
)

func (k FailureKind) String() string {
	switch k {
	case FailureTransient:
		return "transient"
	case FailureRateLimited:
		return "rate_limited"
	case FailurePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// TransportError wraps a model endpoint failure with its classification.
type TransportError struct {
	Kind FailureKind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("model transport (%s): %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Classify maps an error from the Anthropic client to a FailureKind.
// 429 is rate-limited; 408/5xx are transient; other HTTP statuses are
// permanent. Non-HTTP errors (DNS, connection reset) are transient, while
// context cancellation is permanent — the deadline owner decided.
func Classify(err error) FailureKind {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return FailurePermanent
	}

	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusTooManyRequests:
			return FailureRateLimited
		case apierr.StatusCode == http.StatusRequestTimeout,
			apierr.StatusCode >= 500:
			return FailureTransient
		default:
			return FailurePermanent
		}
	}

	return FailureTransient
}

// retryAfter extracts the server-suggested delay from a rate-limit error,
// if one was provided.
func retryAfter(err error) (time.Duration, bool) {
	var apierr *anthropic.Error
	if !errors.As(err, &apierr) || apierr.Response == nil {
		return 0, false
	}
	header := apierr.Response.Header.Get("Retry-After")
	if header == "" {
		return 0, false
	}
	secs, convErr := strconv.Atoi(header)
	if convErr != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	maxRetries     = 3
	initialBackoff = time.Second
)

// withRetry calls fn up to maxRetries times, doubling the wait after each
// transient failure.
func withRetry(ctx context.Context, backoff time.Duration, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		lastErr = fn(ctx)
		if lastErr == nil || !isTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// isTransient reports whether a provider error is worth retrying.
// Bad requests and auth failures are not.
func isTransient(err error) bool {
	if errors.Is(err, ErrMalformedOutput) || errors.Is(err, ErrDimensionMismatch) {
		return false
	}
	var imgErr *ImageFetchError
	if errors.As(err, &imgErr) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}

	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Internal, codes.Aborted, codes.Unknown:
			return true
		default:
			return false
		}
	}
	return true
}

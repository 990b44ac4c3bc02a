package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation marks a malformed alert rejected at the boundary.
	ErrValidation = errors.New("invalid alert")

	// ErrDuplicateAlert marks an alert whose id was already processed.
	ErrDuplicateAlert = errors.New("alert already processed")

	// ErrSeverityBelowThreshold marks an alert filtered out by the severity gate.
	ErrSeverityBelowThreshold = errors.New("alert severity below threshold")

	// ErrAssetFetch marks a failed icon download; publishing falls back to text.
	ErrAssetFetch = errors.New("alert asset fetch failed")

	// ErrAuthExpired marks a 401 from the chat API.
	ErrAuthExpired = errors.New("bot authentication expired")

	// ErrRateLimited marks a 429 from the chat API.
	ErrRateLimited = errors.New("rate limited by chat api")

	// ErrPublishFailure marks a send that failed on every path.
	ErrPublishFailure = errors.New("alert publish failed")

	// ErrUnknownAlertID marks an attempt to commit an id that was never reserved.
	ErrUnknownAlertID = errors.New("unknown alert id")
)

// RateLimitError carries the wait imposed by the chat API.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter.Round(time.Millisecond))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

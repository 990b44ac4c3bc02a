package publisher

import (
	"time"

	"github.com/couchcryptid/storm-alert-relay/internal/domain"
)

// Status is the terminal state of one publish call.
type Status string

const (
	StatusSent        Status = "sent"
	StatusRateLimited Status = "rate_limited"
	StatusFailed      Status = "failed"
)

// Path names the stage that delivered a message.
type Path string

const (
	PathImage Path = "image"
	PathText  Path = "text"
)

// Result describes a single publish call. Network problems are reported
// here rather than as a returned error.
type Result struct {
	Success    bool
	Status     Status
	AlertID    string
	Severity   domain.Severity
	Title      string
	Path       Path
	RetryAfter time.Duration
	Err        error
}

// RateLimited reports whether the caller must wait RetryAfter before resubmitting.
func (r Result) RateLimited() bool { return r.Status == StatusRateLimited }

// Delivery is one subscriber's entry in a bulk result.
type Delivery struct {
	UserID string
	Result Result
}

// BulkResult aggregates a sequential distribution to many subscribers.
// Subscribers after a rate-limited delivery are not attempted and do not
// appear in Details.
type BulkResult struct {
	Success     bool
	Sent        int
	Failed      int
	Details     []Delivery
	RateLimited bool
	RetryAfter  time.Duration
}

func newResult(fa domain.FormattedAlert) Result {
	return Result{AlertID: fa.AlertID, Severity: fa.Severity, Title: fa.Title}
}

func sentResult(fa domain.FormattedAlert, path Path) Result {
	r := newResult(fa)
	r.Success = true
	r.Status = StatusSent
	r.Path = path
	return r
}

func rateLimitedResult(fa domain.FormattedAlert, wait time.Duration) Result {
	r := newResult(fa)
	r.Status = StatusRateLimited
	r.RetryAfter = wait
	r.Err = &domain.RateLimitError{RetryAfter: wait}
	return r
}

func failedResult(fa domain.FormattedAlert, err error) Result {
	r := newResult(fa)
	r.Status = StatusFailed
	r.Err = err
	return r
}

package publisher

import (
	"errors"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"
)

const (
	defaultRetryAfter = 60 * time.Second
	minRetryAfter     = 30 * time.Second
	maxRetryAfter     = 30 * time.Minute
	maxJitter         = 5 * time.Second
)

// RateLimitState is the chat API backoff window shared by every send of one
// Publisher, including each step of a bulk distribution.
type RateLimitState struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	jitter func() time.Duration

	limited       bool
	retryAfter    time.Duration
	lastRateLimit time.Time
	consecutive   int
}

// RateLimitSnapshot is a point-in-time copy of the state.
type RateLimitSnapshot struct {
	IsRateLimited bool
	RetryAfter    time.Duration
	LastRateLimit time.Time
	Consecutive   int
}

// NewRateLimitState creates an open (not limited) state.
func NewRateLimitState(clock clockwork.Clock) *RateLimitState {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RateLimitState{clock: clock, jitter: randomJitter}
}

// WithJitter replaces the jitter source. Intended for tests.
func (s *RateLimitState) WithJitter(fn func() time.Duration) *RateLimitState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jitter = fn
	return s
}

// Check reports whether sends must be held back and for how long. A window
// that has already elapsed is cleared.
func (s *RateLimitState) Check() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.limited {
		return 0, false
	}
	elapsed := s.clock.Since(s.lastRateLimit)
	if elapsed < s.retryAfter {
		return s.retryAfter - elapsed, true
	}
	s.limited = false
	return 0, false
}

// Record opens a new backoff window after a 429 and returns its length.
// retryAfterHeader may be delay-seconds, an HTTP date, or empty.
func (s *RateLimitState) Record(retryAfterHeader string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	base := parseRetryAfter(retryAfterHeader, now)

	s.consecutive++
	wait := base
	for i := 1; i < s.consecutive && wait < maxRetryAfter; i++ {
		wait = retry.NextBackoff(wait, maxRetryAfter)
	}
	wait += s.jitter()
	wait = min(max(wait, minRetryAfter), maxRetryAfter)

	s.limited = true
	s.retryAfter = wait
	s.lastRateLimit = now
	return wait
}

// RecordSuccess ends the consecutive rate-limit streak.
func (s *RateLimitState) RecordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutive = 0
}

// Reset clears all state.
func (s *RateLimitState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limited = false
	s.retryAfter = 0
	s.lastRateLimit = time.Time{}
	s.consecutive = 0
}

func (s *RateLimitState) Snapshot() RateLimitSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RateLimitSnapshot{
		IsRateLimited: s.limited,
		RetryAfter:    s.retryAfter,
		LastRateLimit: s.lastRateLimit,
		Consecutive:   s.consecutive,
	}
}

func parseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return defaultRetryAfter
	}
	secs, err := strconv.ParseInt(header, 10, 64)
	switch {
	case err == nil && secs < 0:
		return defaultRetryAfter
	case err == nil && secs > int64(maxRetryAfter/time.Second):
		return maxRetryAfter
	case err == nil:
		return time.Duration(secs) * time.Second
	case errors.Is(err, strconv.ErrRange) && !strings.HasPrefix(header, "-"):
		return maxRetryAfter
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return defaultRetryAfter
}

func randomJitter() time.Duration {
	return time.Duration(rand.Int64N(int64(maxJitter/time.Millisecond)+1)) * time.Millisecond
}

// Package dedup guards against publishing the same alert twice.
//
// An alert id moves through three states: absent, pending (reserved by one
// in-flight attempt) and published. Reserve is an atomic insert-if-absent, so
// two concurrent deliveries of the same alert cannot both proceed.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/storm-alert-relay/internal/domain"
)

// Registry records alert ids that are in flight or already published.
type Registry interface {
	// Reserve claims id for one processing attempt. It returns false when the
	// id is already pending or published.
	Reserve(ctx context.Context, id string) (bool, error)

	// Commit marks a reserved id as published. Committing an id that was never
	// reserved returns domain.ErrUnknownAlertID.
	Commit(ctx context.Context, id string) error

	// Release drops a pending reservation so the alert may be retried.
	Release(ctx context.Context, id string) error
}

type state int

const (
	statePending state = iota + 1
	statePublished
)

type record struct {
	state   state
	expires time.Time
}

// MemoryRegistry is a process-local Registry. State is lost on restart and is
// not shared between instances.
type MemoryRegistry struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	ttl     time.Duration
	records map[string]record
}

// NewMemoryRegistry creates a registry whose entries expire after ttl. A
// non-positive ttl keeps entries for the life of the process.
func NewMemoryRegistry(ttl time.Duration, clock clockwork.Clock) *MemoryRegistry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryRegistry{
		clock:   clock,
		ttl:     ttl,
		records: make(map[string]record),
	}
}

func (r *MemoryRegistry) Reserve(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.live(id); ok {
		return false, nil
	}
	r.records[id] = record{state: statePending, expires: r.expiry()}
	return true, nil
}

func (r *MemoryRegistry) Commit(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.live(id); !ok {
		return fmt.Errorf("commit %q: %w", id, domain.ErrUnknownAlertID)
	}
	r.records[id] = record{state: statePublished, expires: r.expiry()}
	return nil
}

func (r *MemoryRegistry) Release(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.live(id); ok && rec.state == statePending {
		delete(r.records, id)
	}
	return nil
}

// Published reports whether id has been committed.
func (r *MemoryRegistry) Published(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.live(id)
	return ok && rec.state == statePublished
}

// Len returns the number of live entries, pending or published.
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id := range r.records {
		if _, ok := r.live(id); ok {
			n++
		}
	}
	return n
}

// live returns the record for id, evicting it if expired. Callers hold mu.
func (r *MemoryRegistry) live(id string) (record, bool) {
	rec, ok := r.records[id]
	if !ok {
		return record{}, false
	}
	if !rec.expires.IsZero() && !r.clock.Now().Before(rec.expires) {
		delete(r.records, id)
		return record{}, false
	}
	return rec, true
}

func (r *MemoryRegistry) expiry() time.Time {
	if r.ttl <= 0 {
		return time.Time{}
	}
	return r.clock.Now().Add(r.ttl)
}

// Package breaker is a per-key circuit breaker guarding the send path.
// Keys are sending-account ids; state is process-lifetime only.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned to callers when the circuit rejects a call outright.
var ErrOpen = errors.New("circuit breaker is open: service unavailable")

// State of one circuit.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

type circuit struct {
	state       State
	failures    int
	lastFailure time.Time
	openedAt    time.Time
	// probing is set while the single half-open probe is in flight.
	probing bool
}

// Registry tracks one circuit per key. Independent keys never contend beyond
// the registry map lock.
type Registry struct {
	mu        sync.Mutex
	circuits  map[string]*circuit
	threshold int
	recovery  time.Duration
}

// NewRegistry creates a registry that opens a circuit after `threshold`
// consecutive failures and half-opens it `recovery` after it opened.
func NewRegistry(threshold int, recovery time.Duration) *Registry {
	if threshold <= 0 {
		threshold = 5
	}
	if recovery <= 0 {
		recovery = 60 * time.Second
	}
	return &Registry{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		recovery:  recovery,
	}
}

// Allow reports whether a call for the key may proceed. An open circuit whose
// recovery window has elapsed transitions to half-open and admits exactly one
// probe; further calls are rejected until that probe resolves via
// RecordSuccess or RecordFailure.
func (r *Registry) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.get(key)

	switch c.state {
	case StateOpen:
		if time.Since(c.openedAt) >= r.recovery {
			c.state = StateHalfOpen
			c.probing = true
			return true
		}
		return false
	case StateHalfOpen:
		if c.probing {
			return false
		}
		c.probing = true
		return true
	default:
		return true
	}
}

// RecordSuccess closes the circuit for the key and zeroes its failure count.
func (r *Registry) RecordSuccess(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.get(key)
	c.state = StateClosed
	c.failures = 0
	c.probing = false
}

// RecordFailure counts a failure. A half-open circuit reopens immediately;
// a closed one opens once the consecutive-failure threshold is reached.
func (r *Registry) RecordFailure(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.get(key)
	c.failures++
	c.lastFailure = time.Now()

	if c.state == StateHalfOpen || c.failures >= r.threshold {
		c.state = StateOpen
		c.openedAt = time.Now()
		c.probing = false
	}
}

// State returns the current state for the key.
func (r *Registry) State(key string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(key).state
}

// Failures returns the consecutive failure count for the key.
func (r *Registry) Failures(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(key).failures
}

// Reset clears the circuit for the key.
func (r *Registry) Reset(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.circuits, key)
}

func (r *Registry) get(key string) *circuit {
	c, ok := r.circuits[key]
	if !ok {
		c = &circuit{state: StateClosed}
		r.circuits[key] = c
	}
	return c
}

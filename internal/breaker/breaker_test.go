package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOpensAfterThreshold(t *testing.T) {
	r := NewRegistry(5, time.Minute)

	for i := 0; i < 4; i++ {
		assert.True(t, r.Allow("acct-1"))
		r.RecordFailure("acct-1")
		assert.Equal(t, StateClosed, r.State("acct-1"), "circuit opened too early after %d failures", i+1)
	}

	assert.True(t, r.Allow("acct-1"))
	r.RecordFailure("acct-1") // fifth consecutive failure
	assert.Equal(t, StateOpen, r.State("acct-1"))

	// The sixth call is rejected without reaching the connector.
	assert.False(t, r.Allow("acct-1"))
}

func TestHalfOpenAfterRecoveryWindow(t *testing.T) {
	r := NewRegistry(5, 50*time.Millisecond)

	for i := 0; i < 5; i++ {
		r.RecordFailure("acct-1")
	}
	assert.False(t, r.Allow("acct-1"))

	time.Sleep(60 * time.Millisecond)

	// First call after the window is the half-open probe.
	assert.True(t, r.Allow("acct-1"))
	assert.Equal(t, StateHalfOpen, r.State("acct-1"))

	r.RecordSuccess("acct-1")
	assert.Equal(t, StateClosed, r.State("acct-1"))
	assert.Equal(t, 0, r.Failures("acct-1"))
}

func TestHalfOpenFailureReopens(t *testing.T) {
	r := NewRegistry(5, 50*time.Millisecond)

	for i := 0; i < 5; i++ {
		r.RecordFailure("acct-1")
	}

	time.Sleep(60 * time.Millisecond)
	assert.True(t, r.Allow("acct-1"))

	r.RecordFailure("acct-1")
	assert.Equal(t, StateOpen, r.State("acct-1"))
	assert.False(t, r.Allow("acct-1"))
}

func TestHalfOpenAdmitsSingleProbe(t *testing.T) {
	r := NewRegistry(5, 50*time.Millisecond)

	for i := 0; i < 5; i++ {
		r.RecordFailure("acct-1")
	}

	time.Sleep(60 * time.Millisecond)

	// Only the first caller after the recovery window gets through; callers
	// racing it while the probe is in flight are rejected.
	assert.True(t, r.Allow("acct-1"))
	assert.Equal(t, StateHalfOpen, r.State("acct-1"))
	assert.False(t, r.Allow("acct-1"))
	assert.False(t, r.Allow("acct-1"))

	// Probe success closes the circuit and lifts the gate.
	r.RecordSuccess("acct-1")
	assert.True(t, r.Allow("acct-1"))
	assert.True(t, r.Allow("acct-1"))
}

func TestHalfOpenProbeFailureGatesNextWindow(t *testing.T) {
	r := NewRegistry(5, 50*time.Millisecond)

	for i := 0; i < 5; i++ {
		r.RecordFailure("acct-1")
	}

	time.Sleep(60 * time.Millisecond)
	assert.True(t, r.Allow("acct-1"))
	r.RecordFailure("acct-1")

	// Reopened: rejected now, and the next window admits one probe again.
	assert.False(t, r.Allow("acct-1"))
	time.Sleep(60 * time.Millisecond)
	assert.True(t, r.Allow("acct-1"))
	assert.False(t, r.Allow("acct-1"))
}

func TestSuccessResetsFailureCount(t *testing.T) {
	r := NewRegistry(5, time.Minute)

	for i := 0; i < 4; i++ {
		r.RecordFailure("acct-1")
	}
	r.RecordSuccess("acct-1")
	assert.Equal(t, 0, r.Failures("acct-1"))

	// Needs five fresh consecutive failures to open again.
	for i := 0; i < 4; i++ {
		r.RecordFailure("acct-1")
	}
	assert.Equal(t, StateClosed, r.State("acct-1"))
}

func TestKeysAreIndependent(t *testing.T) {
	r := NewRegistry(5, time.Minute)

	for i := 0; i < 5; i++ {
		r.RecordFailure("acct-1")
	}

	assert.False(t, r.Allow("acct-1"))
	assert.True(t, r.Allow("acct-2"))
	assert.Equal(t, StateClosed, r.State("acct-2"))
}

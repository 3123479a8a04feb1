package authgate

import (
	"time"

	"github.com/volatiletech/null/v8"
)

const (
	// MaxPINAttempts is the number of consecutive wrong PINs that triggers a lock.
	MaxPINAttempts = 5
	// LockDuration is how long PIN checking stays denied once locked.
	LockDuration = 5 * time.Minute
)

// LockoutDecision is the outcome of evaluating a LockoutState at a given instant.
// State is the effective state: an expired lock comes back reset.
type LockoutDecision struct {
	Permitted bool
	State     LockoutState
}

// Remaining is the time left on the lock, zero when permitted.
func (d LockoutDecision) Remaining(now time.Time) time.Duration {
	if d.Permitted || !d.State.LockedUntil.Valid {
		return 0
	}
	return d.State.LockedUntil.Time.Sub(now)
}

// EvaluateLockout decides whether a PIN check is permitted at `now`.
// Lock expiry is lazy: an expired lock is only cleared here.
func EvaluateLockout(st LockoutState, now time.Time) LockoutDecision {
	if st.LockedUntil.Valid {
		if now.Before(st.LockedUntil.Time) {
			return LockoutDecision{Permitted: false, State: st}
		}
		return LockoutDecision{Permitted: true, State: LockoutState{}}
	}
	if st.AttemptCount >= MaxPINAttempts {
		// count says locked but no deadline was recorded: lock from now
		st.LockedUntil = null.TimeFrom(now.Add(LockDuration))
		return LockoutDecision{Permitted: false, State: st}
	}
	if st.AttemptCount < 0 {
		st.AttemptCount = 0
	}
	return LockoutDecision{Permitted: true, State: st}
}

// RegisterFailure returns the state after a wrong PIN.
// Callers must only register failures for permitted checks.
func RegisterFailure(st LockoutState, now time.Time) LockoutState {
	st.AttemptCount++
	if st.AttemptCount >= MaxPINAttempts {
		st.AttemptCount = MaxPINAttempts
		st.LockedUntil = null.TimeFrom(now.Add(LockDuration))
	}
	return st
}

// RegisterSuccess returns the state after a correct PIN.
func RegisterSuccess() LockoutState {
	return LockoutState{}
}

// AttemptsRemaining is the number of wrong PINs left before a lock.
func AttemptsRemaining(st LockoutState) int {
	if rem := MaxPINAttempts - st.AttemptCount; rem > 0 {
		return rem
	}
	return 0
}

package authgate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-authgate/core"
)

// Re-authentication states
const (
	ReauthIdle ReauthState = iota
	ReauthEntering
	ReauthChecking
	ReauthAccepted
	ReauthRejected
	ReauthLocked
)

type ReauthState int

func (s ReauthState) String() string {
	switch s {
	case ReauthEntering:
		return "Entering"
	case ReauthChecking:
		return "Checking"
	case ReauthAccepted:
		return "Accepted"
	case ReauthRejected:
		return "Rejected"
	case ReauthLocked:
		return "Locked"
	default:
		return "Idle"
	}
}

// WrongPINError is a rejected PIN that did not trigger the lock.
type WrongPINError struct {
	AttemptsRemaining int
}

func (err WrongPINError) Error() string {
	if err.AttemptsRemaining == 1 {
		return "wrong PIN, 1 attempt remaining"
	}
	return fmt.Sprintf("wrong PIN, %d attempts remaining", err.AttemptsRemaining)
}

// Reauthenticator is the PIN pad shown on a cold start when quick login is configured.
// The digit buffer lives in memory only and is discarded on Abandon.
type Reauthenticator struct {
	m      *Manager
	method Method

	mu    sync.Mutex
	state ReauthState
	buf   []byte
}

func (m *Manager) NewReauthenticator(ctx context.Context) (*Reauthenticator, error) {
	if err := m.requireSession(ctx); err != nil {
		return nil, err
	}
	cred, err := m.vault.readCredential(ctx)
	if err != nil {
		return nil, err
	}
	if !cred.Method.NeedsPIN() || !cred.Consistent() {
		return nil, ErrQuickLoginNotConfigured
	}
	return &Reauthenticator{m: m, method: cred.Method, buf: make([]byte, 0, core.PINDigits)}, nil
}

func (r *Reauthenticator) State() ReauthState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Digits is the number of buffered digits, for the PIN pad dots.
func (r *Reauthenticator) Digits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Start opens the PIN pad. With the biometric method the sensor is asserted once:
// success is accepted without touching the PIN or the lockout.
func (r *Reauthenticator) Start(ctx context.Context) (ReauthState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != ReauthIdle {
		return r.state, ErrWrongStage
	}

	if r.method == MethodBiometric && r.m.BiometricAvailable() {
		if err := r.m.assertBiometric(ctx); err == nil {
			if err := r.m.refreshAuthentication(ctx); err != nil {
				r.state = ReauthEntering
				return r.state, err
			}
			r.state = ReauthAccepted
			return r.state, nil
		}
	}

	r.state = ReauthEntering
	locked, _, err := r.m.IsLocked(ctx)
	if err != nil {
		r.state = ReauthLocked
		return r.state, err
	}
	if locked {
		r.state = ReauthLocked
	}
	return r.state, nil
}

// PressDigit appends one digit; the 4th digit triggers the check.
// On a wrong PIN the returned state is Rejected and the pad goes back to Entering.
func (r *Reauthenticator) PressDigit(ctx context.Context, d rune) (ReauthState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == ReauthLocked {
		remaining, err := r.refreshLockLocked(ctx)
		if err != nil {
			return r.state, err
		}
		if r.state == ReauthLocked {
			now := r.m.now()
			return r.state, core.NewLockoutError(now.Add(remaining), now)
		}
	}
	if r.state != ReauthEntering {
		return r.state, ErrWrongStage
	}
	if d < '0' || d > '9' {
		return r.state, core.NewValidationError(nil, core.FieldError{Field: "pin", Error: "PIN must be digits only"})
	}

	r.buf = append(r.buf, byte(d))
	if len(r.buf) < core.PINDigits {
		return r.state, nil
	}

	pin := string(r.buf)
	r.clearLocked()
	r.state = ReauthChecking
	return r.checkLocked(ctx, pin)
}

// Backspace drops the last buffered digit.
func (r *Reauthenticator) Backspace() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == ReauthEntering && len(r.buf) > 0 {
		r.buf[len(r.buf)-1] = 0
		r.buf = r.buf[:len(r.buf)-1]
	}
}

// Abandon discards the buffer. Nothing is persisted.
func (r *Reauthenticator) Abandon() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearLocked()
	if r.state != ReauthAccepted {
		r.state = ReauthIdle
	}
}

// IsLocked re-evaluates the lock, clearing it once expired.
func (r *Reauthenticator) IsLocked(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.refreshLockLocked(ctx); err != nil {
		return true, err
	}
	return r.state == ReauthLocked, nil
}

// ForgotPIN leaves the pad for an OTP login on the stored phone number,
// which leads back into PIN re-enrollment.
func (r *Reauthenticator) ForgotPIN(ctx context.Context) (*OTPAuthenticator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != ReauthEntering && r.state != ReauthLocked {
		return nil, ErrWrongStage
	}
	r.clearLocked()
	return r.m.StartPINReset(ctx)
}

func (r *Reauthenticator) refreshLockLocked(ctx context.Context) (time.Duration, error) {
	locked, remaining, err := r.m.IsLocked(ctx)
	if err != nil {
		return 0, err
	}
	switch {
	case locked:
		r.clearLocked()
		r.state = ReauthLocked
	case r.state == ReauthLocked:
		r.state = ReauthEntering
	}
	return remaining, nil
}

// checkLocked verifies the PIN under the Manager's credential mutex.
// A locked state is reported without hashing and without counting the attempt.
func (r *Reauthenticator) checkLocked(ctx context.Context, pin string) (ReauthState, error) {
	m := r.m
	m.credMu.Lock()
	defer m.credMu.Unlock()

	now := m.now()
	dec, err := m.evaluateLockoutLocked(ctx, now)
	if err != nil {
		r.state = ReauthEntering
		return r.state, err
	}
	if !dec.Permitted {
		r.state = ReauthLocked
		return r.state, core.NewLockoutError(dec.State.LockedUntil.Time, now)
	}

	cred, err := m.vault.readCredential(ctx)
	if err != nil {
		r.state = ReauthEntering
		return r.state, err
	}
	if !cred.PinHash.Valid {
		r.state = ReauthEntering
		return r.state, ErrQuickLoginNotConfigured
	}

	if m.codec.Verify(pin, cred.PinHash.String) {
		if err := m.vault.writeLockout(ctx, RegisterSuccess()); err != nil {
			r.state = ReauthEntering
			return r.state, errors.Wrap(err, "resetting lockout")
		}
		if err := m.vault.touch(ctx, now); err != nil {
			r.state = ReauthEntering
			return r.state, errors.Wrap(err, "refreshing session")
		}
		r.state = ReauthAccepted
		m.logger.Info("PIN accepted")
		return r.state, nil
	}

	st := RegisterFailure(dec.State, now)
	if err := m.vault.writeLockout(ctx, st); err != nil {
		r.state = ReauthEntering
		return r.state, errors.Wrap(err, "recording failed attempt")
	}
	if st.LockedUntil.Valid {
		r.state = ReauthLocked
		m.logger.Warn("PIN locked after too many attempts")
		return r.state, core.NewLockoutError(st.LockedUntil.Time, now)
	}
	r.state = ReauthEntering
	return ReauthRejected, &WrongPINError{AttemptsRemaining: AttemptsRemaining(st)}
}

func (r *Reauthenticator) clearLocked() {
	for i := range r.buf {
		r.buf[i] = 0
	}
	r.buf = r.buf[:0]
}

// refreshAuthentication moves lastAuthenticatedAt to now.
func (m *Manager) refreshAuthentication(ctx context.Context) error {
	m.credMu.Lock()
	defer m.credMu.Unlock()
	return errors.Wrap(m.vault.touch(ctx, m.now()), "refreshing session")
}

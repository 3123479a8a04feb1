package authgate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-authgate/core"
)

func startReauth(t *testing.T, env *testEnv) *Reauthenticator {
	t.Helper()
	r, err := env.mgr.NewReauthenticator(context.Background())
	if err != nil {
		t.Fatalf("NewReauthenticator() failed: %v", err)
	}
	if _, err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	return r
}

func TestManager_NewReauthenticator(t *testing.T) {
	ctx := context.Background()

	env := setup(t)
	_, err := env.mgr.NewReauthenticator(ctx)
	assert.Equal(t, ErrNoSession, err)

	env.login(t)
	_, err = env.mgr.NewReauthenticator(ctx)
	assert.Equal(t, ErrQuickLoginNotConfigured, err)
}

func TestReauthenticator_CorrectPIN(t *testing.T) {
	env := setup(t)
	env.enrollPIN(t, "4821")
	env.store.put(KeyAttemptCount, "2")
	env.clock.Advance(10 * 24 * time.Hour)

	r := startReauth(t, env)
	assert.Equal(t, ReauthEntering, r.State())
	st, err := enterPIN(t, r, "4821")
	require.NoError(t, err)
	assert.Equal(t, ReauthAccepted, st)
	assert.Equal(t, 0, r.Digits())

	assert.Equal(t, LockoutState{}, env.lockout(t))
	sess, err := env.mgr.CurrentSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now(), sess.LastAuthenticatedAt, "a PIN login refreshes the session")
}

func TestReauthenticator_WrongPIN(t *testing.T) {
	env := setup(t)
	env.enrollPIN(t, "4821")
	r := startReauth(t, env)

	for i := 1; i < MaxPINAttempts; i++ {
		st, err := enterPIN(t, r, "0000")
		assert.Equal(t, ReauthRejected, st)
		var wErr *WrongPINError
		require.True(t, errors.As(err, &wErr), "err = %v", err)
		assert.Equal(t, MaxPINAttempts-i, wErr.AttemptsRemaining)
		assert.Equal(t, ReauthEntering, r.State())
		assert.Equal(t, 0, r.Digits())
	}

	st, err := enterPIN(t, r, "0000")
	assert.Equal(t, ReauthLocked, st)
	var lErr *core.LockoutError
	require.True(t, errors.As(err, &lErr), "err = %v", err)
	assert.Equal(t, LockDuration, lErr.Remaining)

	locked, err := r.IsLocked(context.Background())
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestReauthenticator_LockedRejectsCorrectPIN(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	env.enrollPIN(t, "4821")
	r := startReauth(t, env)
	for i := 0; i < MaxPINAttempts; i++ {
		_, _ = enterPIN(t, r, "1111")
	}
	require.Equal(t, ReauthLocked, r.State())
	verifies := env.codec.verifyCalls()
	before := env.lockout(t)

	env.clock.Advance(LockDuration - time.Second)
	st, err := r.PressDigit(ctx, '4')
	assert.Equal(t, ReauthLocked, st)
	var lErr *core.LockoutError
	require.True(t, errors.As(err, &lErr), "err = %v", err)
	assert.Equal(t, time.Second, lErr.Remaining)

	// a fresh pad on the next cold start is locked too, and never hashes
	r2 := startReauth(t, env)
	assert.Equal(t, ReauthLocked, r2.State())
	_, err = r2.PressDigit(ctx, '4')
	assert.True(t, core.IsLockout(err))

	assert.Equal(t, verifies, env.codec.verifyCalls(), "no PIN check while locked")
	assert.Equal(t, before, env.lockout(t), "attempt count frozen while locked")
}

func TestReauthenticator_LockExpires(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	env.enrollPIN(t, "4821")
	r := startReauth(t, env)
	for i := 0; i < MaxPINAttempts; i++ {
		_, _ = enterPIN(t, r, "2222")
	}

	env.clock.Advance(LockDuration)
	locked, err := r.IsLocked(ctx)
	require.NoError(t, err)
	assert.False(t, locked)
	assert.Equal(t, ReauthEntering, r.State())
	assert.Equal(t, LockoutState{}, env.lockout(t), "expired lock is cleared lazily")

	st, err := enterPIN(t, r, "4821")
	require.NoError(t, err)
	assert.Equal(t, ReauthAccepted, st)
}

func TestReauthenticator_LockExpiresOnKeypress(t *testing.T) {
	env := setup(t)
	env.enrollPIN(t, "4821")
	r := startReauth(t, env)
	for i := 0; i < MaxPINAttempts; i++ {
		_, _ = enterPIN(t, r, "3333")
	}

	env.clock.Advance(LockDuration + time.Minute)
	st, err := enterPIN(t, r, "4821")
	require.NoError(t, err)
	assert.Equal(t, ReauthAccepted, st)
	assert.Equal(t, LockoutState{}, env.lockout(t))
}

func TestReauthenticator_Keypad(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	env.enrollPIN(t, "4821")
	r := startReauth(t, env)

	st, err := r.PressDigit(ctx, 'x')
	assert.True(t, core.IsValidation(err))
	assert.Equal(t, ReauthEntering, st)

	for _, d := range "482" {
		_, err := r.PressDigit(ctx, d)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, r.Digits())
	r.Backspace()
	r.Backspace()
	assert.Equal(t, 1, r.Digits())

	r.Abandon()
	assert.Equal(t, 0, r.Digits())
	assert.Equal(t, ReauthIdle, r.State())
	assert.Equal(t, LockoutState{}, env.lockout(t), "abandoning persists nothing")
	assert.Equal(t, 0, env.codec.verifyCalls())

	_, err = r.PressDigit(ctx, '4')
	assert.Equal(t, ErrWrongStage, err)
	_, err = r.Start(ctx)
	require.NoError(t, err)
	st, err = enterPIN(t, r, "4821")
	require.NoError(t, err)
	assert.Equal(t, ReauthAccepted, st)
}

func TestReauthenticator_Biometric(t *testing.T) {
	ctx := context.Background()

	enroll := func(t *testing.T, bridge *fakeBridge) *testEnv {
		env := setup(t, withBridge(bridge))
		env.login(t)
		e := newEnrollment(t, env, false)
		bridge.ok = true
		require.NoError(t, e.ChooseBiometric(ctx))
		require.NoError(t, e.EnterPIN(ctx, "4821"))
		require.NoError(t, e.EnterPIN(ctx, "4821"))
		return env
	}

	t.Run("success bypasses the PIN", func(t *testing.T) {
		bridge := &fakeBridge{}
		env := enroll(t, bridge)
		// even a locked PIN does not block the sensor
		env.store.put(KeyAttemptCount, "5")
		env.store.put(KeyLockedUntil, env.clock.Now().Add(2*time.Hour).Format(time.RFC3339Nano))
		env.clock.Advance(time.Hour)

		r, err := env.mgr.NewReauthenticator(ctx)
		require.NoError(t, err)
		st, err := r.Start(ctx)
		require.NoError(t, err)
		assert.Equal(t, ReauthAccepted, st)
		assert.Equal(t, 2, bridge.calls)
		assert.Equal(t, 0, env.codec.verifyCalls(), "the PIN codec is never consulted")

		sess, err := env.mgr.CurrentSession(ctx)
		require.NoError(t, err)
		assert.Equal(t, env.clock.Now(), sess.LastAuthenticatedAt)
	})

	t.Run("failure falls back to the PIN pad", func(t *testing.T) {
		bridge := &fakeBridge{}
		env := enroll(t, bridge)
		bridge.ok = false

		r, err := env.mgr.NewReauthenticator(ctx)
		require.NoError(t, err)
		st, err := r.Start(ctx)
		require.NoError(t, err)
		assert.Equal(t, ReauthEntering, st)
		assert.Equal(t, 2, bridge.calls, "one automatic prompt only")

		st, err = enterPIN(t, r, "4821")
		require.NoError(t, err)
		assert.Equal(t, ReauthAccepted, st)
		assert.Equal(t, 2, bridge.calls)
	})
}

func TestReauthenticator_ForgotPIN(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	env.enrollPIN(t, "4821")
	r, err := env.mgr.NewReauthenticator(ctx)
	require.NoError(t, err)

	_, err = r.ForgotPIN(ctx)
	assert.Equal(t, ErrWrongStage, err, "not before the pad is shown")

	_, err = r.Start(ctx)
	require.NoError(t, err)
	for i := 0; i < MaxPINAttempts; i++ {
		_, _ = enterPIN(t, r, "9999")
	}
	require.Equal(t, ReauthLocked, r.State())

	a, err := r.ForgotPIN(ctx)
	require.NoError(t, err)
	assert.True(t, a.IsReset())
	assert.Equal(t, testPhone, a.Phone())

	require.NoError(t, a.RequestOTP(ctx, a.Phone()))
	next, err := a.VerifyOTP(ctx, testCode)
	require.NoError(t, err)
	require.Equal(t, NextPINReEnrollment, next)

	e := newEnrollment(t, env, true)
	require.NoError(t, e.EnterPIN(ctx, "2580"))
	require.NoError(t, e.EnterPIN(ctx, "2580"))
	assert.Equal(t, LockoutState{}, env.lockout(t), "a new PIN lifts the lock")

	r2 := startReauth(t, env)
	st, err := enterPIN(t, r2, "2580")
	require.NoError(t, err)
	assert.Equal(t, ReauthAccepted, st)
}

// Concurrent wrong PINs must all be counted.
func TestReauthenticator_ConcurrentChecks(t *testing.T) {
	env := setup(t)
	env.enrollPIN(t, "4821")

	const pads = MaxPINAttempts - 1
	var wg sync.WaitGroup
	errs := make(chan error, pads)
	for i := 0; i < pads; i++ {
		r := startReauth(t, env)
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			for _, d := range "0000" {
				_, err = r.PressDigit(context.Background(), d)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	remaining := map[int]bool{}
	for err := range errs {
		var wErr *WrongPINError
		require.True(t, errors.As(err, &wErr), "err = %v", err)
		remaining[wErr.AttemptsRemaining] = true
	}
	assert.Len(t, remaining, pads, "each check saw a distinct count")
	assert.Equal(t, pads, env.lockout(t).AttemptCount)
}

// Package authgate is the device-local gate in front of the backend bearer token:
// it picks the first screen on a cold start, runs the OTP login, enrolls a PIN or
// biometric quick login and re-authenticates with it under a lockout policy.
package authgate

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-authgate/core"
)

var (
	// errors
	ErrNoSession               = errors.New("not logged in")
	ErrNoPhoneNumber           = errors.New("no phone number on record")
	ErrQuickLoginNotConfigured = errors.New("quick login is not configured")
	ErrWrongStage              = errors.New("operation not allowed at this stage")
	ErrSuperseded              = errors.New("response superseded by a newer request")
	ErrBiometricUnavailable    = errors.New("biometric authentication is not available on this device")
	ErrBiometricFailed         = errors.New("biometric authentication failed")
	ErrPINMismatch             = errors.New("PINs do not match")
)

const biometricPrompt = "Confirm your identity to open Masomo"

// BiometricBridge invokes the platform biometric prompt.
type BiometricBridge interface {
	Authenticate(ctx context.Context, prompt string) (bool, error)
}

// PushTokenProvider supplies the device push-registration token. Best effort.
type PushTokenProvider interface {
	PushToken(ctx context.Context) (string, error)
}

type Deps struct {
	Conf   core.AuthConfig
	Logger core.Logger
	Store  SecureStore
	Codec  PINCodec
	OTP    OTPBackend

	// optional
	Biometric BiometricBridge
	Push      PushTokenProvider
	Now       func() time.Time
}

// Manager owns the persisted gate state and hands out the per-screen flows.
// credMu serializes every read-check-write on the credential and lockout records.
type Manager struct {
	conf      core.AuthConfig
	logger    core.Logger
	vault     vault
	codec     PINCodec
	otp       OTPBackend
	biometric BiometricBridge
	push      PushTokenProvider
	nowFunc   func() time.Time

	credMu sync.Mutex
}

const (
	defaultSessionMaxAge = 30 * 24 * time.Hour
	defaultOTPTimeout    = 15 * time.Second
)

func NewManager(deps Deps) (*Manager, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("invalid dependencies: nil Logger")
	case deps.Store == nil:
		return nil, errors.New("invalid dependencies: nil Store")
	case deps.Codec == nil:
		return nil, errors.New("invalid dependencies: nil Codec")
	case deps.OTP == nil:
		return nil, errors.New("invalid dependencies: nil OTP")
	}

	conf := deps.Conf
	if conf.SessionMaxAge <= 0 {
		conf.SessionMaxAge = defaultSessionMaxAge
	}
	if conf.OTPTimeout <= 0 {
		conf.OTPTimeout = defaultOTPTimeout
	}
	if conf.DefaultCountryCode == "" {
		conf.DefaultCountryCode = "91"
	}
	nowFunc := deps.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &Manager{
		conf:      conf,
		logger:    deps.Logger,
		vault:     vault{store: deps.Store},
		codec:     deps.Codec,
		otp:       deps.OTP,
		biometric: deps.Biometric,
		push:      deps.Push,
		nowFunc:   nowFunc,
	}, nil
}

func (m *Manager) now() time.Time { return m.nowFunc().UTC() }

// BiometricAvailable reports whether a biometric bridge is wired.
func (m *Manager) BiometricAvailable() bool { return m.biometric != nil }

// CurrentSession returns the cached session, ErrNoSession when logged out.
func (m *Manager) CurrentSession(ctx context.Context) (Session, error) {
	sess, ok, err := m.vault.readSession(ctx)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, ErrNoSession
	}
	return sess, nil
}

// Credential returns the quick login configuration.
func (m *Manager) Credential(ctx context.Context) (QuickLoginCredential, error) {
	return m.vault.readCredential(ctx)
}

// IsQuickLoginConfigured reports whether the enrollment wizard was completed.
// Storage failures read as "not configured".
func (m *Manager) IsQuickLoginConfigured(ctx context.Context) bool {
	cred, err := m.vault.readCredential(ctx)
	if err != nil {
		m.logger.Warn("reading quick login credential", err)
		return false
	}
	return cred.Configured()
}

// Logout clears every persisted key: session, credential, lockout and phone.
func (m *Manager) Logout(ctx context.Context) error {
	m.credMu.Lock()
	defer m.credMu.Unlock()

	if err := m.vault.clearAll(ctx); err != nil {
		return errors.Wrap(err, "logging out")
	}
	m.logger.Info("logged out")
	return nil
}

// IsLocked evaluates the lockout state, clearing an expired lock on the way.
func (m *Manager) IsLocked(ctx context.Context) (bool, time.Duration, error) {
	m.credMu.Lock()
	defer m.credMu.Unlock()

	now := m.now()
	dec, err := m.evaluateLockoutLocked(ctx, now)
	if err != nil {
		return true, 0, err
	}
	return !dec.Permitted, dec.Remaining(now), nil
}

// evaluateLockoutLocked reads and evaluates the lockout state, persisting the
// effective state when it differs (expired or corrupt lock). credMu must be held.
func (m *Manager) evaluateLockoutLocked(ctx context.Context, now time.Time) (LockoutDecision, error) {
	st, err := m.vault.readLockout(ctx)
	if err != nil {
		return LockoutDecision{}, err
	}
	dec := EvaluateLockout(st, now)
	if dec.State != st {
		if err := m.vault.writeLockout(ctx, dec.State); err != nil {
			return LockoutDecision{}, err
		}
		if dec.Permitted {
			m.logger.Info("PIN lock expired")
		}
	}
	return dec, nil
}

// StartPINReset begins the "forgot PIN" flow: an OTP login on the stored phone
// number that leads back into PIN enrollment.
func (m *Manager) StartPINReset(ctx context.Context) (*OTPAuthenticator, error) {
	phone, err := m.vault.readPhone(ctx)
	if err != nil {
		return nil, err
	}
	if phone == "" {
		return nil, ErrNoPhoneNumber
	}
	a := m.NewOTPAuthenticator()
	a.reset = true
	a.phone = phone
	return a, nil
}

// expireLocked wipes the session and quick login state. credMu must be held.
func (m *Manager) expireLocked(ctx context.Context, reason string) {
	if err := m.vault.clearAll(ctx); err != nil {
		m.logger.Error("clearing expired session", err)
		return
	}
	m.logger.Info("session cleared: " + reason)
}

func (m *Manager) requireSession(ctx context.Context) error {
	ok, err := m.vault.hasToken(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoSession
	}
	return nil
}

func (m *Manager) pushToken(ctx context.Context) string {
	if m.push == nil {
		return ""
	}
	token, err := m.push.PushToken(ctx)
	if err != nil {
		m.logger.Warn("push token unavailable", err)
		return ""
	}
	return token
}

package authgate

import (
	"context"
	"crypto/subtle"
	"sync"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-authgate/core"
)

// Enrollment stages
const (
	StageChoose EnrollStage = iota
	StagePINCreate
	StagePINConfirm
	StageBiometricOffer
	StageDone
)

type EnrollStage int

func (s EnrollStage) String() string {
	switch s {
	case StagePINCreate:
		return "PinCreate"
	case StagePINConfirm:
		return "PinConfirm"
	case StageBiometricOffer:
		return "BiometricOffer"
	case StageDone:
		return "Done"
	default:
		return "Choose"
	}
}

// Enrollment is the quick login wizard run after a fresh OTP login.
// When it reaches Done exactly one of otp_only, pin or biometric is the active method.
// Biometric is additive: it always ends with a confirmed PIN as the recovery path.
type Enrollment struct {
	m     *Manager
	reset bool

	mu               sync.Mutex
	stage            EnrollStage
	firstPIN         string
	biometricPending bool
	method           Method
}

// NewEnrollment starts the wizard. The reset flow (forgotten PIN) starts directly at
// PIN creation and keeps a previously enabled biometric method.
func (m *Manager) NewEnrollment(ctx context.Context, reset bool) (*Enrollment, error) {
	if err := m.requireSession(ctx); err != nil {
		return nil, err
	}
	e := &Enrollment{m: m, reset: reset, method: MethodNone}
	if reset {
		e.stage = StagePINCreate
		cred, err := m.vault.readCredential(ctx)
		if err != nil {
			m.logger.Warn("enrollment: reading quick login credential", err)
		} else if cred.BiometricEnabled && m.BiometricAvailable() {
			e.biometricPending = true
		}
	}
	return e, nil
}

func (e *Enrollment) Stage() EnrollStage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stage
}

// BiometricPending reports whether biometric will be enabled once the PIN is confirmed.
func (e *Enrollment) BiometricPending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.biometricPending
}

// Method is the persisted method, MethodNone until the wizard is Done.
func (e *Enrollment) Method() Method {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.method
}

// Skip opts out of quick login: every cold start goes home on the session alone.
func (e *Enrollment) Skip(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stage != StageChoose {
		return ErrWrongStage
	}
	if err := e.m.saveCredential(ctx, QuickLoginCredential{Method: MethodOTPOnly}, false); err != nil {
		return err
	}
	e.finishLocked(MethodOTPOnly)
	return nil
}

func (e *Enrollment) ChoosePIN() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stage != StageChoose {
		return ErrWrongStage
	}
	e.stage = StagePINCreate
	return nil
}

// ChooseBiometric asserts the biometric sensor once. Either way the user continues
// to PIN creation: on success biometric is enabled with the PIN.
func (e *Enrollment) ChooseBiometric(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stage != StageChoose {
		return ErrWrongStage
	}
	if !e.m.BiometricAvailable() {
		return ErrBiometricUnavailable
	}

	e.stage = StagePINCreate
	if err := e.m.assertBiometric(ctx); err != nil {
		e.biometricPending = false
		return err
	}
	e.biometricPending = true
	return nil
}

// EnterPIN takes the PIN at PinCreate, then its confirmation at PinConfirm.
// A mismatch discards both entries and goes back to PinCreate.
func (e *Enrollment) EnterPIN(ctx context.Context, pin string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.stage {
	case StagePINCreate:
		if err := validatePIN(pin); err != nil {
			return err
		}
		e.firstPIN = pin
		e.stage = StagePINConfirm
		return nil

	case StagePINConfirm:
		if err := validatePIN(pin); err != nil {
			return err
		}
		first := e.firstPIN
		e.firstPIN = ""
		if subtle.ConstantTimeCompare([]byte(first), []byte(pin)) != 1 {
			e.stage = StagePINCreate
			return core.NewValidationError(ErrPINMismatch, core.FieldError{Field: "pin", Error: ErrPINMismatch.Error()})
		}

		hash, err := e.m.codec.Hash(pin)
		if err != nil {
			e.stage = StagePINCreate
			return errors.Wrap(err, "hashing PIN")
		}
		cred := QuickLoginCredential{Method: MethodPIN, PinHash: null.StringFrom(hash)}
		if e.biometricPending {
			cred.Method = MethodBiometric
			cred.BiometricEnabled = true
		}
		if err := e.m.saveCredential(ctx, cred, true); err != nil {
			e.stage = StagePINCreate
			return err
		}

		if cred.Method == MethodPIN && e.m.BiometricAvailable() {
			e.method = MethodPIN
			e.stage = StageBiometricOffer
			return nil
		}
		e.finishLocked(cred.Method)
		return nil
	}
	return ErrWrongStage
}

// AcceptBiometric enables biometric on top of the confirmed PIN. A failed assertion
// keeps the PIN method and ends the wizard.
func (e *Enrollment) AcceptBiometric(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stage != StageBiometricOffer {
		return ErrWrongStage
	}

	if err := e.m.assertBiometric(ctx); err != nil {
		e.finishLocked(MethodPIN)
		return err
	}
	if err := e.m.enableBiometric(ctx); err != nil {
		return err
	}
	e.finishLocked(MethodBiometric)
	return nil
}

func (e *Enrollment) DeclineBiometric() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stage != StageBiometricOffer {
		return ErrWrongStage
	}
	e.finishLocked(MethodPIN)
	return nil
}

func (e *Enrollment) finishLocked(method Method) {
	e.method = method
	e.stage = StageDone
	e.biometricPending = false
	e.m.logger.Info("quick login enrolled: " + string(method))
}

// saveCredential persists the credential, resetting the lockout along with a new PIN.
// A failed write puts the previous credential and lockout back, so a PIN the user
// was told did not save never verifies.
func (m *Manager) saveCredential(ctx context.Context, cred QuickLoginCredential, resetLockout bool) error {
	m.credMu.Lock()
	defer m.credMu.Unlock()

	prevCred, err := m.vault.readCredential(ctx)
	if err != nil {
		return err
	}
	prevLockout, err := m.vault.readLockout(ctx)
	if err != nil {
		return err
	}

	if resetLockout {
		if err := m.vault.writeLockout(ctx, RegisterSuccess()); err != nil {
			m.restoreLocked(ctx, prevCred, prevLockout)
			return errors.Wrap(err, "resetting lockout")
		}
	}
	if err := m.vault.writeCredential(ctx, cred); err != nil {
		m.restoreLocked(ctx, prevCred, prevLockout)
		return errors.Wrap(err, "saving quick login credential")
	}
	return nil
}

// restoreLocked writes back a credential and lockout snapshot. m.credMu must be held.
func (m *Manager) restoreLocked(ctx context.Context, cred QuickLoginCredential, st LockoutState) {
	if err := m.vault.restoreCredential(ctx, cred); err != nil {
		m.logger.Error("restoring quick login credential", err)
	}
	if err := m.vault.writeLockout(ctx, st); err != nil {
		m.logger.Error("restoring lockout", err)
	}
}

func (m *Manager) enableBiometric(ctx context.Context) error {
	m.credMu.Lock()
	defer m.credMu.Unlock()

	cred, err := m.vault.readCredential(ctx)
	if err != nil {
		return err
	}
	if !cred.PinHash.Valid {
		return ErrQuickLoginNotConfigured
	}
	cred.Method = MethodBiometric
	cred.BiometricEnabled = true
	return errors.Wrap(m.vault.writeCredential(ctx, cred), "enabling biometric")
}

// assertBiometric runs one biometric prompt; any failure is ErrBiometricFailed.
func (m *Manager) assertBiometric(ctx context.Context) error {
	if m.biometric == nil {
		return ErrBiometricUnavailable
	}
	ok, err := m.biometric.Authenticate(ctx, biometricPrompt)
	if err != nil {
		m.logger.Warn("biometric prompt failed", err)
		return errors.Wrap(ErrBiometricFailed, err.Error())
	}
	if !ok {
		return ErrBiometricFailed
	}
	return nil
}

package authgate

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-authgate/core"
)

// ErrKeyNotFound is returned by SecureStore.Get when the key holds no value.
var ErrKeyNotFound = errors.New("key not found")

// SecureStore is the device-scoped persistent key/value store.
// It is opened once at process start and exclusively owned by this package's keys.
type SecureStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// Remove deletes the keys; missing keys are not an error.
	Remove(ctx context.Context, keys ...string) error
	Close() error
}

// Persisted keys
const (
	KeySessionToken        = "session.token"
	KeySessionRole         = "session.role"
	KeySessionProfile      = "session.profile"
	KeyLastAuthenticatedAt = "session.lastAuthenticatedAt"
	KeyMethod              = "quickLogin.method"
	KeyPinHash             = "quickLogin.pinHash"
	KeyBiometricEnabled    = "quickLogin.biometricEnabled"
	KeyAttemptCount        = "lockout.attemptCount"
	KeyLockedUntil         = "lockout.lockedUntil"
	KeyPhoneNumber         = "contact.phoneNumber"
)

// AllKeys lists every key owned by the gate; Logout removes all of them.
var AllKeys = []string{
	KeySessionToken,
	KeySessionRole,
	KeySessionProfile,
	KeyLastAuthenticatedAt,
	KeyMethod,
	KeyPinHash,
	KeyBiometricEnabled,
	KeyAttemptCount,
	KeyLockedUntil,
	KeyPhoneNumber,
}

// vault reads and writes typed records on top of a SecureStore.
// Every failure is reported as a *core.StorageError.
type vault struct {
	store SecureStore
}

func (v vault) get(ctx context.Context, key string) (string, bool, error) {
	val, err := v.store.Get(ctx, key)
	if err != nil {
		if errors.Cause(err) == ErrKeyNotFound {
			return "", false, nil
		}
		return "", false, core.NewStorageError("get", key, err)
	}
	return val, true, nil
}

func (v vault) set(ctx context.Context, key, value string) error {
	if err := v.store.Set(ctx, key, value); err != nil {
		return core.NewStorageError("set", key, err)
	}
	return nil
}

func (v vault) remove(ctx context.Context, keys ...string) error {
	if err := v.store.Remove(ctx, keys...); err != nil {
		return core.NewStorageError("remove", "", err)
	}
	return nil
}

func (v vault) getTime(ctx context.Context, key string) (null.Time, error) {
	val, ok, err := v.get(ctx, key)
	if err != nil || !ok {
		return null.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return null.Time{}, core.NewStorageError("decode", key, err)
	}
	return null.TimeFrom(t.UTC()), nil
}

func (v vault) setTime(ctx context.Context, key string, t time.Time) error {
	return v.set(ctx, key, t.UTC().Format(time.RFC3339Nano))
}

// hasToken reports whether a session exists.
func (v vault) hasToken(ctx context.Context) (bool, error) {
	val, ok, err := v.get(ctx, KeySessionToken)
	return ok && val != "", err
}

// readSession returns the session; ok is false when logged out.
func (v vault) readSession(ctx context.Context) (sess Session, ok bool, err error) {
	token, ok, err := v.get(ctx, KeySessionToken)
	if err != nil || !ok || token == "" {
		return Session{}, false, err
	}
	sess.BearerToken = token

	role, _, err := v.get(ctx, KeySessionRole)
	if err != nil {
		return Session{}, false, err
	}
	sess.Role = ParseRole(role)

	profile, found, err := v.get(ctx, KeySessionProfile)
	if err != nil {
		return Session{}, false, err
	}
	if found && profile != "" {
		if !json.Valid([]byte(profile)) {
			return Session{}, false, core.NewStorageError("decode", KeySessionProfile, errors.New("invalid json"))
		}
		sess.Profile = json.RawMessage(profile)
	}

	if sess.PhoneNumber, _, err = v.get(ctx, KeyPhoneNumber); err != nil {
		return Session{}, false, err
	}

	// an undecodable timestamp reads as missing: the session is treated as expired
	lastAuth, err := v.getTime(ctx, KeyLastAuthenticatedAt)
	var sErr *core.StorageError
	if errors.As(err, &sErr) && sErr.Op == "decode" {
		lastAuth, err = null.Time{}, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	sess.LastAuthenticatedAt = lastAuth.Time
	return sess, true, nil
}

// writeSession persists the session, the bearer token last:
// a failed write never leaves a token without its session data.
func (v vault) writeSession(ctx context.Context, sess Session) error {
	profile := "null"
	if len(sess.Profile) > 0 {
		profile = string(sess.Profile)
	}
	if err := v.set(ctx, KeySessionProfile, profile); err != nil {
		return err
	}
	if err := v.set(ctx, KeySessionRole, string(sess.Role)); err != nil {
		return err
	}
	if err := v.set(ctx, KeyPhoneNumber, sess.PhoneNumber); err != nil {
		return err
	}
	if err := v.setTime(ctx, KeyLastAuthenticatedAt, sess.LastAuthenticatedAt); err != nil {
		return err
	}
	return v.set(ctx, KeySessionToken, sess.BearerToken)
}

func (v vault) touch(ctx context.Context, now time.Time) error {
	return v.setTime(ctx, KeyLastAuthenticatedAt, now)
}

func (v vault) readPhone(ctx context.Context) (string, error) {
	phone, _, err := v.get(ctx, KeyPhoneNumber)
	return phone, err
}

func (v vault) readCredential(ctx context.Context) (QuickLoginCredential, error) {
	cred := QuickLoginCredential{Method: MethodNone}

	method, ok, err := v.get(ctx, KeyMethod)
	if err != nil {
		return cred, err
	}
	if ok {
		cred.Method = Method(method)
		if !cred.Method.valid() {
			return cred, core.NewStorageError("decode", KeyMethod, errors.Errorf("unknown method %q", method))
		}
	}

	hash, ok, err := v.get(ctx, KeyPinHash)
	if err != nil {
		return cred, err
	}
	if ok && hash != "" {
		cred.PinHash = null.StringFrom(hash)
	}

	bio, ok, err := v.get(ctx, KeyBiometricEnabled)
	if err != nil {
		return cred, err
	}
	if ok {
		cred.BiometricEnabled, _ = strconv.ParseBool(bio)
	}
	return cred, nil
}

// writeCredential persists the credential, the method last.
func (v vault) writeCredential(ctx context.Context, cred QuickLoginCredential) error {
	if cred.PinHash.Valid {
		if err := v.set(ctx, KeyPinHash, cred.PinHash.String); err != nil {
			return err
		}
	} else if err := v.remove(ctx, KeyPinHash); err != nil {
		return err
	}
	if err := v.set(ctx, KeyBiometricEnabled, strconv.FormatBool(cred.BiometricEnabled)); err != nil {
		return err
	}
	return v.set(ctx, KeyMethod, string(cred.Method))
}

// restoreCredential writes back a credential snapshot. Unlike writeCredential it
// removes the method key when the snapshot had none.
func (v vault) restoreCredential(ctx context.Context, cred QuickLoginCredential) error {
	if cred.PinHash.Valid {
		if err := v.set(ctx, KeyPinHash, cred.PinHash.String); err != nil {
			return err
		}
	} else if err := v.remove(ctx, KeyPinHash); err != nil {
		return err
	}
	if err := v.set(ctx, KeyBiometricEnabled, strconv.FormatBool(cred.BiometricEnabled)); err != nil {
		return err
	}
	if cred.Method == MethodNone || cred.Method == "" {
		return v.remove(ctx, KeyMethod)
	}
	return v.set(ctx, KeyMethod, string(cred.Method))
}

func (v vault) readLockout(ctx context.Context) (LockoutState, error) {
	var st LockoutState
	count, ok, err := v.get(ctx, KeyAttemptCount)
	if err != nil {
		return st, err
	}
	if ok {
		if st.AttemptCount, err = strconv.Atoi(count); err != nil || st.AttemptCount < 0 {
			return st, core.NewStorageError("decode", KeyAttemptCount, errors.Errorf("invalid count %q", count))
		}
	}
	st.LockedUntil, err = v.getTime(ctx, KeyLockedUntil)
	return st, err
}

func (v vault) writeLockout(ctx context.Context, st LockoutState) error {
	if st.LockedUntil.Valid {
		if err := v.setTime(ctx, KeyLockedUntil, st.LockedUntil.Time); err != nil {
			return err
		}
	} else if err := v.remove(ctx, KeyLockedUntil); err != nil {
		return err
	}
	return v.set(ctx, KeyAttemptCount, strconv.Itoa(st.AttemptCount))
}

func (v vault) clearAll(ctx context.Context) error {
	return v.remove(ctx, AllKeys...)
}

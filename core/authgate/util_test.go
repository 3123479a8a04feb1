package authgate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/trezcool/masomo-authgate/core"
)

var (
	errBoom  = errors.New("boom")
	testPast = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memStore is a map-backed SecureStore with failure injection.
type memStore struct {
	mu      sync.Mutex
	data    map[string]string
	failGet map[string]error
	failSet map[string]error
}

func newMemStore() *memStore {
	return &memStore{data: map[string]string{}, failGet: map[string]error{}, failSet: map[string]error{}}
}

func (s *memStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failGet[key]; err != nil {
		return "", err
	}
	val, ok := s.data[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return val, nil
}

func (s *memStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failSet[key]; err != nil {
		return err
	}
	s.data[key] = value
	return nil
}

func (s *memStore) Remove(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) value(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.data[key]
	return val, ok
}

func (s *memStore) put(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// spyCodec counts calls to a real legacy codec.
type spyCodec struct {
	mu               sync.Mutex
	inner            PINCodec
	hashes, verifies int
}

func newSpyCodec(t *testing.T) *spyCodec {
	inner, err := NewPINCodec(SchemeSHA256, Argon2Params{}, "")
	if err != nil {
		t.Fatalf("NewPINCodec() failed: %v", err)
	}
	return &spyCodec{inner: inner}
}

func (c *spyCodec) Hash(pin string) (string, error) {
	c.mu.Lock()
	c.hashes++
	c.mu.Unlock()
	return c.inner.Hash(pin)
}

func (c *spyCodec) Verify(pin, digest string) bool {
	c.mu.Lock()
	c.verifies++
	c.mu.Unlock()
	return c.inner.Verify(pin, digest)
}

func (c *spyCodec) verifyCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verifies
}

// fakeBackend answers like the dev OTP server: one registered teacher, code 123456.
type fakeBackend struct {
	mu       sync.Mutex
	sendFn   func(ctx context.Context, req SendOTPRequest) (SendOTPResponse, error)
	verifyFn func(ctx context.Context, req VerifyOTPRequest) (VerifyOTPResponse, error)
	sends    []SendOTPRequest
	verifies []VerifyOTPRequest
}

const (
	testPhone   = "+919876543210"
	testCode    = "123456"
	testToken   = "bearer-token"
	testProfile = `{"name":"Demo Teacher"}`
)

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		sendFn: func(_ context.Context, req SendOTPRequest) (SendOTPResponse, error) {
			if req.PhoneNumber != testPhone {
				return SendOTPResponse{}, &core.NetworkError{
					Op: "send-otp", Reason: "this phone number is not registered", StatusCode: 404, NotRegistered: true,
				}
			}
			return SendOTPResponse{Accepted: true, UserRole: "teacher"}, nil
		},
		verifyFn: func(_ context.Context, req VerifyOTPRequest) (VerifyOTPResponse, error) {
			if req.Code != testCode {
				return VerifyOTPResponse{}, &core.NetworkError{Op: "verify-otp", Reason: "invalid code", StatusCode: 401}
			}
			return VerifyOTPResponse{Token: testToken, UserRole: "teacher", Profile: []byte(testProfile)}, nil
		},
	}
}

func (b *fakeBackend) SendOTP(ctx context.Context, req SendOTPRequest) (SendOTPResponse, error) {
	b.mu.Lock()
	b.sends = append(b.sends, req)
	fn := b.sendFn
	b.mu.Unlock()
	return fn(ctx, req)
}

func (b *fakeBackend) VerifyOTP(ctx context.Context, req VerifyOTPRequest) (VerifyOTPResponse, error) {
	b.mu.Lock()
	b.verifies = append(b.verifies, req)
	fn := b.verifyFn
	b.mu.Unlock()
	return fn(ctx, req)
}

func (b *fakeBackend) sendCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sends)
}

type fakeBridge struct {
	mu     sync.Mutex
	ok     bool
	err    error
	calls  int
	prompt string
}

func (b *fakeBridge) Authenticate(_ context.Context, prompt string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	b.prompt = prompt
	return b.ok, b.err
}

type staticPush string

func (p staticPush) PushToken(context.Context) (string, error) {
	if p == "" {
		return "", errBoom
	}
	return string(p), nil
}

type testEnv struct {
	mgr     *Manager
	store   *memStore
	clock   *fakeClock
	codec   *spyCodec
	backend *fakeBackend
	bridge  *fakeBridge
}

type option func(*Deps)

func withBridge(b *fakeBridge) option { return func(d *Deps) { d.Biometric = b } }

func withPush(token string) option { return func(d *Deps) { d.Push = staticPush(token) } }

func withTimeout(timeout time.Duration) option {
	return func(d *Deps) { d.Conf.OTPTimeout = timeout }
}

func setup(t *testing.T, opts ...option) *testEnv {
	env := &testEnv{
		store:   newMemStore(),
		clock:   &fakeClock{now: testPast},
		codec:   newSpyCodec(t),
		backend: newFakeBackend(),
	}
	deps := Deps{
		Conf: core.AuthConfig{
			SessionMaxAge:      30 * 24 * time.Hour,
			OTPTimeout:         time.Second,
			DefaultCountryCode: "91",
			DeviceType:         "test",
		},
		Logger: nopLogger{},
		Store:  env.store,
		Codec:  env.codec,
		OTP:    env.backend,
		Now:    env.clock.Now,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	if b, ok := deps.Biometric.(*fakeBridge); ok {
		env.bridge = b
	}

	mgr, err := NewManager(deps)
	if err != nil {
		t.Fatalf("NewManager() failed: %v", err)
	}
	env.mgr = mgr
	return env
}

// login runs a full OTP login for the registered test phone.
func (env *testEnv) login(t *testing.T) NextStep {
	t.Helper()
	ctx := context.Background()
	a := env.mgr.NewOTPAuthenticator()
	if err := a.RequestOTP(ctx, "9876543210"); err != nil {
		t.Fatalf("RequestOTP() failed: %v", err)
	}
	next, err := a.VerifyOTP(ctx, testCode)
	if err != nil {
		t.Fatalf("VerifyOTP() failed: %v", err)
	}
	return next
}

// enrollPIN logs in and sets `pin` through the wizard.
func (env *testEnv) enrollPIN(t *testing.T, pin string) {
	t.Helper()
	ctx := context.Background()
	env.login(t)
	e, err := env.mgr.NewEnrollment(ctx, false)
	if err != nil {
		t.Fatalf("NewEnrollment() failed: %v", err)
	}
	if err := e.ChoosePIN(); err != nil {
		t.Fatalf("ChoosePIN() failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := e.EnterPIN(ctx, pin); err != nil {
			t.Fatalf("EnterPIN() failed: %v", err)
		}
	}
	if e.Stage() == StageBiometricOffer {
		if err := e.DeclineBiometric(); err != nil {
			t.Fatalf("DeclineBiometric() failed: %v", err)
		}
	}
}

// enterPIN presses the 4 digits of `pin`, returning the outcome of the last one.
func enterPIN(t *testing.T, r *Reauthenticator, pin string) (ReauthState, error) {
	t.Helper()
	var (
		st  ReauthState
		err error
	)
	for i, d := range pin {
		st, err = r.PressDigit(context.Background(), d)
		if i < len(pin)-1 && err != nil {
			t.Fatalf("PressDigit(%q) failed: %v", d, err)
		}
	}
	return st, err
}

func (env *testEnv) lockout(t *testing.T) LockoutState {
	t.Helper()
	st, err := env.mgr.vault.readLockout(context.Background())
	if err != nil {
		t.Fatalf("readLockout() failed: %v", err)
	}
	return st
}

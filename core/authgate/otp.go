package authgate

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-authgate/core"
)

// Backend error codes
const (
	CodeNotRegistered = "not_registered"
	CodeInvalidCode   = "invalid_code"
	CodeTooMany       = "too_many_requests"
)

type (
	SendOTPRequest struct {
		PhoneNumber string `json:"phoneNumber" validate:"required,phonenum"`
	}

	SendOTPResponse struct {
		Accepted bool   `json:"accepted"`
		UserRole string `json:"userRole"`
	}

	VerifyOTPRequest struct {
		PhoneNumber string `json:"phoneNumber" validate:"required,phonenum"`
		Code        string `json:"code" validate:"required,otpcode"`
		PushToken   string `json:"pushToken,omitempty"`
		DeviceType  string `json:"deviceType"`
	}

	VerifyOTPResponse struct {
		Token    string          `json:"token"`
		UserRole string          `json:"userRole"`
		Profile  json.RawMessage `json:"profile,omitempty"`
	}

	// ErrorResponse is the body of a non-2xx backend response.
	ErrorResponse struct {
		Code    string            `json:"code,omitempty"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields,omitempty"`
	}
)

// OTPBackend issues and verifies one-time passcodes.
// Failures should be *core.NetworkError; anything else is classified by the caller.
type OTPBackend interface {
	SendOTP(ctx context.Context, req SendOTPRequest) (SendOTPResponse, error)
	VerifyOTP(ctx context.Context, req VerifyOTPRequest) (VerifyOTPResponse, error)
}

// OTP login states
const (
	OTPPhoneEntry OTPState = iota
	OTPRequested
	OTPEntry
	OTPVerified
)

type OTPState int

func (s OTPState) String() string {
	switch s {
	case OTPRequested:
		return "OtpRequested"
	case OTPEntry:
		return "OtpEntry"
	case OTPVerified:
		return "Verified"
	default:
		return "PhoneEntry"
	}
}

// NormalizePhone returns the canonical international form of a phone number: "+<cc><digits>".
// A national number (10 digits, or 11 with a trunk 0) gets the default country code.
func NormalizePhone(raw, defaultCC string) (string, error) {
	raw = strings.TrimSpace(raw)
	digits := core.OnlyDigits(raw)

	var canonical string
	switch {
	case strings.HasPrefix(raw, "+"):
		canonical = "+" + digits
	case strings.HasPrefix(digits, "00"):
		canonical = "+" + digits[2:]
	case len(digits) == core.PhoneMinDigits:
		canonical = "+" + defaultCC + digits
	case len(digits) == core.PhoneMinDigits+1 && digits[0] == '0':
		canonical = "+" + defaultCC + digits[1:]
	default:
		canonical = "+" + digits
	}

	if err := core.ValidateStruct(SendOTPRequest{PhoneNumber: canonical}); err != nil {
		return "", err
	}
	return canonical, nil
}

// OTPAuthenticator runs one OTP login, from phone entry to an established session.
// Every backend call carries a generation number: a response that was superseded by
// a newer call (or by Cancel) is discarded with ErrSuperseded.
type OTPAuthenticator struct {
	m     *Manager
	reset bool

	mu       sync.Mutex
	state    OTPState
	phone    string
	userRole Role
	gen      uint64
	cancel   context.CancelFunc
}

func (m *Manager) NewOTPAuthenticator() *OTPAuthenticator {
	return &OTPAuthenticator{m: m}
}

func (a *OTPAuthenticator) State() OTPState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Phone is the canonical phone number of the login (pre-filled in the PIN reset flow).
func (a *OTPAuthenticator) Phone() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phone
}

// IsReset reports whether this login leads back into PIN re-enrollment.
func (a *OTPAuthenticator) IsReset() bool { return a.reset }

// RequestOTP asks the backend to send a code to `phone`. It may be called again from
// OtpEntry to resend, or with another number.
func (a *OTPAuthenticator) RequestOTP(ctx context.Context, phone string) error {
	canonical, err := NormalizePhone(phone, a.m.conf.DefaultCountryCode)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.state == OTPVerified {
		a.mu.Unlock()
		return ErrWrongStage
	}
	a.phone = canonical
	a.state = OTPRequested
	gen, cctx := a.beginLocked(ctx)
	a.mu.Unlock()

	resp, err := a.m.otp.SendOTP(cctx, SendOTPRequest{PhoneNumber: canonical})

	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.gen {
		return ErrSuperseded
	}
	a.endLocked()

	if err != nil {
		a.state = OTPPhoneEntry
		err = classifyBackendError("send-otp", cctx, err)
		a.m.logger.Warn("OTP request failed", err)
		return err
	}
	if !resp.Accepted {
		a.state = OTPPhoneEntry
		return &core.NetworkError{Op: "send-otp", Reason: "the OTP request was not accepted"}
	}
	a.userRole = ParseRole(resp.UserRole)
	a.state = OTPEntry
	return nil
}

// VerifyOTP checks the 6-digit code. On success the session is persisted and the
// next step returned: PIN re-enrollment (reset flow), enrollment (no quick login yet) or home.
func (a *OTPAuthenticator) VerifyOTP(ctx context.Context, code string) (NextStep, error) {
	code = strings.TrimSpace(code)

	a.mu.Lock()
	if a.state != OTPEntry {
		a.mu.Unlock()
		return NextHome, ErrWrongStage
	}
	req := VerifyOTPRequest{
		PhoneNumber: a.phone,
		Code:        code,
		DeviceType:  a.m.conf.DeviceType,
	}
	if err := core.ValidateStruct(req); err != nil {
		a.mu.Unlock()
		return NextHome, err
	}
	gen, cctx := a.beginLocked(ctx)
	a.mu.Unlock()

	req.PushToken = a.m.pushToken(cctx)
	resp, err := a.m.otp.VerifyOTP(cctx, req)

	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.gen {
		return NextHome, ErrSuperseded
	}
	a.endLocked()

	if err != nil {
		err = classifyBackendError("verify-otp", cctx, err)
		a.m.logger.Warn("OTP verification failed", err)
		return NextHome, err
	}
	if resp.Token == "" {
		return NextHome, &core.NetworkError{Op: "verify-otp", Reason: "the server did not return a session token"}
	}

	role := a.userRole
	if resp.UserRole != "" {
		role = ParseRole(resp.UserRole)
	}
	next, err := a.m.establishSession(ctx, Session{
		BearerToken: resp.Token,
		Role:        role,
		Profile:     resp.Profile,
		PhoneNumber: a.phone,
	}, a.reset)
	if err != nil {
		return NextHome, err
	}
	a.state = OTPVerified
	return next, nil
}

// Cancel aborts the in-flight request, if any. Its response will be discarded.
func (a *OTPAuthenticator) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen++
	a.endLocked()
	if a.state == OTPRequested {
		a.state = OTPPhoneEntry
	}
}

// ChangeNumber goes back to phone entry, discarding any pending response.
func (a *OTPAuthenticator) ChangeNumber() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == OTPVerified {
		return
	}
	a.gen++
	a.endLocked()
	a.state = OTPPhoneEntry
}

// beginLocked starts a new generation bounded by the OTP timeout. a.mu must be held.
func (a *OTPAuthenticator) beginLocked(ctx context.Context) (uint64, context.Context) {
	a.endLocked()
	a.gen++
	cctx, cancel := context.WithTimeout(ctx, a.m.conf.OTPTimeout)
	a.cancel = cancel
	return a.gen, cctx
}

func (a *OTPAuthenticator) endLocked() {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}

// establishSession persists a freshly verified session and picks the next step.
func (m *Manager) establishSession(ctx context.Context, sess Session, reset bool) (NextStep, error) {
	m.credMu.Lock()
	defer m.credMu.Unlock()

	sess.LastAuthenticatedAt = m.now()
	if err := m.vault.writeSession(ctx, sess); err != nil {
		return NextHome, errors.Wrap(err, "saving session")
	}
	m.logger.Info("logged in", sess)

	if reset {
		return NextPINReEnrollment, nil
	}
	cred, err := m.vault.readCredential(ctx)
	if err != nil {
		m.logger.Warn("reading quick login credential", err)
		return NextEnrollment, nil
	}
	if cred.Configured() && cred.Consistent() {
		return NextHome, nil
	}
	return NextEnrollment, nil
}

// classifyBackendError turns any backend failure into a *core.NetworkError.
func classifyBackendError(op string, ctx context.Context, err error) error {
	timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)

	var nErr *core.NetworkError
	if errors.As(err, &nErr) {
		if timedOut && !nErr.Timeout {
			cp := *nErr
			cp.Timeout = true
			return &cp
		}
		return nErr
	}
	return &core.NetworkError{Op: op, Timeout: timedOut, Err: err}
}

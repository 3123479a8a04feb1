package authgate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/volatiletech/null/v8"
)

// Roles
const (
	RoleTeacher Role = "teacher"
	RoleOther   Role = "other"
)

// Role drives the role-specific landing screen once the user is home.
type Role string

// ParseRole maps the role reported by the backend onto one of our roles.
func ParseRole(s string) Role {
	if Role(s) == RoleTeacher {
		return RoleTeacher
	}
	return RoleOther
}

// Session is the locally cached bearer token and profile representing "logged in".
type Session struct {
	BearerToken         string          `json:"-"`
	Role                Role            `json:"role"`
	Profile             json.RawMessage `json:"profile,omitempty"`
	PhoneNumber         string          `json:"phone_number"`
	LastAuthenticatedAt time.Time       `json:"last_authenticated_at"` // UTC
}

// String never prints the bearer token.
func (s Session) String() string {
	return fmt.Sprintf("Session{role=%s phone=%s lastAuthenticatedAt=%s}",
		s.Role, s.PhoneNumber, s.LastAuthenticatedAt.Format(time.RFC3339))
}

// Quick login methods
const (
	MethodNone      Method = "none"
	MethodPIN       Method = "pin"
	MethodBiometric Method = "biometric"
	MethodOTPOnly   Method = "otp_only"
)

type Method string

func (m Method) valid() bool {
	switch m {
	case MethodNone, MethodPIN, MethodBiometric, MethodOTPOnly:
		return true
	}
	return false
}

// NeedsPIN reports whether the method is gated by a local secondary factor.
func (m Method) NeedsPIN() bool {
	return m == MethodPIN || m == MethodBiometric
}

// QuickLoginCredential is the local secondary factor configuration.
type QuickLoginCredential struct {
	Method           Method      `json:"method"`
	PinHash          null.String `json:"-"`
	BiometricEnabled bool        `json:"biometric_enabled"`
}

// Configured reports whether the user went through the enrollment wizard.
func (c QuickLoginCredential) Configured() bool {
	return c.Method != "" && c.Method != MethodNone
}

// Consistent checks the credential invariants:
// pin needs a hash; biometric needs the flag and a PIN recovery path.
func (c QuickLoginCredential) Consistent() bool {
	switch c.Method {
	case MethodPIN:
		return c.PinHash.Valid && c.PinHash.String != ""
	case MethodBiometric:
		return c.BiometricEnabled && c.PinHash.Valid && c.PinHash.String != ""
	case MethodNone, MethodOTPOnly, "":
		return true
	}
	return false
}

// LockoutState counts consecutive failed PIN checks.
// AttemptCount and LockedUntil are always reset together.
type LockoutState struct {
	AttemptCount int       `json:"attempt_count"`
	LockedUntil  null.Time `json:"locked_until"`
}

// Route is the first screen shown on a cold start.
type Route int

const (
	RouteLogin Route = iota
	RoutePINEntry
	RouteHome
)

func (r Route) String() string {
	switch r {
	case RoutePINEntry:
		return "PinEntry"
	case RouteHome:
		return "Home"
	default:
		return "Login"
	}
}

// RouteDecision is computed once per cold start; Role is only set for RouteHome.
type RouteDecision struct {
	Route Route
	Role  Role
}

// NextStep is where the flow goes after a successful OTP verification.
type NextStep int

const (
	NextHome NextStep = iota
	NextEnrollment
	NextPINReEnrollment
)

func (n NextStep) String() string {
	switch n {
	case NextEnrollment:
		return "Enrollment"
	case NextPINReEnrollment:
		return "PinReEnrollment"
	default:
		return "Home"
	}
}

package echoapi

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-authgate/core/authgate"
)

func TestParseDirectory(t *testing.T) {
	dir, err := ParseDirectory(map[string]string{
		"09876543210":   " teacher : Demo Teacher ",
		"+254712345678": "Jane Parent",
	}, "91")
	require.NoError(t, err)
	assert.Equal(t, Directory{
		teacherPhone: {Role: "teacher", Name: "Demo Teacher"},
		otherPhone:   {Role: "other", Name: "Jane Parent"},
	}, dir)

	_, err = ParseDirectory(map[string]string{"123": "teacher:Nobody"}, "91")
	assert.Error(t, err)
}

func TestServer_SendOTP(t *testing.T) {
	s := setup(t)

	tests := []httpTest{
		{
			name:     "invalid json",
			body:     `{"phoneNumber": `,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "invalid phone",
			body:     authgate.SendOTPRequest{PhoneNumber: "12345"},
			wantCode: http.StatusBadRequest,
			wantData: authgate.ErrorResponse{
				Message: "phoneNumber: phone number must contain at least 10 digits",
				Fields:  map[string]string{"phoneNumber": "phone number must contain at least 10 digits"},
			},
		},
		{
			name:     "not registered",
			body:     authgate.SendOTPRequest{PhoneNumber: "+919123456789"},
			wantCode: http.StatusNotFound,
			wantData: authgate.ErrorResponse{Code: authgate.CodeNotRegistered, Message: "this phone number is not registered"},
		},
		{
			name:     "teacher",
			body:     authgate.SendOTPRequest{PhoneNumber: teacherPhone},
			wantCode: http.StatusOK,
			wantData: authgate.SendOTPResponse{Accepted: true, UserRole: "teacher"},
		},
		{
			name:     "resend too soon",
			body:     authgate.SendOTPRequest{PhoneNumber: "98765 43210"},
			wantCode: http.StatusTooManyRequests,
			wantData: authgate.ErrorResponse{Code: authgate.CodeTooMany, Message: "please wait before requesting a new code"},
		},
		{
			name:     "other role",
			body:     authgate.SendOTPRequest{PhoneNumber: otherPhone},
			wantCode: http.StatusOK,
			wantData: authgate.SendOTPResponse{Accepted: true, UserRole: "other"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/auth/send-otp", "", tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}
	assert.Len(t, s.outbox.last(teacherPhone), 6)

	// the resend window has passed
	s.clock.Advance(31 * time.Second)
	rec := s.do(t, http.MethodPost, "/auth/send-otp", "", authgate.SendOTPRequest{PhoneNumber: teacherPhone})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func sendCode(t *testing.T, s *testServer, phone string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/auth/send-otp", "", authgate.SendOTPRequest{PhoneNumber: phone})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	code := s.outbox.last(phone)
	require.Len(t, code, 6)
	return code
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestServer_VerifyOTP(t *testing.T) {
	s := setup(t)
	code := sendCode(t, s, teacherPhone)

	tests := []httpTest{
		{
			name:     "malformed code",
			body:     authgate.VerifyOTPRequest{PhoneNumber: teacherPhone, Code: "12a4"},
			wantCode: http.StatusBadRequest,
			wantData: authgate.ErrorResponse{
				Message: "code: code must be exactly 6 digits",
				Fields:  map[string]string{"code": "code must be exactly 6 digits"},
			},
		},
		{
			name:     "wrong code",
			body:     authgate.VerifyOTPRequest{PhoneNumber: teacherPhone, Code: wrongCode(code)},
			wantCode: http.StatusUnauthorized,
			wantData: authgate.ErrorResponse{Code: authgate.CodeInvalidCode, Message: "invalid code"},
		},
		{
			name:     "not registered",
			body:     authgate.VerifyOTPRequest{PhoneNumber: "+919123456789", Code: code},
			wantCode: http.StatusNotFound,
		},
		{
			name:     "code for another phone",
			body:     authgate.VerifyOTPRequest{PhoneNumber: otherPhone, Code: code},
			wantCode: http.StatusUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/auth/verify-otp", "", tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}

	rec := s.do(t, http.MethodPost, "/auth/verify-otp", "", authgate.VerifyOTPRequest{
		PhoneNumber: teacherPhone, Code: code, PushToken: "push-123", DeviceType: "cli",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp authgate.VerifyOTPResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "teacher", resp.UserRole)
	assert.JSONEq(t, `{"name":"Demo Teacher","phoneNumber":"+919876543210","role":"teacher"}`, string(resp.Profile))

	// codes are single use
	rec = s.do(t, http.MethodPost, "/auth/verify-otp", "", authgate.VerifyOTPRequest{PhoneNumber: teacherPhone, Code: code})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_VerifyOTP_Expired(t *testing.T) {
	s := setup(t)
	code := sendCode(t, s, teacherPhone)

	s.clock.Advance(time.Hour)
	rec := s.do(t, http.MethodPost, "/auth/verify-otp", "", authgate.VerifyOTPRequest{PhoneNumber: teacherPhone, Code: code})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_Me(t *testing.T) {
	s := setup(t)
	code := sendCode(t, s, teacherPhone)
	rec := s.do(t, http.MethodPost, "/auth/verify-otp", "", authgate.VerifyOTPRequest{PhoneNumber: teacherPhone, Code: code})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp authgate.VerifyOTPResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	unauthorized := authgate.ErrorResponse{Code: "unauthorized", Message: "missing or invalid bearer token"}
	tests := []httpTest{
		{name: "no token", wantCode: http.StatusUnauthorized, wantData: unauthorized},
		{name: "garbage token", token: "not-a-jwt", wantCode: http.StatusUnauthorized, wantData: unauthorized},
		{
			name:     "valid token",
			token:    resp.Token,
			wantCode: http.StatusOK,
			wantData: meResponse{PhoneNumber: teacherPhone, Role: "teacher", Name: "Demo Teacher"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/auth/me", tt.token, nil)
			checkCodeAndData(t, tt, rec)
		})
	}

	s.clock.Advance(2 * time.Hour)
	rec = s.do(t, http.MethodGet, "/auth/me", resp.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "tokens expire")
}

func TestServer_Home(t *testing.T) {
	s := setup(t)
	rec := s.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to Masomo OTP backend!", rec.Body.String())
}

package echoapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-authgate/core"
	"github.com/trezcool/masomo-authgate/core/authgate"
)

const contextClaimsKey = "claims"

type meResponse struct {
	PhoneNumber string `json:"phoneNumber"`
	Role        string `json:"role"`
	Name        string `json:"name"`
}

// lookup normalizes the phone number and resolves it in the directory.
func (s *server) lookup(raw string) (string, Entry, error) {
	phone, err := authgate.NormalizePhone(raw, s.deps.Conf.Auth.DefaultCountryCode)
	if err != nil {
		return "", Entry{}, err
	}
	entry, ok := s.dir.Lookup(phone)
	if !ok {
		return "", Entry{}, errNotRegistered
	}
	return phone, entry, nil
}

func (s *server) sendOTP(ctx echo.Context) error {
	var req authgate.SendOTPRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}
	if err := core.ValidateStruct(req); err != nil {
		return err
	}

	phone, entry, err := s.lookup(req.PhoneNumber)
	if err != nil {
		return err
	}
	now := s.deps.Now()
	if !s.limiter.allow(phone, now) {
		return errTooMany
	}

	code, err := s.codes.issue(phone, now)
	if err != nil {
		return errors.Wrap(err, "issuing code")
	}
	s.deps.Deliver(phone, code)

	return ctx.JSON(http.StatusOK, authgate.SendOTPResponse{Accepted: true, UserRole: entry.Role})
}

func (s *server) verifyOTP(ctx echo.Context) error {
	var req authgate.VerifyOTPRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}
	if err := core.ValidateStruct(req); err != nil {
		return err
	}

	phone, entry, err := s.lookup(req.PhoneNumber)
	if err != nil {
		return err
	}
	now := s.deps.Now()
	if !s.codes.verify(phone, req.Code, now) {
		return errInvalidCode
	}

	token, err := s.tokens.issue(phone, entry, now)
	if err != nil {
		return err
	}
	s.deps.Logger.Info("device logged in", map[string]interface{}{
		"phoneNumber": phone,
		"deviceType":  req.DeviceType,
		"hasPush":     req.PushToken != "",
	})

	return ctx.JSON(http.StatusOK, authgate.VerifyOTPResponse{
		Token:    token,
		UserRole: entry.Role,
		Profile:  entry.Profile(phone),
	})
}

func (s *server) me(ctx echo.Context) error {
	claims, ok := ctx.Get(contextClaimsKey).(*Claims)
	if !ok {
		return errUnauthorized
	}
	return ctx.JSON(http.StatusOK, meResponse{PhoneNumber: claims.Phone, Role: claims.Role, Name: claims.Name})
}

func (s *server) bearerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		auth := ctx.Request().Header.Get(echo.HeaderAuthorization)
		token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		if token == "" || token == auth {
			return errUnauthorized
		}
		claims, err := s.tokens.parse(token, s.deps.Now())
		if err != nil {
			return errUnauthorized
		}
		ctx.Set(contextClaimsKey, claims)
		return next(ctx)
	}
}

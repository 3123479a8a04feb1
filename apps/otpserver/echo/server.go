package echoapi

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-authgate/core"
)

type (
	ServerDeps struct {
		Conf           *core.Config
		Logger         core.Logger
		Now            func() time.Time
		DisableReqLogs bool
		// Deliver stands in for the SMS gateway; codes are logged when nil.
		Deliver func(phone, code string)
	}

	// Server is the development OTP backend.
	Server interface {
		http.Handler
		Start()
		Shutdown(context.Context) error
		Close() error
		Errors() <-chan error
		ShutdownSignal() <-chan os.Signal
	}

	server struct {
		deps     ServerDeps
		app      *echo.Echo
		dir      Directory
		codes    *codeIssuer
		tokens   *tokenIssuer
		limiter  *resendLimiter
		errors   chan error
		shutdown chan os.Signal
	}
)

var _ Server = (*server)(nil)

func NewServer(deps ServerDeps) (Server, error) {
	conf := deps.Conf
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Deliver == nil {
		deps.Deliver = func(phone, code string) {
			deps.Logger.Info(fmt.Sprintf("OTP for %s: %s", phone, code))
		}
	}
	dir, err := ParseDirectory(conf.DevServer.Directory, conf.Auth.DefaultCountryCode)
	if err != nil {
		return nil, err
	}

	s := &server{
		deps:     deps,
		app:      echo.New(),
		dir:      dir,
		codes:    newCodeIssuer(conf.AppName, conf.DevServer.OTPPeriod),
		tokens:   newTokenIssuer(conf.DevServer.JWTSecret, conf.AppName, conf.DevServer.TokenTTL),
		limiter:  newResendLimiter(conf.DevServer.ResendInterval),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s, nil
}

func (s *server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.deps.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.signalShutdown)

	s.app.GET("/", s.home)

	auth := s.app.Group("/auth")
	auth.POST("/send-otp", s.sendOTP)
	auth.POST("/verify-otp", s.verifyOTP)
	auth.GET("/me", s.me, s.bearerMiddleware)
}

func (s *server) Start() {
	if err := s.app.Start(s.deps.Conf.DevServer.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.errors <- err
	}
}

func (s *server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) Close() error {
	return s.app.Close()
}

func (s *server) Errors() <-chan error {
	return s.errors
}

func (s *server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.deps.Conf.AppName+" OTP backend!")
}

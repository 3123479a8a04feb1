package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-authgate/core"
	"github.com/trezcool/masomo-authgate/core/authgate"
)

// apiError is a handled failure carrying a machine-readable code.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string { return e.Message }

var (
	errNotRegistered = &apiError{http.StatusNotFound, authgate.CodeNotRegistered, "this phone number is not registered"}
	errInvalidCode   = &apiError{http.StatusUnauthorized, authgate.CodeInvalidCode, "invalid code"}
	errTooMany       = &apiError{http.StatusTooManyRequests, authgate.CodeTooMany, "please wait before requesting a new code"}
	errUnauthorized  = &apiError{http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token"}
)

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that renders authgate.ErrorResponse bodies.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var resp authgate.ErrorResponse

		switch origErr := errors.Cause(err).(type) {
		case *apiError:
			code = origErr.Status
			resp.Code = origErr.Code
			resp.Message = origErr.Message
		case *echo.HTTPError:
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			if m, ok := origErr.Message.(string); ok {
				resp.Message = m
			} else {
				resp.Message = http.StatusText(code)
			}
		case validator.ValidationErrors:
			resp.Fields = make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				resp.Fields[vErr.Field()] = vErr.Translate(core.Translator)
			}
			code = http.StatusBadRequest
			resp.Message = "invalid request"
		case *core.ValidationError:
			if len(origErr.Fields) > 0 {
				resp.Fields = make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					resp.Fields[fErr.Field] = fErr.Error
				}
			}
			code = http.StatusBadRequest
			resp.Message = origErr.Error()
		default: // any other error is a server error
			code = http.StatusInternalServerError
			resp.Message = http.StatusText(code)
			logger.Error(resp.Message, errors.Wrap(err, resp.Message))

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug && code == http.StatusInternalServerError {
			resp.Message = err.Error()
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead {
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, resp)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

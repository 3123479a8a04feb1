package otpsvc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/trezcool/masomo-authgate/core"
	"github.com/trezcool/masomo-authgate/core/authgate"
)

const (
	sendOTPEndpoint   = "/auth/send-otp"
	verifyOTPEndpoint = "/auth/verify-otp"
)

// HTTPBackend talks to the OTP backend over JSON/HTTP.
type HTTPBackend struct {
	baseURL string
	client  *rest.Client
}

var _ authgate.OTPBackend = (*HTTPBackend)(nil)

// NewHTTPBackend returns a backend rooted at conf.OTP.BaseURL.
// Request deadlines come from the caller's context.
func NewHTTPBackend(conf *core.Config, httpClient ...*http.Client) *HTTPBackend {
	hc := &http.Client{Timeout: 2 * conf.Auth.OTPTimeout}
	if len(httpClient) > 0 && httpClient[0] != nil {
		hc = httpClient[0]
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(conf.OTP.BaseURL, "/"),
		client:  &rest.Client{HTTPClient: hc},
	}
}

func (b *HTTPBackend) SendOTP(ctx context.Context, req authgate.SendOTPRequest) (authgate.SendOTPResponse, error) {
	var resp authgate.SendOTPResponse
	err := b.post(ctx, "send-otp", sendOTPEndpoint, req, &resp)
	return resp, err
}

func (b *HTTPBackend) VerifyOTP(ctx context.Context, req authgate.VerifyOTPRequest) (authgate.VerifyOTPResponse, error) {
	var resp authgate.VerifyOTPResponse
	err := b.post(ctx, "verify-otp", verifyOTPEndpoint, req, &resp)
	return resp, err
}

func (b *HTTPBackend) post(ctx context.Context, op, endpoint string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrapf(err, "encoding %s request", op)
	}

	res, err := b.send(ctx, rest.Request{
		Method:  rest.Post,
		BaseURL: b.baseURL + endpoint,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
		Body: body,
	})
	if err != nil {
		return &core.NetworkError{Op: op, Timeout: isTimeout(ctx, err), Err: err}
	}

	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return statusError(op, res)
	}
	if err = json.Unmarshal([]byte(res.Body), out); err != nil {
		return &core.NetworkError{Op: op, StatusCode: res.StatusCode, Err: errors.Wrap(err, "decoding response")}
	}
	return nil
}

// send is rest.Client.Send bound to ctx.
func (b *HTTPBackend) send(ctx context.Context, req rest.Request) (*rest.Response, error) {
	r, err := rest.BuildRequestObject(req)
	if err != nil {
		return nil, err
	}
	res, err := b.client.MakeRequest(r.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return rest.BuildResponse(res)
}

// statusError surfaces the server-provided message verbatim.
func statusError(op string, res *rest.Response) error {
	nErr := &core.NetworkError{Op: op, StatusCode: res.StatusCode}

	var body authgate.ErrorResponse
	if err := json.Unmarshal([]byte(res.Body), &body); err == nil {
		nErr.Reason = body.Message
		nErr.NotRegistered = body.Code == authgate.CodeNotRegistered
	}
	if res.StatusCode == http.StatusNotFound && op == "send-otp" && nErr.Reason == "" {
		nErr.NotRegistered = true
		nErr.Reason = "this phone number is not registered"
	}
	return nErr
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var tErr interface{ Timeout() bool }
	return errors.As(err, &tErr) && tErr.Timeout()
}

// Ping reports whether the backend answers at all; used by status commands.
func (b *HTTPBackend) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	_, err := b.send(ctx, rest.Request{Method: rest.Get, BaseURL: b.baseURL + "/"})
	if err != nil {
		return 0, &core.NetworkError{Op: "ping", Timeout: isTimeout(ctx, err), Err: err}
	}
	return time.Since(start), nil
}

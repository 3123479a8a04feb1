package echoapi

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// codeIssuer hands out single-use 6-digit TOTP codes, one secret per pending phone.
type codeIssuer struct {
	issuer string
	opts   totp.ValidateOpts

	mu      sync.Mutex
	secrets map[string]string
}

func newCodeIssuer(issuer string, period time.Duration) *codeIssuer {
	if period < time.Second {
		period = 5 * time.Minute
	}
	return &codeIssuer{
		issuer: issuer,
		opts: totp.ValidateOpts{
			Period:    uint(period / time.Second),
			Skew:      1,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		},
		secrets: make(map[string]string),
	}
}

// issue rotates the phone's secret and returns the current code.
func (c *codeIssuer) issue(phone string, now time.Time) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      c.issuer,
		AccountName: phone,
		Period:      c.opts.Period,
		Digits:      c.opts.Digits,
		Algorithm:   c.opts.Algorithm,
	})
	if err != nil {
		return "", errors.Wrap(err, "generating OTP secret")
	}
	code, err := totp.GenerateCodeCustom(key.Secret(), now, c.opts)
	if err != nil {
		return "", errors.Wrap(err, "generating OTP code")
	}

	c.mu.Lock()
	c.secrets[phone] = key.Secret()
	c.mu.Unlock()
	return code, nil
}

// verify checks the code and burns the secret on success.
func (c *codeIssuer) verify(phone, code string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	secret, ok := c.secrets[phone]
	if !ok {
		return false
	}
	valid, err := totp.ValidateCustom(code, secret, now, c.opts)
	if err != nil || !valid {
		return false
	}
	delete(c.secrets, phone)
	return true
}

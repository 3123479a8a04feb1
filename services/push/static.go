// Package pushsvc supplies the device push-registration token sent along with a login.
package pushsvc

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-authgate/core"
	"github.com/trezcool/masomo-authgate/core/authgate"
)

var ErrNotRegistered = errors.New("device not registered for push notifications")

// Static hands out a token fixed at start-up (eg. from configuration).
type Static struct {
	token string
}

var _ authgate.PushTokenProvider = Static{}

func NewStatic(conf *core.Config) Static {
	return Static{token: strings.TrimSpace(conf.PushToken)}
}

func (s Static) PushToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.token == "" {
		return "", ErrNotRegistered
	}
	return s.token, nil
}

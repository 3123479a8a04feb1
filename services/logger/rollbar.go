package logsvc

import (
	"log"
	"os"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/masomo-authgate/core"
	"github.com/trezcool/masomo-authgate/core/authgate"
)

// RollbarLogger reports to Rollbar when a token is configured and always prints to std.
// A Session among the args becomes the Rollbar person; its bearer token is never sent.
type RollbarLogger struct {
	std   *log.Logger
	debug bool
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	host, _ := os.Hostname()
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(conf.RollbarToken != "")
	return &RollbarLogger{std: std, debug: conf.Debug}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	if l.debug {
		l.report(rollbar.DEBUG, msg, args)
	}
}

func (l RollbarLogger) Info(msg string, args ...interface{})  { l.report(rollbar.INFO, msg, args) }
func (l RollbarLogger) Warn(msg string, args ...interface{})  { l.report(rollbar.WARN, msg, args) }
func (l RollbarLogger) Error(msg string, args ...interface{}) { l.report(rollbar.ERR, msg, args) }

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	l.report(rollbar.CRIT, msg, args)
	rollbar.Wait()
	l.std.Fatal(msg)
}

func (l RollbarLogger) report(level, msg string, args []interface{}) {
	sess, extras := splitSession(args)
	if sess != nil {
		rollbar.SetPerson(sess.PhoneNumber, string(sess.Role), "")
	} else {
		rollbar.ClearPerson()
	}
	rollbar.Log(level, append([]interface{}{msg}, extras...)...)

	l.std.Printf("[%s] %s", level, msg)
	if sess != nil {
		l.std.Printf("  %s", sess)
	}
	for _, extra := range extras {
		l.std.Printf("  %+v", extra)
	}
}

// splitSession pulls the first Session out of args; any other Session is dropped.
func splitSession(args []interface{}) (*authgate.Session, []interface{}) {
	var sess *authgate.Session
	extras := make([]interface{}, 0, len(args))
	for _, arg := range args {
		s, ok := arg.(authgate.Session)
		if !ok {
			extras = append(extras, arg)
			continue
		}
		if sess == nil {
			sess = &s
		}
	}
	return sess, extras
}

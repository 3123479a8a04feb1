package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/trezcool/masomo-authgate/core"
	"github.com/trezcool/masomo-authgate/core/authgate"
)

const forgotPIN = "forgot"

func (cli *commandLine) start(ctx context.Context) error {
	d := cli.mgr.InitialRoute(ctx)
	switch d.Route {
	case authgate.RouteHome:
		return cli.home(ctx)
	case authgate.RoutePINEntry:
		return cli.unlock(ctx)
	default:
		return cli.login(ctx, cli.mgr.NewOTPAuthenticator())
	}
}

// login runs the OTP screens. A reset login keeps the stored phone number.
func (cli *commandLine) login(ctx context.Context, a *authgate.OTPAuthenticator) error {
	var phone string
	if a.IsReset() {
		phone = a.Phone()
	}
	for {
		if phone == "" {
			var err error
			if phone, err = cli.readLine("Phone number: "); err != nil {
				return err
			}
		}
		err := a.RequestOTP(ctx, phone)
		if err == nil {
			break
		}
		fmt.Fprintln(cli.out, err)
		if !a.IsReset() {
			phone = ""
			continue
		}
		if !core.IsNetwork(err) {
			return err
		}
		if _, err := cli.readLine("Press enter to try again "); err != nil {
			return err
		}
	}
	fmt.Fprintf(cli.out, "A code was sent to %s.\n", a.Phone())

	for {
		code, err := cli.readSecret("Enter the 6-digit code (empty to resend, \"change\" for another number): ")
		if err != nil {
			a.Cancel()
			return err
		}
		if code == "change" && !a.IsReset() {
			a.ChangeNumber()
			return cli.login(ctx, a)
		}
		if code == "" {
			if err := a.RequestOTP(ctx, a.Phone()); err != nil {
				fmt.Fprintln(cli.out, err)
			} else {
				fmt.Fprintln(cli.out, "A new code was sent.")
			}
			continue
		}

		next, err := a.VerifyOTP(ctx, code)
		if err != nil {
			fmt.Fprintln(cli.out, err)
			continue
		}
		switch next {
		case authgate.NextEnrollment:
			return cli.enroll(ctx, false)
		case authgate.NextPINReEnrollment:
			return cli.enroll(ctx, true)
		default:
			return cli.home(ctx)
		}
	}
}

func (cli *commandLine) enroll(ctx context.Context, reset bool) error {
	e, err := cli.mgr.NewEnrollment(ctx, reset)
	if err != nil {
		return err
	}
	if reset {
		fmt.Fprintln(cli.out, "Choose a new PIN.")
	}

	for e.Stage() != authgate.StageDone {
		var err error
		switch e.Stage() {
		case authgate.StageChoose:
			fmt.Fprintln(cli.out, "Set up quick login:")
			fmt.Fprintln(cli.out, "  1) PIN")
			if cli.mgr.BiometricAvailable() {
				fmt.Fprintln(cli.out, "  2) Biometrics")
			}
			fmt.Fprintln(cli.out, "  0) Skip")
			choice, rErr := cli.readLine("> ")
			if rErr != nil {
				return rErr
			}
			switch choice {
			case "1":
				err = e.ChoosePIN()
			case "2":
				err = e.ChooseBiometric(ctx)
			case "0", "":
				err = e.Skip(ctx)
			default:
				err = fmt.Errorf("unknown choice %q", choice)
			}
		case authgate.StagePINCreate, authgate.StagePINConfirm:
			prompt := "Create a 4-digit PIN: "
			if e.Stage() == authgate.StagePINConfirm {
				prompt = "Confirm your PIN: "
			}
			pin, rErr := cli.readSecret(prompt)
			if rErr != nil {
				return rErr
			}
			err = e.EnterPIN(ctx, pin)
		case authgate.StageBiometricOffer:
			answer, rErr := cli.readLine("Also unlock with biometrics? [y/N] ")
			if rErr != nil {
				return rErr
			}
			if yes(answer) {
				err = e.AcceptBiometric(ctx)
			} else {
				err = e.DeclineBiometric()
			}
		}
		if err != nil {
			fmt.Fprintln(cli.out, err)
		}
	}
	return cli.home(ctx)
}

// unlock runs the PIN pad, or the biometric prompt first when enrolled.
func (cli *commandLine) unlock(ctx context.Context) error {
	r, err := cli.mgr.NewReauthenticator(ctx)
	if err != nil {
		return err
	}
	st, err := r.Start(ctx)
	if err != nil {
		fmt.Fprintln(cli.out, err)
	}
	if st == authgate.ReauthLocked {
		if locked, remaining, err := cli.mgr.IsLocked(ctx); err == nil && locked {
			fmt.Fprintf(cli.out, "Too many attempts, try again in %s.\n", remaining.Round(time.Second))
		}
	}

	for st != authgate.ReauthAccepted {
		pin, err := cli.readSecret(`Enter your PIN ("forgot" to reset, empty to quit): `)
		if err != nil {
			r.Abandon()
			return err
		}
		switch pin {
		case "":
			r.Abandon()
			return errAbandoned
		case forgotPIN:
			a, err := r.ForgotPIN(ctx)
			if err != nil {
				return err
			}
			return cli.login(ctx, a)
		}

		st, err = cli.pressPIN(ctx, r, pin)
		if err != nil {
			fmt.Fprintln(cli.out, err)
		}
	}
	return cli.home(ctx)
}

// pressPIN feeds a whole PIN to the pad; a malformed one never reaches the check.
func (cli *commandLine) pressPIN(ctx context.Context, r *authgate.Reauthenticator, pin string) (authgate.ReauthState, error) {
	if len(pin) != core.PINDigits || len(core.OnlyDigits(pin)) != core.PINDigits {
		return r.State(), core.NewValidationError(nil, core.FieldError{Field: "pin", Error: "PIN must be exactly 4 digits"})
	}
	var st authgate.ReauthState
	var err error
	for _, d := range pin {
		if st, err = r.PressDigit(ctx, d); err != nil {
			break
		}
	}
	for r.Digits() > 0 {
		r.Backspace()
	}
	return st, err
}

func (cli *commandLine) home(ctx context.Context) error {
	sess, err := cli.mgr.CurrentSession(ctx)
	if err != nil {
		return err
	}
	name := sess.PhoneNumber
	var profile struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(sess.Profile, &profile); err == nil && profile.Name != "" {
		name = profile.Name
	}

	screen := "Home"
	if sess.Role == authgate.RoleTeacher {
		screen = "Teacher home"
	}
	fmt.Fprintf(cli.out, "Welcome, %s! [%s]\n", name, screen)
	return nil
}

func yes(answer string) bool {
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true
	}
	return false
}

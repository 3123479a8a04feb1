package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/trezcool/masomo-authgate/core/authgate"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp      = errors.New("help provided")
	errAbandoned = errors.New("abandoned")
)

// pinger is implemented by backends that can report reachability.
type pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

type commandLine struct {
	mgr     *authgate.Manager
	backend interface{}
	in      *bufio.Reader
	out     io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  start     - open the app: login, quick login setup or PIN unlock")
	fmt.Fprintln(cli.out, "  status    - show the stored session and quick login state")
	fmt.Fprintln(cli.out, "  reset-pin - verify your phone again and choose a new PIN")
	fmt.Fprintln(cli.out, "  logout    - forget the session and every quick login setting")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	statusCmd := flag.NewFlagSet("status", flag.ContinueOnError)
	statusCmd.SetOutput(cli.out)
	statusPing := statusCmd.Bool("ping", false, "Also check that the OTP backend answers.")

	switch args[1] {
	case "start":
		return cli.start(ctx)
	case "status":
		if err := statusCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		return cli.status(ctx, *statusPing)
	case "reset-pin":
		a, err := cli.mgr.StartPINReset(ctx)
		if err != nil {
			return err
		}
		return cli.login(ctx, a)
	case "logout":
		if err := cli.mgr.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cli.out, "Logged out.")
		return nil
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) readLine(prompt string) (string, error) {
	fmt.Fprint(cli.out, prompt)
	line, err := cli.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF {
			return "", errAbandoned
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readSecret reads without echo (OTP codes and PINs).
func (cli *commandLine) readSecret(prompt string) (string, error) {
	fmt.Fprint(cli.out, prompt)
	b, err := readPasswordFunc(int(os.Stdin.Fd()))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func (cli *commandLine) status(ctx context.Context, ping bool) error {
	sess, err := cli.mgr.CurrentSession(ctx)
	switch {
	case errors.Is(err, authgate.ErrNoSession):
		fmt.Fprintln(cli.out, "Not logged in.")
	case err != nil:
		return err
	default:
		fmt.Fprintln(cli.out, sess)
		cred, err := cli.mgr.Credential(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "Quick login: %s\n", describeMethod(cred))

		if cred.Method.NeedsPIN() {
			locked, remaining, err := cli.mgr.IsLocked(ctx)
			if err != nil {
				return err
			}
			if locked {
				fmt.Fprintf(cli.out, "PIN locked for %s\n", remaining.Round(time.Second))
			}
		}
	}

	if ping {
		p, ok := cli.backend.(pinger)
		if !ok {
			return errors.New("backend cannot be pinged")
		}
		rtt, err := p.Ping(ctx)
		if err != nil {
			fmt.Fprintf(cli.out, "OTP backend unreachable: %v\n", err)
			return err
		}
		fmt.Fprintf(cli.out, "OTP backend reachable (%s)\n", rtt.Round(time.Millisecond))
	}
	return nil
}

func describeMethod(cred authgate.QuickLoginCredential) string {
	switch cred.Method {
	case authgate.MethodPIN:
		return "PIN"
	case authgate.MethodBiometric:
		return "biometrics, with PIN fallback"
	case authgate.MethodOTPOnly:
		return "skipped"
	default:
		return "not set up"
	}
}

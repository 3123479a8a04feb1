// Command authgate is a terminal client for the Masomo login gate.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"

	"golang.org/x/term"

	"github.com/trezcool/masomo-authgate/core"
	"github.com/trezcool/masomo-authgate/core/authgate"
	biometricsvc "github.com/trezcool/masomo-authgate/services/biometric"
	logsvc "github.com/trezcool/masomo-authgate/services/logger"
	otpsvc "github.com/trezcool/masomo-authgate/services/otp"
	pushsvc "github.com/trezcool/masomo-authgate/services/push"
	"github.com/trezcool/masomo-authgate/storage/securestore"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx := context.Background()
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stderr, "AUTHGATE : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)

	// set up store
	store, err := securestore.Open(ctx, conf.Store)
	if err != nil {
		logger.Error(fmt.Sprintf("opening secure store: %v", err), err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("closing secure store", err)
		}
	}()

	codec, err := authgate.NewPINCodecFromConfig(conf.Auth)
	if err != nil {
		logger.Error(fmt.Sprintf("setting up PIN codec: %v", err), err)
		return 1
	}

	in := bufio.NewReader(os.Stdin)
	backend := otpsvc.NewHTTPBackend(conf)
	deps := authgate.Deps{
		Conf:   conf.Auth,
		Logger: logger,
		Store:  store,
		Codec:  codec,
		OTP:    backend,
		Push:   pushsvc.NewStatic(conf),
	}
	// the sensor is simulated by a y/n prompt, so it needs a terminal
	if term.IsTerminal(int(os.Stdin.Fd())) {
		deps.Biometric = biometricsvc.NewPromptBridge(in, os.Stdout)
	}

	mgr, err := authgate.NewManager(deps)
	if err != nil {
		logger.Error(fmt.Sprintf("setting up manager: %v", err), err)
		return 1
	}

	// start CLI
	cli := commandLine{
		mgr:     mgr,
		backend: backend,
		in:      in,
		out:     os.Stdout,
	}
	if err := cli.run(ctx, os.Args); err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		return 1
	}
	return 0
}

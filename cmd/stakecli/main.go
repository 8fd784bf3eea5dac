// Command stakecli stakes, buys node positions and makes split deposits
// from the command line, recording every created position locally.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ligun0805/stakeflow/internal/config"
	"github.com/ligun0805/stakeflow/pkg/logger"
)

const usage = `usage: stakecli <command> [flags]

commands:
  stake    -amount <tokens> -lock <seconds>
  buy      -node <id> -amount <tokens>
  invest   -plan <id> -amount <tokens> [-dry-run]
  locate   -principal <tokens> [-at <unix>] [-contract <addr>] [-owner <addr>]
  records  [-owner <addr>]
  plans

configuration is read from .env and the environment (RPC_URL, PRIVATE_KEY,
TOKEN_ADDRESS, VAULT_ADDRESS, ...); PRIVATE_KEY is prompted for when unset.`

var errUsage = errors.New("bad usage")

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "help" {
		fmt.Fprintln(os.Stderr, usage)
		return 1
	}

	st := config.Load()
	log := logger.New(logger.Config{Level: st.LogLevel, Pretty: st.LogPretty})
	logger.SetGlobalLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := args[0], args[1:]
	var err error
	switch cmd {
	case "stake":
		err = cmdStake(ctx, st, log, rest)
	case "buy":
		err = cmdBuy(ctx, st, log, rest)
	case "invest":
		err = cmdInvest(ctx, st, log, rest)
	case "locate":
		err = cmdLocate(ctx, st, log, rest)
	case "records":
		err = cmdRecords(ctx, st, log, rest)
	case "plans":
		err = cmdPlans(st, rest)
	default:
		err = fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}

	if err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, usage)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

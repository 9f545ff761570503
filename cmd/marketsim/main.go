package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"marketsim/internal/cli"
	"marketsim/internal/logging"
)

func main() {
	logger := logging.NewLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First signal stops the session at the next tick boundary and still
	// seals the log; a second one exits immediately.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
		sig = <-sigCh
		logger.Warn().Str("signal", sig.String()).Msg("forcing exit")
		os.Exit(1)
	}()

	if err := cli.NewRootCmd(logger).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pathledger/internal/config"
	"pathledger/internal/logging"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("pathledgerd exited", "err", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/khushsoniamparo/Google-Extractor/runner"
	"github.com/khushsoniamparo/Google-Extractor/runner/installplaywright"
	"github.com/khushsoniamparo/Google-Extractor/runner/workrunner"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner.Banner()

	cfg := runner.ParseConfig()

	r, err := runnerFactory(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("shutting down...")
		cancel()
	}()

	if err := r.Run(ctx); err != nil && ctx.Err() == nil {
		_ = r.Close(ctx)

		log.Fatalf("%v", err)
	}

	_ = r.Close(ctx)
	_ = runner.Telemetry().Close()
}

func runnerFactory(cfg *runner.Config) (runner.Runner, error) {
	switch cfg.RunMode {
	case runner.RunModeWork, runner.RunModeSingle:
		return workrunner.New(cfg)
	case runner.RunModeInstallPlaywright:
		return installplaywright.New(cfg)
	default:
		return nil, runner.ErrInvalidRunMode
	}
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Lumiport-Network/relay/internal/config"
	"github.com/Lumiport-Network/relay/internal/logger"
	"go.uber.org/zap"
)

// These variables are set at build time via -ldflags
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	config.SetVersion(version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		sig := <-signals
		logger.Info("Received termination signal, shutting down gracefully",
			zap.String("signal", sig.String()))
		cancel()
	}()

	// Only the start subcommand blocks until shutdown.
	needsBlocking := false
	if len(os.Args) > 1 && os.Args[1] == "start" {
		helpRequested := false
		for _, arg := range os.Args[2:] {
			if arg == "--help" || arg == "-h" {
				helpRequested = true
				break
			}
		}
		needsBlocking = !helpRequested
	}

	Execute(ctx)

	if needsBlocking {
		<-ctx.Done()
		logger.Info("Relay has shut down")
		time.Sleep(1 * time.Second) // Give time for logs to flush
	}
}

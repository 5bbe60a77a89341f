package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/6529-Collections/royaltynode/internal/config"
	"github.com/6529-Collections/royaltynode/internal/rpc"
	"go.uber.org/zap"
)

var Version = "dev" // Overridden by release build script

func init() {
	logger := zap.Must(zap.NewProduction())
	if config.Get().LogZapMode == "development" {
		logger = zap.Must(zap.NewDevelopment())
	}
	zap.ReplaceGlobals(logger)
}

func main() {
	zap.L().Info("Starting 6529-Collections/royaltynode...",
		zap.String("Version", Version))

	// Main context: canceled when we want to stop normal operation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Get()
	n, err := startNode(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to start node", zap.Error(err))
	}

	closeRpcServer := rpc.StartRPCServer(cfg.Port(), ctx, n.services)

	// Catch up to two signals: first for graceful, second to force
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	doneCh := make(chan struct{})

	go func() {
		<-sigCh
		zap.L().Info("Received shutdown signal, initiating graceful shutdown...")

		// 1. Stop new requests on RPC
		closeRpcServer()

		// 2. Cancel main context, pending signalled refreshes are dropped
		cancel()

		// 3. Stop watchers, the pool, NATS and close storage
		n.close()

		close(doneCh)

		// If a second signal arrives, force an immediate exit
		<-sigCh
		zap.L().Error("Received second signal, forcing shutdown")
		os.Exit(1)
	}()

	<-doneCh

	zap.L().Info("Shutdown complete")
	_ = zap.L().Sync()
}

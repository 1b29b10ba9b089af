// Package main is the entry point for the gateway daemon.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mcpfed/gateway/cmd/gatewayd/app"
	"github.com/mcpfed/gateway/internal/gwlog"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		gwlog.L().Sugar().Errorf("gatewayd: %v", err)
		os.Exit(1)
	}
}

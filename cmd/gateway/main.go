// Package main runs the settlement engine gateway: the REST and websocket
// surface over the listing, bid, and collection registries.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/R3E-Network/settlement_engine/internal/app/runtime"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("gateway: %v", err)
	}
}

func run() error {
	app, err := runtime.NewApplication()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		return err
	}
	return app.Shutdown(context.Background())
}

package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"metamarket/internal/app/bootstrap"
)

func main() {
	app, err := bootstrap.BuildWorker()
	if err != nil {
		log.Fatalf("build worker app: %v", err)
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			log.Printf("close worker app: %v", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Fatalf("run worker app: %v", err)
	}
}

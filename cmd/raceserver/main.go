// Command raceserver runs the horse-race cycle driver and its HTTP/
// WebSocket surface, grounded on the teacher's cmd/server/main.go.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"raceline/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, app.Config{}); err != nil {
		log.Fatalf("raceserver: %v", err)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aifleet/corelib/internal/workerapp"
)

func main() {
	a, err := workerapp.New()
	if err != nil {
		fmt.Printf("failed to initialize worker: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		fmt.Printf("worker exited: %v\n", err)
		os.Exit(1)
	}
}

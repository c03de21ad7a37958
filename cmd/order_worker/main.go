package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gachalab/internal/config"
	"gachalab/internal/db"
	"gachalab/internal/handlers"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closer, err := db.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store init error: %v", err)
	}
	defer closer.Close()

	srv := handlers.NewServer(cfg, st, nil)
	worker := handlers.NewOrderWorker(srv)

	log.Printf("order worker started")
	worker.Run(ctx)
	log.Printf("order worker stopped")
}

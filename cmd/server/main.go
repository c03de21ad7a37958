package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"gachalab/internal/config"
	"gachalab/internal/db"
	"gachalab/internal/handlers"
)

func main() {
	cfg := config.Load()
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.AdminPassword != "" && !cfg.AdminJWTEnabled() {
		log.Fatal("JWT_SECRET must be set to a non-default value when ADMIN_PASSWORD is set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closer, err := db.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store error: %v", err)
	}
	defer closer.Close()
	redis, err := db.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("redis error: %v", err)
	}
	if redis == nil {
		log.Printf("redis disabled: no cache, rate limit or stats")
	}

	srv := handlers.NewServer(cfg, st, redis)
	srv.Start(ctx)
	if cfg.OrderWorkerEnabled {
		worker := handlers.NewOrderWorker(srv)
		go worker.Run(ctx)
		log.Printf("order worker enabled in server")
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	log.Printf("server listening on %s (store=%s)", cfg.HTTPAddr, cfg.StoreDriver)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

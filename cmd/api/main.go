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

	"github.com/permitchain/permit-backend/config"
	"github.com/permitchain/permit-backend/internal/bootstrap"
	"github.com/permitchain/permit-backend/internal/reconcile"
)

const serviceName = "permit-backend"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	bootstrap.SetGinMode(cfg.App.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer app.Close()

	sched, err := reconcile.NewScheduler(app.Reconciler, cfg.Reconcile.Schedule, cfg.Reconcile.BatchSize)
	if err != nil {
		log.Fatalf("reconcile scheduler: %v", err)
	}
	sched.Start(ctx)
	defer sched.Stop()

	router := bootstrap.BuildRouter(bootstrap.RouterDeps{
		ServiceName:    serviceName,
		Version:        cfg.App.Version,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Checks:         app.Checks(),
		Gatherer:       app.Registry,
		Projects:       app.Handler,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[api] listening on :%s env=%s", cfg.Server.Port, cfg.App.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[api] serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[api] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[api] shutdown: %v", err)
	}
}

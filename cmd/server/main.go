package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"skillyug/config"
	"skillyug/internal/database"
	"skillyug/internal/domain"
	"skillyug/internal/router"
	"skillyug/internal/service"
	"skillyug/pkg/payment"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	gateway, err := newGateway(cfg)
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}
	var push service.Pusher
	if fcm := service.NewFCMService(cfg.Firebase.ServiceAccountPath); fcm != nil {
		log.Printf("[FCM] Push notifications enabled")
		push = fcm
	}

	app := router.Setup(cfg, db, gateway, push)

	// Orders left at VERIFIED by a previous process are finished before serving traffic.
	recoverCtx, cancelRecover := context.WithTimeout(context.Background(), 30*time.Second)
	if n, err := app.Reconciler.RecoverVerified(recoverCtx); err != nil {
		log.Printf("[SWEEP] startup recovery: %v", err)
	} else if n > 0 {
		log.Printf("[SWEEP] startup recovery entitled %d orders", n)
	}
	cancelRecover()

	sweeper, err := service.NewSweeper(app.Reconciler, cfg.Checkout.SweepSchedule, cfg.Gateway.Timeout*time.Duration(cfg.Checkout.SweepBatch))
	if err != nil {
		log.Fatalf("sweeper: %v", err)
	}
	sweeper.Start()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      app.Engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Printf("server listening on :%s gateway=%s", cfg.Server.Port, gateway.Name())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("server shutdown:", err)
	}
	sweeper.Stop(ctx)
	fmt.Println("server stopped")
}

func newGateway(cfg *config.Config) (payment.Gateway, error) {
	switch cfg.Gateway.Provider {
	case domain.GatewayRazorpay:
		return payment.NewRazorpayGateway(cfg.Gateway.BaseURL, cfg.Gateway.KeyID, cfg.Gateway.KeySecret, cfg.Gateway.Timeout), nil
	case domain.GatewayMidtrans:
		return payment.NewMidtransGateway(cfg.Gateway.KeySecret, cfg.Gateway.Production), nil
	case domain.GatewayStub:
		if cfg.Server.Env == "production" {
			return nil, fmt.Errorf("stub gateway is not allowed in production")
		}
		log.Printf("[CHECKOUT] using in-process stub gateway")
		return payment.NewStubGateway(), nil
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Gateway.Provider)
}

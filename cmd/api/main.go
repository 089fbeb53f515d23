package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danharsa/billpay/internal/api"
	"github.com/danharsa/billpay/internal/config"
	"github.com/danharsa/billpay/internal/events"
	"github.com/danharsa/billpay/internal/idempotency"
	"github.com/danharsa/billpay/internal/ledger"
	"github.com/danharsa/billpay/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := store.NewPostgres(ctx, cfg.DBSource, logger)
	if err != nil {
		logger.Fatal("unable to connect to database", zap.Error(err))
	}
	defer pg.Close()

	var bus events.Publisher
	if cfg.NatsURL != "" {
		nc, err := events.ConnectNATS(cfg.NatsURL)
		if err != nil {
			logger.Fatal("unable to connect to nats", zap.Error(err))
		}
		defer nc.Close()
		bus = nc
	}

	archiver := ledger.NewReceiptArchiver(logger)
	emitter := events.NewEmitter(bus, logger)
	manager := ledger.NewManager(pg, archiver, emitter, logger, cfg.CompletionDelay)
	scheduler := ledger.NewScheduler(pg, logger, cfg.SweepInterval, cfg.StalenessThreshold)
	guard := idempotency.New(cfg.IdempotencyTTL, logger)

	handler := api.NewHandler(pg, manager, guard, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return scheduler.Run(ctx)
	})

	g.Go(func() error {
		guard.Run(ctx, cfg.IdempotencySweep)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

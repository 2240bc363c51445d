package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/adauction/internal/api"
	"github.com/punchamoorthee/adauction/internal/config"
	"github.com/punchamoorthee/adauction/internal/notify"
	"github.com/punchamoorthee/adauction/internal/service"
	"github.com/punchamoorthee/adauction/internal/store"
	"github.com/punchamoorthee/adauction/internal/stream"
)

type ledgerStore interface {
	service.Store
	service.IdempotencyStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Unable to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Layers
	var st ledgerStore
	if cfg.DBSource == "" {
		logger.Warn("DB_SOURCE not set, keeping the ledger in memory")
		st = store.NewMemory(cfg.Owner)
	} else {
		pg, err := store.NewStore(cfg.DBSource)
		if err != nil {
			logger.Fatal("unable to connect to database", zap.Error(err))
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
		if _, err := pg.Deploy(ctx, cfg.Owner); err != nil {
			logger.Fatal("ledger deployment check failed", zap.Error(err))
		}
		st = pg
	}

	dispatcher := notify.NewDispatcher(logger)
	ledger := service.NewLedger(st, dispatcher, logger)
	handler := api.NewHandler(ledger, st, logger)
	router := api.NewRouter(handler, stream.Handler(logger, dispatcher))

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("owner", cfg.Owner.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if cfg.IsDevelopment() {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

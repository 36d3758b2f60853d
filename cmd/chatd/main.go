package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Harelzx/skillup-messaging/internal/config"
	"github.com/Harelzx/skillup-messaging/internal/obs"
	"github.com/Harelzx/skillup-messaging/internal/realtime"
	"github.com/Harelzx/skillup-messaging/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.LoadServer()
	if err != nil {
		logger := obs.NewLogger("dev")
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)

	var store server.Store
	if cfg.MongoURI != "" {
		mongoStore, err := server.NewMongoStore(cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			logger.Error("mongo init failed", "error", err)
			os.Exit(1)
		}
		pingCtx, cancel := context.WithTimeout(ctx, cfg.MongoTimeout)
		err = mongoStore.Ping(pingCtx)
		cancel()
		if err != nil {
			logger.Error("mongo ping failed", "error", err)
			os.Exit(1)
		}
		store = mongoStore
		logger.Info("using mongo store", "database", cfg.MongoDB)
	} else {
		store = server.NewMemoryStore()
		logger.Info("using in-memory store")
	}

	var producer *realtime.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer, err = realtime.NewProducer(cfg.KafkaBrokers)
		if err != nil {
			logger.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		logger.Info("mirroring change events to kafka", "brokers", cfg.KafkaBrokers)
	}

	hub := server.NewHub(producer, logger)
	api := &server.API{Store: store, Hub: hub, Logger: logger}
	router := server.NewRouter(cfg.Env, cfg.AllowOrigins, api)
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	logger.Info("chatd starting", "addr", cfg.HTTPAddr, "env", cfg.Env)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("chatd stopped")
}

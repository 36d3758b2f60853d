package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"

	"github.com/Harelzx/skillup-messaging/internal/backend"
	"github.com/Harelzx/skillup-messaging/internal/chatsync"
	"github.com/Harelzx/skillup-messaging/internal/config"
	"github.com/Harelzx/skillup-messaging/internal/obs"
	"github.com/Harelzx/skillup-messaging/internal/realtime"
)

// stack bundles the wired sync components for one CLI invocation.
type stack struct {
	cfg          config.Config
	logger       *slog.Logger
	client       *backend.Client
	adapter      *realtime.Adapter
	orchestrator *chatsync.Orchestrator
}

// buildStack loads configuration and wires the backend client, transport,
// adapter and orchestrator together. The transport is not started; commands
// that follow the event stream call start themselves.
func buildStack() (*stack, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := obs.NewLogger(cfg.Env)

	client, err := backend.NewClient(backend.Config{
		BaseURL:     cfg.BackendURL,
		Token:       cfg.AuthToken,
		UserID:      cfg.UserID,
		CallTimeout: cfg.CallTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	var transport realtime.Transport
	switch cfg.Transport {
	case "kafka":
		transport = realtime.NewKafkaTransport(cfg.KafkaBrokers, cfg.KafkaGroup, logger)
	default:
		transport = realtime.NewWebsocketTransport(cfg.WebsocketURL, cfg.AuthToken, realtime.ReconnectConfig{
			BaseDelay:   cfg.ReconnectBase,
			MaxDelay:    cfg.ReconnectMax,
			MaxAttempts: cfg.ReconnectRetries,
		}, logger)
	}

	adapter := realtime.NewAdapter(transport, logger)
	orchestrator := chatsync.New(client, adapter, chatsync.Options{
		PageSize:     cfg.PageSize,
		TypingExpiry: cfg.TypingExpiry,
		Logger:       logger,
	})
	return &stack{
		cfg:          cfg,
		logger:       logger,
		client:       client,
		adapter:      adapter,
		orchestrator: orchestrator,
	}, nil
}

// start connects the transport and loads the inbox.
func (s *stack) start(ctx context.Context) error {
	if err := s.adapter.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	if err := s.orchestrator.Start(ctx); err != nil {
		return fmt.Errorf("start sync: %w", err)
	}
	return nil
}

// stop tears the orchestrator and transport down.
func (s *stack) stop() {
	s.orchestrator.Stop()
	if err := s.adapter.Close(); err != nil {
		s.logger.Warn("transport close failed", "error", err)
	}
}

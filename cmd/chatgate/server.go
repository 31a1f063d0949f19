package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/chatgate/internal/admin"
	"github.com/goodtune/chatgate/internal/chat"
	"github.com/goodtune/chatgate/internal/clock"
	"github.com/goodtune/chatgate/internal/config"
	"github.com/goodtune/chatgate/internal/metrics"
	"github.com/goodtune/chatgate/internal/reply"
	"github.com/goodtune/chatgate/internal/session"
	"github.com/goodtune/chatgate/internal/systemd"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the chatgate server",
	Long:  `Start the chat API, the optional operator API, the session sweeper and the metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting chatgate")

	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	store, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	storageLog := logger.Info().Str("type", cfg.Storage.Type)
	if cfg.Storage.Type == "redis" {
		storageLog = storageLog.
			Str("redis_host", cfg.Storage.Redis.Host).
			Int("redis_port", cfg.Storage.Redis.Port)
	}
	storageLog.Msg("Storage initialized")

	core, err := newStack(cfg, store, clock.RealClock{}, logger)
	if err != nil {
		return err
	}

	generator := reply.NewOpenAIClient(reply.Config{
		BaseURL:      cfg.Upstream.BaseURL,
		APIKey:       cfg.Upstream.APIKey,
		Model:        cfg.Upstream.Model,
		Temperature:  cfg.Upstream.Temperature,
		MaxTokens:    cfg.Upstream.MaxTokens,
		Timeout:      parseDuration(cfg.Upstream.Timeout, 60*time.Second),
		SystemPrompt: cfg.Upstream.SystemPrompt,
	}, logger)
	if cfg.Upstream.APIKey == "" {
		logger.Warn().Msg("upstream.api_key is empty; reply generation will likely fail")
	}

	var mounts []func(*mux.Router)
	if cfg.Admin.Enabled {
		adminHandler := admin.NewHandler(store, core.manager, core.ledger, clock.RealClock{}, cfg.Admin.Token, logger).
			WithRateLimit(core.limiter, cfg.RateLimit.AddressHeaders)
		mounts = append(mounts, adminHandler.Mount)
		logger.Info().Msg("Operator API enabled at /api/admin")
	}

	chatServer := chat.NewServer(chat.Config{
		ListenAddr:       fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.HTTPPort),
		ReadTimeout:      parseDuration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout:     parseDuration(cfg.Server.WriteTimeout, 90*time.Second),
		CookieName:       cfg.Session.CookieName,
		CookieSecure:     cfg.Session.CookieSecure,
		SessionTTL:       core.manager.TTL(),
		AddressHeaders:   cfg.RateLimit.AddressHeaders,
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		HistoryLimit:     cfg.Chat.HistoryLimit,
	}, core.controller, generator, logger, mounts...)

	if sdListeners.HTTP != nil {
		chatServer.SetListener(sdListeners.HTTP)
	}
	if err := chatServer.Start(); err != nil {
		return fmt.Errorf("failed to start chat server: %w", err)
	}

	var metricsServer *metrics.Server
	if cfg.Server.MetricsPort > 0 || sdListeners.Metrics != nil {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
		metricsServer = metrics.NewServer(metricsAddr, logger)
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	sweeper := session.NewSweeper(
		core.manager,
		parseDuration(cfg.Session.SweepInterval, session.DefaultSweepInterval),
		logger,
		core.limiter.ReportTracked,
	)
	sweeper.Start()

	watchdogCtx, stopWatchdog := context.WithCancel(context.Background())
	go systemd.RunWatchdog(watchdogCtx, logger)

	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	logger.Info().Msg("chatgate startup complete")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutdown signal received, gracefully stopping...")

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}
	stopWatchdog()

	ctx, cancel := context.WithTimeout(context.Background(), parseDuration(cfg.Server.ShutdownTimeout, 10*time.Second))
	defer cancel()

	// Drain in-flight exchanges first so their usage is recorded before storage closes
	if err := chatServer.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Error stopping chat server")
	}

	sweeper.Stop()

	if metricsServer != nil {
		if err := metricsServer.Stop(ctx); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	logger.Info().Msg("chatgate stopped")

	return nil
}

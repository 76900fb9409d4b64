package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/agilecards/agilecards/internal/analysis"
	"github.com/agilecards/agilecards/internal/gateway"
	"github.com/agilecards/agilecards/internal/httpapi"
	"github.com/agilecards/agilecards/internal/room"
	"github.com/agilecards/agilecards/internal/session"
	"github.com/agilecards/agilecards/internal/vote"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	config, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	sqlDB, err := setupDatabase()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer sqlDB.Close()

	// Repositories and apps.
	roomRepo := room.NewRepository(sqlDB)
	voteRepo := vote.NewRepository(sqlDB)
	roomApp := room.NewApp(roomRepo)
	voteApp := vote.NewApp(voteRepo)

	registry := session.NewRegistry(roomRepo, voteApp)

	// Advisory hook is best-effort and optional.
	var advisor analysis.Advisor = analysis.Nop{}
	if config.Analysis.URL != "" {
		advisor = analysis.NewClient(config.Analysis.URL)
	}

	// Cross-instance event bridge, only when NATS is configured.
	var bridge *gateway.EventBridge
	if config.NATS.Enabled {
		bridgeConfig := gateway.DefaultBridgeConfig()
		bridgeConfig.URL = config.NATS.URL
		bridge, err = gateway.NewEventBridge(bridgeConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event bridge")
		}
	}

	gatewayConfig := gateway.DefaultConfig()
	var gatewayService *gateway.Service
	scheduler := session.NewScheduler(clockwork.NewRealClock(), config.RoundDuration(), func(code string) {
		gatewayService.RevealByTimer(code)
	})
	gatewayService = gateway.NewService(gatewayConfig, registry, scheduler, advisor, bridge)

	api := httpapi.NewHandler(roomApp, registry)
	server := setupServer(config.Server.Port, api, gatewayService)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()
	time.Sleep(time.Second)

	log.Info().Msg("shutdown complete")
}

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/wamux/backend/internal/config"
	"github.com/wamux/backend/internal/creds"
	"github.com/wamux/backend/internal/handle"
	"github.com/wamux/backend/internal/lifecycle"
	"github.com/wamux/backend/internal/logging"
	"github.com/wamux/backend/internal/mock"
	"github.com/wamux/backend/internal/pairing"
	"github.com/wamux/backend/internal/session"
	"github.com/wamux/backend/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Use the simulated connection-handle factory")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot := logging.Base()
		boot.Fatal().Err(err).Msg("failed to load config")
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	logging.Configure(logging.Config{Level: cfg.Log.Level})
	log := logging.WithComponent("main")

	var factory handle.Factory
	if *mockMode {
		log.Info().Msg("using simulated connection factory")
		factory = mock.NewFactory()
	} else {
		log.Fatal().Msg("no connection driver linked into this build; run with -mock or provide a handle.Factory implementation")
	}

	credsStore, err := creds.Open(cfg.Store.CredentialsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open credential store")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := session.NewRegistry(pairing.GenerateCode)
	broadcaster := ws.NewBroadcaster(registry, cfg.Sessions.ClientQueueSize, cfg.Sessions.SnapshotInterval, cfg.Pairing.MaskPhones)
	controller := lifecycle.NewController(ctx, registry, factory, credsStore, broadcaster, cfg.Sessions.ReconnectDelay, cfg.Pairing.MaskPhones)
	verifier := pairing.NewVerifier(registry, cfg.Pairing.PhoneDigits)

	if err := controller.RestoreSessions(ctx); err != nil {
		log.Error().Err(err).Msg("startup session restore failed")
	}

	server := ws.NewServer(registry, controller, verifier, broadcaster, cfg.Server.AllowedOrigins, cfg.Server.AuthToken, cfg.Pairing.MaskPhones)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutting down")
		cancel()
		controller.Shutdown()
		if err := credsStore.Close(); err != nil {
			log.Warn().Err(err).Msg("credential store close failed")
		}
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, server.Routes()); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

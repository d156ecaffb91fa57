package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend/memory"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend/natsbackend"
	"github.com/mcdev12/drawwithfriends/go/internal/canvas/backend/pgbackend"
	"github.com/mcdev12/drawwithfriends/go/internal/config"
	"github.com/mcdev12/drawwithfriends/go/internal/dbconfig"
	"github.com/mcdev12/drawwithfriends/go/internal/discovery"
	"github.com/mcdev12/drawwithfriends/go/internal/relay"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	backendKind := pflag.StringP("backend", "b", "", "backend: memory, nats or postgres (overrides config)")
	addr := pflag.String("addr", "", "listen address (overrides config)")
	noAdvertise := pflag.Bool("no-advertise", false, "do not advertise the relay over mDNS")
	pflag.Parse()

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *backendKind != "" {
		cfg.Backend = *backendKind
	}
	if *addr != "" {
		cfg.Relay.Addr = *addr
	}
	if *noAdvertise {
		cfg.Relay.Advertise = false
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, db, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Backend).Msg("failed to open backend")
	}
	if db != nil {
		defer db.Close()
	}

	connCfg := relay.DefaultConnectionConfig()
	connCfg.SendBufferSize = cfg.Relay.SendBuffer
	connCfg.PingInterval = cfg.Relay.PingInterval
	srv := relay.NewServer(b, connCfg)

	server := srv.NewHTTPServer(cfg.Relay.Addr)
	server.ReadHeaderTimeout = 10 * time.Second
	server.IdleTimeout = 120 * time.Second

	log.Info().
		Str("backend", cfg.Backend).
		Str("addr", cfg.Relay.Addr).
		Msg("starting relay")

	// Start HTTP server
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	var adv *discovery.Advertiser
	if cfg.Relay.Advertise {
		port, err := listenPort(cfg.Relay.Addr)
		if err != nil {
			log.Warn().Err(err).Msg("not advertising relay")
		} else if adv, err = discovery.Advertise(cfg.Relay.Instance, port, "/ws"); err != nil {
			log.Warn().Err(err).Msg("mDNS advertisement failed")
		}
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if adv != nil {
		if err := adv.Shutdown(); err != nil {
			log.Error().Err(err).Msg("mDNS shutdown failed")
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	// Hijacked WebSocket connections are not tracked by Shutdown.
	srv.Close()
	if err := b.Close(); err != nil {
		log.Error().Err(err).Msg("backend close failed")
	}
	cancel()

	log.Info().Msg("relay shutdown complete")
}

// openBackend returns the configured backend. db is non-nil for postgres and
// must be closed after the backend.
func openBackend(ctx context.Context, cfg config.Config) (backend.Backend, *sql.DB, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), nil, nil

	case config.BackendNATS:
		b, err := natsbackend.New(ctx, cfg.NATSConfig())
		if err != nil {
			return nil, nil, err
		}
		return b, nil, nil

	case config.BackendPostgres:
		dbCfg := dbconfig.NewConfigFromEnv()
		db, err := dbCfg.Open(ctx)
		if err != nil {
			return nil, nil, err
		}
		b, err := pgbackend.New(db, cfg.PostgresConfig(dbCfg.DSN()))
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return b, db, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

func listenPort(addr string) (int, error) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("parse listen address %q: %w", addr, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p == 0 {
		return 0, fmt.Errorf("listen address %q has no fixed port", addr)
	}
	return p, nil
}

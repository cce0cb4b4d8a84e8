// Package main provides the BlackBox receiver: it consumes state records from NATS,
// commits them to PostgreSQL and serves the recorded flights.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/geekprojects/blackbox/pkg/agent"
	"github.com/geekprojects/blackbox/pkg/channel"
	"github.com/geekprojects/blackbox/pkg/config"
	"github.com/geekprojects/blackbox/pkg/handler"
	natsutil "github.com/geekprojects/blackbox/pkg/nats"
	"github.com/geekprojects/blackbox/pkg/postgres"
	"github.com/geekprojects/blackbox/pkg/writer"
)

const jetStreamBatchSize = 64

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	cfg, err := config.Load(getEnv("CONFIG_FILE", ""), config.DefaultReceiver())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		log.Fatal().Err(err).Msg("Invalid environment override")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	setupLogging(cfg.Logging)

	log.Info().
		Str("transport", string(cfg.Transport)).
		Str("nats_url", cfg.NATS.URL).
		Str("subject", cfg.NATS.Subject).
		Dur("commit_interval", cfg.CommitInterval).
		Int("http_port", cfg.HTTP.Port).
		Msg("Starting BlackBox receiver")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	db, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate schema")
	}
	log.Info().Msg("Connected to PostgreSQL")

	base := agent.NewBaseAgent(agent.Config{Type: agent.AgentTypeReceiver, NATSUrl: cfg.NATS.URL}, log.Logger)
	if err := base.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start agent")
	}
	base.AddHealthCheck("postgres", db.Health)

	rx, err := openReceiver(ctx, cfg, base)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe to state records")
	}

	batch := writer.NewBatchWriter(db, log.Logger, writer.WithMetrics(base))
	commits := writer.NewIntervalWriter(rx, batch, cfg.CommitInterval, log.Logger)

	flights := handler.NewFlightHandler(db, log.Logger,
		handler.WithLivePoll(cfg.LivePoll),
		handler.WithOriginPatterns(cfg.HTTP.CORSOrigins...),
	)

	router := handler.NewRouter(handler.RouterConfig{
		Agent:       base,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Logger:      log.Logger,
	})
	router.Route("/api/v1", func(r chi.Router) {
		r.Mount("/flights", flights.Routes())
	})

	server := &http.Server{
		Addr:        cfg.HTTP.Address(),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return commits.Run(gCtx)
	})

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		log.Info().Msg("Shutting down HTTP server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Receiver error")
	}

	if err := rx.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close receiver")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := base.Stop(stopCtx); err != nil {
		log.Warn().Err(err).Msg("Failed to stop agent")
	}

	log.Info().Msg("BlackBox receiver shutdown complete")
}

func openReceiver(ctx context.Context, cfg *config.Receiver, base *agent.BaseAgent) (channel.Receiver, error) {
	if cfg.Transport == config.TransportJetStream {
		if err := natsutil.SetupStreams(ctx, base.JetStream(), cfg.NATS.Subject); err != nil {
			return nil, err
		}
		consumer, err := natsutil.SetupConsumer(ctx, base.JetStream(), natsutil.ReceiverConsumer)
		if err != nil {
			return nil, err
		}
		return channel.NewJetStreamReceiver(consumer, jetStreamBatchSize, log.Logger, base), nil
	}
	return channel.NewNATSReceiver(base.NATS(), cfg.NATS.Subject, log.Logger, base)
}

func setupLogging(cfg config.Logging) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.JSON {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
}

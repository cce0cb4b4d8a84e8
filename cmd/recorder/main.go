// Package main provides the BlackBox recorder: it samples the simulator, classifies
// the flight phase and emits state records to the writer.
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
	"github.com/geekprojects/blackbox/pkg/emission"
	"github.com/geekprojects/blackbox/pkg/handler"
	natsutil "github.com/geekprojects/blackbox/pkg/nats"
	"github.com/geekprojects/blackbox/pkg/phase"
	"github.com/geekprojects/blackbox/pkg/postgres"
	"github.com/geekprojects/blackbox/pkg/recorder"
	"github.com/geekprojects/blackbox/pkg/telemetry"
	"github.com/geekprojects/blackbox/pkg/writer"
	"github.com/geekprojects/blackbox/pkg/xplane"
)

const sourceRetryDelay = 5 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	cfg, err := config.Load(getEnv("CONFIG_FILE", ""), config.DefaultRecorder())
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
		Str("xplane_url", cfg.XPlane.RestBaseURL).
		Int("http_port", cfg.HTTP.Port).
		Msg("Starting BlackBox recorder")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	agentCfg := agent.Config{Type: agent.AgentTypeRecorder}
	if cfg.Transport != config.TransportLocal {
		agentCfg.NATSUrl = cfg.NATS.URL
	}
	base := agent.NewBaseAgent(agentCfg, log.Logger)
	if err := base.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start agent")
	}

	classifier := phase.NewClassifier(cfg.Thresholds)
	policy := emission.NewPolicy(cfg.Emission)

	// the sender is bound after the session exists so the local writer can use its hook
	var sink sender
	session := recorder.NewSession(classifier, policy, &sink, log.Logger)

	closeSink, err := openSink(ctx, cfg, base, session, &sink)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open record channel")
	}

	source := xplane.NewSource(cfg.XPlane, log.Logger)

	router := handler.NewRouter(handler.RouterConfig{
		Agent:       base,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Logger:      log.Logger,
	})
	router.Route("/api/v1", func(r chi.Router) {
		r.Mount("/status", handler.NewStatusHandler(session).Routes())
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Address(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		runSource(gCtx, source, session, base)
		return nil
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
		log.Error().Err(err).Msg("Recorder error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := closeSink(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Record channel did not drain cleanly")
	}
	if err := base.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Failed to stop agent")
	}

	log.Info().Msg("BlackBox recorder shutdown complete")
}

// sender forwards to the channel chosen at startup
type sender struct {
	channel.Sender
}

// openSink binds sink to the configured transport and returns its close function
func openSink(ctx context.Context, cfg *config.Recorder, base *agent.BaseAgent, session *recorder.Session, sink *sender) (func(context.Context) error, error) {
	switch cfg.Transport {
	case config.TransportLocal:
		db, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		base.AddHealthCheck("postgres", db.Health)

		batch := writer.NewBatchWriter(db, log.Logger,
			writer.WithHook(session.WriterHook()),
			writer.WithMetrics(base),
		)
		queue := channel.NewQueue(batch.Handle, log.Logger, base)
		queue.Start()
		sink.Sender = queue

		return func(ctx context.Context) error {
			defer db.Close()
			return queue.Close(ctx)
		}, nil

	case config.TransportJetStream:
		if err := natsutil.SetupStreams(ctx, base.JetStream(), cfg.NATS.Subject); err != nil {
			return nil, err
		}
		s := channel.NewJetStreamSender(base.JetStream(), cfg.NATS.Subject, log.Logger, base)
		sink.Sender = s
		return s.Flush, nil

	default:
		s := channel.NewNATSSender(base.NATS(), cfg.NATS.Subject, log.Logger, base)
		sink.Sender = s
		return s.Flush, nil
	}
}

// runSource keeps the simulator connection alive until ctx is done
func runSource(ctx context.Context, source *xplane.Source, session *recorder.Session, base *agent.BaseAgent) {
	tick := func(r telemetry.Reading) {
		start := time.Now()
		session.Tick(r)
		base.RecordLatency("tick", time.Since(start))
	}

	for {
		err := source.Run(ctx, tick)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			base.RecordError("xplane_source")
			log.Warn().Err(err).Dur("retry_in", sourceRetryDelay).Msg("Simulator connection lost")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(sourceRetryDelay):
		}
	}
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

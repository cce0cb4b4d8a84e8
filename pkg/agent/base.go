package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// BaseAgent owns what both processes share: identity, the NATS connection,
// the logger and the metrics registry. It satisfies channel.Metrics and
// writer.Metrics.
type BaseAgent struct {
	id        string
	agentType AgentType
	config    Config

	// NATS
	nc *nats.Conn
	js jetstream.JetStream

	// Logging
	logger zerolog.Logger

	// Metrics
	registry     *prometheus.Registry
	recordsTotal *prometheus.CounterVec
	latencyHist  *prometheus.HistogramVec
	errorsTotal  *prometheus.CounterVec

	// State
	running bool
	checks  map[string]HealthCheck
	mu      sync.RWMutex
}

// NewBaseAgent creates an agent logging through logger. An empty cfg.ID gets a random one.
func NewBaseAgent(cfg Config, logger zerolog.Logger) *BaseAgent {
	if cfg.ID == "" {
		cfg.ID = fmt.Sprintf("%s-%s", cfg.Type, uuid.NewString()[:8])
	}

	logger = logger.With().
		Str("agent_id", cfg.ID).
		Str("agent_type", string(cfg.Type)).
		Logger()

	registry := prometheus.NewRegistry()

	recordsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blackbox_records_total",
			Help: "Records handled, by outcome and record kind",
		},
		[]string{"status", "kind"},
	)

	latencyHist := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blackbox_latency_seconds",
			Help:    "Latency of pipeline operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blackbox_errors_total",
			Help: "Errors encountered, by type",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(recordsTotal, latencyHist, errorsTotal)

	return &BaseAgent{
		id:           cfg.ID,
		agentType:    cfg.Type,
		config:       cfg,
		logger:       logger,
		registry:     registry,
		recordsTotal: recordsTotal,
		latencyHist:  latencyHist,
		errorsTotal:  errorsTotal,
		checks:       make(map[string]HealthCheck),
	}
}

// ID returns the agent ID
func (a *BaseAgent) ID() string {
	return a.id
}

// Type returns the agent type
func (a *BaseAgent) Type() AgentType {
	return a.agentType
}

// Logger returns the agent logger
func (a *BaseAgent) Logger() *zerolog.Logger {
	return &a.logger
}

// NATS returns the NATS connection, nil before Start or without a NATS URL
func (a *BaseAgent) NATS() *nats.Conn {
	return a.nc
}

// JetStream returns the JetStream context
func (a *BaseAgent) JetStream() jetstream.JetStream {
	return a.js
}

// Metrics returns the Prometheus registry
func (a *BaseAgent) Metrics() *prometheus.Registry {
	return a.registry
}

// RecordMessage counts one record with the given outcome
func (a *BaseAgent) RecordMessage(status, kind string) {
	a.recordsTotal.WithLabelValues(status, kind).Inc()
}

// RecordLatency records the duration of an operation
func (a *BaseAgent) RecordLatency(operation string, duration time.Duration) {
	a.latencyHist.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordError records an error metric
func (a *BaseAgent) RecordError(errorType string) {
	a.errorsTotal.WithLabelValues(errorType).Inc()
}

// AddHealthCheck registers a dependency consulted by Health
func (a *BaseAgent) AddHealthCheck(name string, check HealthCheck) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checks[name] = check
}

// Connect establishes the NATS connection
func (a *BaseAgent) Connect(ctx context.Context) error {
	a.logger.Info().Str("url", a.config.NATSUrl).Msg("Connecting to NATS")

	opts := []nats.Option{
		nats.Name(a.id),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			a.logger.Warn().Err(err).Msg("NATS disconnected")
			a.RecordError("nats_disconnect")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			a.logger.Info().Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(a.config.NATSUrl, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	a.nc = nc
	a.js = js
	a.logger.Info().Msg("Connected to NATS with JetStream")
	return nil
}

// Health returns the health status
func (a *BaseAgent) Health(ctx context.Context) HealthStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.running {
		return HealthStatus{Healthy: false, Status: "stopped"}
	}

	if a.config.NATSUrl != "" && (a.nc == nil || !a.nc.IsConnected()) {
		return HealthStatus{Healthy: false, Status: "disconnected", Details: "NATS connection lost"}
	}

	names := make([]string, 0, len(a.checks))
	for name := range a.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := a.checks[name](ctx); err != nil {
			return HealthStatus{Healthy: false, Status: "degraded", Details: fmt.Sprintf("%s: %v", name, err)}
		}
	}

	return HealthStatus{Healthy: true, Status: "running"}
}

// Start marks the agent running and connects to NATS when a URL is configured
func (a *BaseAgent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("agent already running")
	}

	if a.config.NATSUrl != "" {
		if err := a.Connect(ctx); err != nil {
			return err
		}
	}

	a.running = true
	a.logger.Info().Msg("Agent started")
	return nil
}

// Stop drains and closes the NATS connection
func (a *BaseAgent) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}

	a.logger.Info().Msg("Stopping agent")

	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.logger.Warn().Err(err).Msg("NATS drain failed")
			a.nc.Close()
		}
	}

	a.running = false
	a.logger.Info().Msg("Agent stopped")
	return nil
}

// Package config loads the YAML configuration of the recorder and receiver processes
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/geekprojects/blackbox/pkg/emission"
	"github.com/geekprojects/blackbox/pkg/phase"
	"github.com/geekprojects/blackbox/pkg/postgres"
	"github.com/geekprojects/blackbox/pkg/writer"
)

// Transport selects how the recorder hands records to the writer
type Transport string

const (
	TransportLocal     Transport = "local"
	TransportNATS      Transport = "nats"
	TransportJetStream Transport = "jetstream"
)

// Load reads the YAML file at path on top of defaults.
// An empty path returns the defaults unchanged.
func Load[T any](path string, defaults T) (*T, error) {
	cfg := defaults
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}
	return &cfg, nil
}

// HTTP holds the listen address of the process API
type HTTP struct {
	Addr        string   `yaml:"addr"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Address returns host:port
func (h HTTP) Address() string {
	return fmt.Sprintf("%s:%d", h.Addr, h.Port)
}

// Logging holds the zerolog setup
type Logging struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// NATS holds the network channel endpoint
type NATS struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// XPlane holds the simulator web API endpoints
type XPlane struct {
	RestBaseURL  string        `yaml:"web_api_http_url"`
	WebSocketURL string        `yaml:"web_api_websocket_url"`
	TickInterval time.Duration `yaml:"tick_interval"`
}

// Recorder is the configuration of cmd/recorder
type Recorder struct {
	HTTP       HTTP             `yaml:"http"`
	Logging    Logging          `yaml:"logging"`
	Transport  Transport        `yaml:"transport"`
	NATS       NATS             `yaml:"nats"`
	Postgres   postgres.Config  `yaml:"postgres"` // used by the local transport
	XPlane     XPlane           `yaml:"xplane"`
	Thresholds phase.Thresholds `yaml:"thresholds"`
	Emission   emission.Config  `yaml:"emission"`
}

// Receiver is the configuration of cmd/receiver
type Receiver struct {
	HTTP           HTTP            `yaml:"http"`
	Logging        Logging         `yaml:"logging"`
	Transport      Transport       `yaml:"transport"`
	NATS           NATS            `yaml:"nats"`
	Postgres       postgres.Config `yaml:"postgres"`
	CommitInterval time.Duration   `yaml:"commit_interval"`
	LivePoll       time.Duration   `yaml:"live_poll"`
}

// DefaultRecorder returns the recorder defaults
func DefaultRecorder() Recorder {
	return Recorder{
		HTTP:      HTTP{Addr: "0.0.0.0", Port: 9090, CORSOrigins: []string{"http://localhost:3000"}},
		Logging:   Logging{Level: "info"},
		Transport: TransportNATS,
		NATS:      NATS{URL: "nats://localhost:4222", Subject: "blackbox.state"},
		Postgres:  postgres.DefaultConfig(),
		XPlane: XPlane{
			RestBaseURL:  "http://localhost:8086/api/v2",
			WebSocketURL: "ws://localhost:8086/api/v2",
			TickInterval: 100 * time.Millisecond,
		},
		Thresholds: phase.DefaultThresholds(),
		Emission:   emission.DefaultConfig(),
	}
}

// DefaultReceiver returns the receiver defaults
func DefaultReceiver() Receiver {
	return Receiver{
		HTTP:           HTTP{Addr: "0.0.0.0", Port: 8080, CORSOrigins: []string{"http://localhost:3000"}},
		Logging:        Logging{Level: "info"},
		Transport:      TransportNATS,
		NATS:           NATS{URL: "nats://localhost:4222", Subject: "blackbox.state"},
		Postgres:       postgres.DefaultConfig(),
		CommitInterval: writer.DefaultInterval,
		LivePoll:       time.Second,
	}
}

// Getenv is the lookup used by the ApplyEnv methods
type Getenv func(key string) string

func override(get Getenv, key string, dst *string) {
	if v := get(key); v != "" {
		*dst = v
	}
}

func overrideBool(get Getenv, key string, dst *bool) {
	if v := get(key); v != "" {
		*dst = strings.EqualFold(v, "true")
	}
}

func overrideInt(get Getenv, key string, dst *int) error {
	v := get(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func applyCommon(get Getenv, h *HTTP, l *Logging, t *Transport, n *NATS, pg *postgres.Config) error {
	override(get, "LOG_LEVEL", &l.Level)
	overrideBool(get, "LOG_JSON", &l.JSON)
	override(get, "NATS_URL", &n.URL)
	override(get, "NATS_SUBJECT", &n.Subject)
	override(get, "POSTGRES_URL", &pg.URL)

	transport := string(*t)
	override(get, "TRANSPORT", &transport)
	*t = Transport(transport)

	return overrideInt(get, "HTTP_PORT", &h.Port)
}

// ApplyEnv overrides file values with environment variables
func (c *Recorder) ApplyEnv(get Getenv) error {
	if err := applyCommon(get, &c.HTTP, &c.Logging, &c.Transport, &c.NATS, &c.Postgres); err != nil {
		return err
	}
	override(get, "XPLANE_HTTP_URL", &c.XPlane.RestBaseURL)
	override(get, "XPLANE_WS_URL", &c.XPlane.WebSocketURL)
	return nil
}

// ApplyEnv overrides file values with environment variables
func (c *Receiver) ApplyEnv(get Getenv) error {
	return applyCommon(get, &c.HTTP, &c.Logging, &c.Transport, &c.NATS, &c.Postgres)
}

func validTransport(t Transport, allowLocal bool) error {
	switch t {
	case TransportNATS, TransportJetStream:
		return nil
	case TransportLocal:
		if allowLocal {
			return nil
		}
	}
	return fmt.Errorf("unsupported transport %q", t)
}

// Validate checks the recorder configuration
func (c Recorder) Validate() error {
	if err := validTransport(c.Transport, true); err != nil {
		return err
	}
	if c.XPlane.TickInterval <= 0 {
		return fmt.Errorf("xplane.tick_interval must be positive")
	}
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}
	if err := c.Emission.Validate(); err != nil {
		return fmt.Errorf("emission: %w", err)
	}
	return nil
}

// Validate checks the receiver configuration
func (c Receiver) Validate() error {
	if err := validTransport(c.Transport, false); err != nil {
		return err
	}
	if c.CommitInterval <= 0 {
		return fmt.Errorf("commit_interval must be positive")
	}
	if c.LivePoll <= 0 {
		return fmt.Errorf("live_poll must be positive")
	}
	return nil
}

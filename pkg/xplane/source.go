// Package xplane reads aircraft telemetry from the X-Plane 12 web API
package xplane

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/geekprojects/blackbox/pkg/config"
	"github.com/geekprojects/blackbox/pkg/telemetry"
)

// TickFunc receives one reading per tick
type TickFunc func(r telemetry.Reading)

// Source subscribes to the simulator datarefs and produces a reading every tick
type Source struct {
	cfg    config.XPlane
	client *http.Client
	logger zerolog.Logger

	requestID atomic.Int64

	// dataref id -> name, filled by Resolve
	names map[int64]string

	mu         sync.Mutex
	latest     frame
	wasCrashed bool
}

// NewSource creates a source for the web API described by cfg
func NewSource(cfg config.XPlane, logger zerolog.Logger) *Source {
	return &Source{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.With().Str("component", "xplane").Logger(),
		latest: make(frame),
	}
}

// Resolve looks up the ids of every dataref the source needs
func (s *Source) Resolve(ctx context.Context) error {
	fullURL, err := buildURLWithFilters(s.cfg.RestBaseURL+"/datarefs", Datarefs)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("error performing HTTP GET to %s: %w", fullURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("received status %d from X-Plane REST API: %s", resp.StatusCode, string(body))
	}

	var response datarefsResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return fmt.Errorf("error decoding response body: %w", err)
	}

	names := make(map[int64]string, len(response.Data))
	for _, info := range response.Data {
		names[info.ID] = info.Name
	}
	if len(names) != len(Datarefs) {
		return fmt.Errorf("only %d of %d dataref ids were received", len(names), len(Datarefs))
	}
	s.names = names

	s.logger.Info().Int("datarefs", len(names)).Msg("Resolved dataref ids")
	return nil
}

// Run connects to the websocket, subscribes and calls tick every tick interval
// until ctx is cancelled. Ticks are skipped until every dataref has a value.
func (s *Source) Run(ctx context.Context, tick TickFunc) error {
	if s.names == nil {
		if err := s.Resolve(ctx); err != nil {
			return err
		}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.WebSocketURL, nil)
	if err != nil {
		return fmt.Errorf("could not connect to X-Plane websocket: %w", err)
	}
	defer conn.Close()
	s.logger.Info().Str("url", s.cfg.WebSocketURL).Msg("WebSocket connection established")

	if err := s.subscribe(conn); err != nil {
		return err
	}

	readErr := make(chan error, 1)
	go func() {
		readErr <- s.readLoop(conn)
	}()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return nil
		case err := <-readErr:
			return err
		case <-ticker.C:
			if r, ok := s.Reading(); ok {
				tick(r)
			}
		}
	}
}

func (s *Source) subscribe(conn *websocket.Conn) error {
	req := subscribeRequest{
		RequestID: s.requestID.Add(1),
		Type:      typeSubscribe,
	}
	for id := range s.names {
		req.Params.Datarefs = append(req.Params.Datarefs, subscribeDataref{ID: id})
	}

	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("failed to send subscription: %w", err)
	}
	s.logger.Debug().Int64("req_id", req.RequestID).Msg("Sent dataref subscription")
	return nil
}

func (s *Source) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info().Msg("Connection closed")
				return nil
			}
			return fmt.Errorf("websocket read: %w", err)
		}
		s.processMessage(data)
	}
}

func (s *Source) processMessage(data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn().Err(err).Msg("Malformed message from X-Plane")
		return
	}

	switch msg.Type {
	case typeUpdateValues:
		s.applyUpdate(msg.Data)
	case typeResult:
		if !msg.Success {
			s.logger.Error().
				Int64("req_id", msg.RequestID).
				Str("error_code", msg.ErrorCode).
				Str("error", msg.ErrorMsg).
				Msg("Request failed")
		}
	default:
		s.logger.Debug().Str("type", msg.Type).Msg("Ignoring message")
	}
}

func (s *Source) applyUpdate(values map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range values {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			s.logger.Warn().Str("id", key).Msg("Invalid dataref id")
			continue
		}
		name, ok := s.names[id]
		if !ok {
			continue
		}
		s.latest[name] = value
	}
}

// Reading assembles the latest values into a reading. ok is false until every
// dataref has been received. The crash signal is raised once per crash.
func (s *Source) Reading() (telemetry.Reading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.latest.complete() {
		return telemetry.Reading{}, false
	}

	r := s.latest.reading()
	crashed := s.latest.flag(drCrashed)
	if crashed && !s.wasCrashed {
		r.Signal = telemetry.SignalCrashed
	}
	s.wasCrashed = crashed
	return r, true
}

// buildURLWithFilters adds a filter[name] parameter for every dataref
func buildURLWithFilters(urlStr string, names []string) (string, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return "", fmt.Errorf("error parsing base URL: %w", err)
	}

	q := u.Query()
	for _, name := range names {
		q.Add("filter[name]", name)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

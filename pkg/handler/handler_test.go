package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/geekprojects/blackbox/pkg/agent"
	"github.com/geekprojects/blackbox/pkg/phase"
	"github.com/geekprojects/blackbox/pkg/recorder"
	"github.com/geekprojects/blackbox/pkg/store"
	"github.com/geekprojects/blackbox/pkg/telemetry"
)

type staticSnapshot recorder.Snapshot

func (s staticSnapshot) Snapshot() recorder.Snapshot {
	return recorder.Snapshot(s)
}

type testServer struct {
	*httptest.Server
	store *store.Memory
	agent *agent.BaseAgent
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mem := store.NewMemory()
	a := agent.NewBaseAgent(agent.Config{Type: agent.AgentTypeReceiver}, zerolog.Nop())
	require.NoError(t, a.Start(context.Background()))
	a.AddHealthCheck("store", mem.Health)

	r := NewRouter(RouterConfig{Agent: a, Logger: zerolog.Nop()})
	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/flights", NewFlightHandler(mem, zerolog.Nop(), WithLivePoll(20*time.Millisecond)).Routes())
		r.Mount("/status", NewStatusHandler(staticSnapshot{
			FlightKey: 42,
			Phase:     telemetry.PhaseApproach,
			PhaseName: "Approach",
			Status:    phase.Status{Phase: telemetry.PhaseApproach, Text: "DESCENT: Approaching ground"},
		}).Routes())
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: mem, agent: a}
}

func (s *testServer) seed(t *testing.T, origin string, timestamps ...uint64) uint64 {
	t.Helper()
	ctx := context.Background()
	id, err := s.store.CreateFlight(ctx, telemetry.Flight{Origin: origin, StartTime: time.Now().UTC()})
	require.NoError(t, err)
	for _, ts := range timestamps {
		require.NoError(t, s.store.AppendState(ctx, id, telemetry.State{Timestamp: ts, Phase: telemetry.PhaseFlight}))
	}
	return id
}

func (s *testServer) do(t *testing.T, method, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func flightPath(id uint64, suffix string) string {
	return "/api/v1/flights/" + strconv.FormatUint(id, 10) + suffix
}

func TestListFlights(t *testing.T) {
	srv := newTestServer(t)
	srv.seed(t, "EGLL")
	srv.seed(t, "EGKK")
	srv.seed(t, "EGSS")

	resp, body := srv.do(t, http.MethodGet, "/api/v1/flights?limit=2&offset=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Correlation-ID"))

	var list FlightListResponse
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, 2, list.Limit)
	assert.Equal(t, 1, list.Offset)
}

func TestFlightEndpoints(t *testing.T) {
	srv := newTestServer(t)
	id := srv.seed(t, "EGLL", 100, 200, 300)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantStates int
	}{
		{name: "get flight", method: http.MethodGet, path: flightPath(id, ""), wantStatus: http.StatusOK},
		{name: "unknown flight", method: http.MethodGet, path: flightPath(id+99, ""), wantStatus: http.StatusNotFound},
		{name: "bad id", method: http.MethodGet, path: "/api/v1/flights/abc", wantStatus: http.StatusBadRequest},
		{name: "all states", method: http.MethodGet, path: flightPath(id, "/states"), wantStatus: http.StatusOK, wantStates: 3},
		{name: "states since", method: http.MethodGet, path: flightPath(id, "/states?since=100"), wantStatus: http.StatusOK, wantStates: 2},
		{name: "states since last", method: http.MethodGet, path: flightPath(id, "/states?since=300"), wantStatus: http.StatusOK},
		{name: "bad since", method: http.MethodGet, path: flightPath(id, "/states?since=-1"), wantStatus: http.StatusBadRequest},
		{name: "states of unknown flight", method: http.MethodGet, path: flightPath(id+99, "/states"), wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := srv.do(t, tt.method, tt.path)
			require.Equal(t, tt.wantStatus, resp.StatusCode, string(body))

			if strings.Contains(tt.path, "/states") && tt.wantStatus == http.StatusOK {
				var states StateListResponse
				require.NoError(t, json.Unmarshal(body, &states))
				assert.Len(t, states.States, tt.wantStates)
				assert.NotNil(t, states.States)
			}
		})
	}
}

func TestDeleteFlight(t *testing.T) {
	srv := newTestServer(t)
	id := srv.seed(t, "EGLL", 1)

	resp, _ := srv.do(t, http.MethodDelete, flightPath(id, ""))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body := srv.do(t, http.MethodDelete, flightPath(id, ""))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, "not_found", errResp.Error)
}

func TestClearFlights(t *testing.T) {
	srv := newTestServer(t)
	srv.seed(t, "EGLL", 1, 2)
	srv.seed(t, "EGKK", 3)

	resp, body := srv.do(t, http.MethodDelete, "/api/v1/flights")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var clear ClearResponse
	require.NoError(t, json.Unmarshal(body, &clear))
	assert.True(t, clear.Success)
	assert.Equal(t, store.ClearResult{Flights: 2, States: 3}, clear.Deleted)

	_, body = srv.do(t, http.MethodGet, "/api/v1/flights")
	var list FlightListResponse
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Empty(t, list.Flights)
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, body := srv.do(t, http.MethodGet, "/api/v1/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap recorder.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, uint64(42), snap.FlightKey)
	assert.Equal(t, "Approach", snap.PhaseName)
	assert.Equal(t, "DESCENT: Approaching ground", snap.Status.Text)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	resp, body := srv.do(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "running", health.Status)
	assert.Equal(t, "receiver", health.AgentType)

	srv.agent.RecordMessage("committed", "state")
	resp, body = srv.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "blackbox_records_total")
	assert.Contains(t, string(body), `blackbox_http_requests_total{method="GET",path="/health",status="200"} 1`)

	require.NoError(t, srv.agent.Stop(context.Background()))
	resp, _ = srv.do(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestLiveFeed(t *testing.T) {
	srv := newTestServer(t)
	id := srv.seed(t, "EGLL", 100, 200)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + flightPath(id, "/live?since=100")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var msg LiveMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, MessageTypeStates, msg.Type)
	require.Len(t, msg.States, 1)
	assert.Equal(t, uint64(200), msg.States[0].Timestamp)

	require.NoError(t, srv.store.AppendState(ctx, id, telemetry.State{Timestamp: 300, Phase: telemetry.PhaseApproach}))

	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	require.Len(t, msg.States, 1)
	assert.Equal(t, uint64(300), msg.States[0].Timestamp)
	assert.Equal(t, telemetry.PhaseApproach, msg.States[0].Phase)

	// deleting the flight ends the feed
	require.NoError(t, srv.store.DeleteFlight(ctx, id))
	err = wsjson.Read(ctx, conn, &msg)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestLiveFeedUnknownFlight(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := srv.do(t, http.MethodGet, flightPath(7, "/live"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

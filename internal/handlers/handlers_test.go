package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/signal-relay/config"
	"github.com/mossy-p/signal-relay/internal/metrics"
	"github.com/mossy-p/signal-relay/internal/models"
	"github.com/mossy-p/signal-relay/internal/rooms"
	"github.com/mossy-p/signal-relay/internal/signaling"
	"github.com/stretchr/testify/require"
)

func testConfig(origins ...string) *config.Config {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &config.Config{
		Environment:     "test",
		SignalPath:      "/signal",
		AllowedOrigins:  origins,
		SendBuffer:      16,
		MaxMessageBytes: 4096,
		PongWait:        5 * time.Second,
		PingPeriod:      4 * time.Second,
		WriteWait:       time.Second,
	}
}

type testServer struct {
	*httptest.Server
	ws *SignalingHandler
}

func newTestServer(t *testing.T, cfg *config.Config) (*testServer, *rooms.Registry, *metrics.Metrics) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := rooms.NewRegistry()
	m := metrics.New()
	coordinator := signaling.NewCoordinator(registry, log, signaling.WithMetrics(m))
	ws := NewSignalingHandler(coordinator, cfg, log)

	ts := httptest.NewServer(NewRouter(cfg, coordinator, ws, m, log))
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, ws: ws}, registry, m
}

func dial(t *testing.T, ts *testServer) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/signal"
	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readMessage(t *testing.T, c *websocket.Conn) (models.SignalMessage, []byte) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := c.ReadMessage()
	require.NoError(t, err)

	var msg models.SignalMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg, raw
}

func expectType(t *testing.T, c *websocket.Conn, want models.SignalType) models.SignalMessage {
	t.Helper()
	msg, _ := readMessage(t, c)
	require.Equal(t, want, msg.Type)
	return msg
}

func TestWebSocketSignaling_FullSession(t *testing.T) {
	req := require.New(t)
	ts, registry, m := newTestServer(t, testConfig())

	// Scenario 1: A joins and waits
	a := dial(t, ts)
	req.NoError(a.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","roomId":"r1"}`)))
	joined := expectType(t, a, models.SignalTypeJoined)
	req.JSONEq(`{"participants":1,"message":"Signaling connected for room r1"}`, string(joined.Payload))
	expectType(t, a, models.SignalTypeWaiting)

	// Scenario 2: B joins, both are ready and A initiates
	b := dial(t, ts)
	req.NoError(b.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","roomId":"r1","sender":"bob"}`)))
	joined = expectType(t, b, models.SignalTypeJoined)
	req.JSONEq(`{"participants":2,"message":"Signaling connected for room r1"}`, string(joined.Payload))
	ready := expectType(t, b, models.SignalTypeReady)
	req.JSONEq(`{"initiator":false}`, string(ready.Payload))
	ready = expectType(t, a, models.SignalTypeReady)
	req.JSONEq(`{"initiator":true}`, string(ready.Payload))

	// Scenario 3: A's sdp reaches B byte for byte
	offer := []byte(`{"type":"sdp","roomId":"r1","payload":{"sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1","type":"offer"}}`)
	req.NoError(a.WriteMessage(websocket.TextMessage, offer))
	_, raw := readMessage(t, b)
	req.Equal(offer, raw)

	// Scenario 4: B leaves, A is told and the room survives
	req.NoError(b.Close())
	expectType(t, a, models.SignalTypePeerLeft)
	room, ok := registry.Find("r1")
	req.True(ok)
	req.Equal(1, room.Size())

	// Scenario 5: A leaves and the room is evicted
	req.NoError(a.Close())
	req.Eventually(func() bool {
		_, ok := registry.Find("r1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
	req.Eventually(func() bool { return m.Get(metrics.ConnectionsClosed) == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketSignaling_SignalBeforeJoinKeepsConnectionOpen(t *testing.T) {
	req := require.New(t)
	ts, registry, _ := newTestServer(t, testConfig())
	c := dial(t, ts)

	// Scenario 6: sdp without join is rejected and creates nothing
	req.NoError(c.WriteMessage(websocket.TextMessage, []byte(`{"type":"sdp","roomId":"r1","payload":{}}`)))
	msg := expectType(t, c, models.SignalTypeError)
	req.Empty(msg.RoomID)
	req.Equal(models.ServerSender, msg.Sender)
	_, ok := registry.Find("r1")
	req.False(ok)

	// Malformed input is answered too, and the connection still works
	req.NoError(c.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	expectType(t, c, models.SignalTypeError)

	req.NoError(c.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","roomId":"r1"}`)))
	expectType(t, c, models.SignalTypeJoined)
	expectType(t, c, models.SignalTypeWaiting)
}

func TestWebSocketSignaling_OversizedFrameClosesConnection(t *testing.T) {
	req := require.New(t)
	ts, _, _ := newTestServer(t, testConfig())
	c := dial(t, ts)

	big := `{"type":"join","roomId":"` + strings.Repeat("x", 8192) + `"}`
	req.NoError(c.WriteMessage(websocket.TextMessage, []byte(big)))

	req.NoError(c.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err := c.ReadMessage()
	req.Error(err)
}

func TestRoomsAPI(t *testing.T) {
	req := require.New(t)
	ts, _, _ := newTestServer(t, testConfig())

	resp, err := http.Get(ts.URL + "/api/rooms/r1")
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusNotFound, resp.StatusCode)

	c := dial(t, ts)
	req.NoError(c.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","roomId":"r1","sender":"alice"}`)))
	expectType(t, c, models.SignalTypeJoined)

	resp, err = http.Get(ts.URL + "/api/rooms/r1")
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)

	var info models.RoomInfo
	req.NoError(json.NewDecoder(resp.Body).Decode(&info))
	req.Equal(models.RoomInfo{ID: "r1", Participants: 1, ClientIDs: []string{"alice"}}, info)

	list, err := http.Get(ts.URL + "/api/rooms")
	req.NoError(err)
	defer list.Body.Close()
	var body struct {
		Rooms []models.RoomInfo `json:"rooms"`
	}
	req.NoError(json.NewDecoder(list.Body).Decode(&body))
	req.Len(body.Rooms, 1)
	req.Equal("r1", body.Rooms[0].ID)
}

func TestHealthAndMetrics(t *testing.T) {
	req := require.New(t)
	ts, _, _ := newTestServer(t, testConfig())

	resp, err := http.Get(ts.URL + "/health")
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)

	dial(t, ts)
	req.Eventually(func() bool {
		resp, err := http.Get(ts.URL + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return strings.Contains(string(body), `signal_relay_events_total{event="connections_opened"} 1`)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOriginFilter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(OriginFilter([]string{"http://good.test"}))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := []struct {
		name   string
		method string
		origin string
		status int
	}{
		{"no origin", http.MethodGet, "", http.StatusOK},
		{"allowed", http.MethodGet, "http://good.test", http.StatusOK},
		{"rejected", http.MethodGet, "http://evil.test", http.StatusForbidden},
		{"preflight", http.MethodOptions, "http://good.test", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(tc.method, "/x", nil)
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, r)
			require.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK && tc.origin != "" {
				require.Equal(t, tc.origin, rec.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestOriginFilter_WildcardAdmitsAnyOrigin(t *testing.T) {
	req := require.New(t)
	ts, _, _ := newTestServer(t, testConfig("*"))

	header := http.Header{}
	header.Set("Origin", "http://anywhere.test")
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/signal"
	c, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	req.NoError(err)
	_ = c.Close()
}

func TestSignalingHandler_ShutdownDisconnectsEveryPeer(t *testing.T) {
	req := require.New(t)
	ts, registry, m := newTestServer(t, testConfig())

	a, b := dial(t, ts), dial(t, ts)
	req.NoError(a.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","roomId":"r1"}`)))
	expectType(t, a, models.SignalTypeJoined)
	expectType(t, a, models.SignalTypeWaiting)
	req.NoError(b.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","roomId":"r1"}`)))
	expectType(t, b, models.SignalTypeJoined)

	// When the server shuts down
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req.NoError(ts.ws.Shutdown(ctx))

	// Then every connection went through disconnect and the room is gone
	req.Equal(uint64(2), m.Get(metrics.ConnectionsClosed))
	_, ok := registry.Find("r1")
	req.False(ok)

	// And each client is told the server is going away
	for _, c := range []*websocket.Conn{a, b} {
		req.NoError(c.SetReadDeadline(time.Now().Add(2 * time.Second)))
		var err error
		for err == nil {
			_, _, err = c.ReadMessage()
		}
		req.True(websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	}
}

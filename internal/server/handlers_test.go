package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimimightyowl/live-poll-bot/internal/broadcast"
	"github.com/mimimightyowl/live-poll-bot/internal/config"
	"github.com/mimimightyowl/live-poll-bot/internal/domain"
	ws "github.com/mimimightyowl/live-poll-bot/internal/websocket"
)

// mockSource is a configurable ResultsSource for handler tests.
type mockSource struct {
	mu       sync.Mutex
	snapshot *domain.PollResults
	err      error
	pingErr  error
}

func (m *mockSource) GetPollResults(_ context.Context, _ int64) (*domain.PollResults, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.snapshot, nil
}

func (m *mockSource) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

func testResults(pollID int64) *domain.PollResults {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &domain.PollResults{
		ID:        pollID,
		Question:  "Pineapple on pizza?",
		CreatedBy: 2,
		CreatedAt: now,
		UpdatedAt: now,
		Options: []domain.PollOptionResult{
			{ID: 1, Text: "Yes", VoteCount: 1},
			{ID: 2, Text: "No", VoteCount: 9},
		},
		TotalVotes: 10,
	}
}

func newTestServer(t *testing.T, source *mockSource) *Server {
	return newTestServerWithLimit(t, source, 100)
}

func newTestServerWithLimit(t *testing.T, source *mockSource, maxSubscriptions int) *Server {
	t.Helper()

	cfg := &config.Config{
		AppEnv:                  "test",
		Port:                    "0",
		ResultsSource:           config.ResultsSourceAPI,
		PollAPIURL:              "http://localhost",
		MaxSubscriptionsPerConn: maxSubscriptions,
	}

	registry := ws.NewRegistry(clockwork.NewRealClock(), cfg.MaxSubscriptionsPerConn)
	t.Cleanup(func() { registry.Stop() })

	engine := broadcast.NewEngine(source, registry)
	return NewServer(cfg, registry, engine, source)
}

// dialWebSocket connects a websocket client to the test server's /ws route.
func dialWebSocket(t *testing.T, ts *httptest.Server) *gws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *gws.Conn) (string, json.RawMessage) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var envelope ws.Envelope
	require.NoError(t, json.Unmarshal(data, &envelope))
	return envelope.Type, envelope.Payload
}

func waitForConnections(srv *Server, expected int) bool {
	for i := 0; i < 100; i++ {
		if srv.registry.TotalConnections() == expected {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestHandleNotifyPoll_InvalidID(t *testing.T) {
	srv := newTestServer(t, &mockSource{})

	for _, pollID := range []string{"abc", "-1", "0", "1.5"} {
		req := httptest.NewRequest(http.MethodPost, "/api/notify/poll/"+pollID, nil)
		rec := httptest.NewRecorder()
		srv.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code, "poll id %q", pollID)
	}
}

func TestHandleNotifyPoll_NotFound(t *testing.T) {
	srv := newTestServer(t, &mockSource{err: domain.ErrPollNotFound})

	req := httptest.NewRequest(http.MethodPost, "/api/notify/poll/99", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleNotifyPoll_SourceUnavailable(t *testing.T) {
	srv := newTestServer(t, &mockSource{err: domain.ErrResultsUnavailable})

	req := httptest.NewRequest(http.MethodPost, "/api/notify/poll/1", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleNotifyPoll_NoSubscribers(t *testing.T) {
	srv := newTestServer(t, &mockSource{snapshot: testResults(1)})

	req := httptest.NewRequest(http.MethodPost, "/api/notify/poll/1", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"pollId":1,"subscriberCount":0}`, rec.Body.String())
}

func TestHandleLiveness(t *testing.T) {
	srv := newTestServer(t, &mockSource{})

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleReadiness(t *testing.T) {
	srv := newTestServer(t, &mockSource{})

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, float64(0), body["connections"])
}

func TestHandleReadiness_SourceDown(t *testing.T) {
	srv := newTestServer(t, &mockSource{pingErr: context.DeadlineExceeded})

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebSocket_SubscribeAck(t *testing.T) {
	srv := newTestServer(t, &mockSource{})
	ts := httptest.NewServer(srv.echo)
	t.Cleanup(ts.Close)

	conn := dialWebSocket(t, ts)
	require.True(t, waitForConnections(srv, 1))

	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte(`{"type":"subscribe","payload":{"poll_id":1}}`)))

	msgType, payload := readEnvelope(t, conn)
	assert.Equal(t, ws.TypeSubscribe, msgType)
	assert.JSONEq(t, `{"poll_id":1}`, string(payload))
	assert.Equal(t, 1, srv.registry.SubscriberCount(1))
}

func TestWebSocket_UnsubscribeNeverSubscribedAck(t *testing.T) {
	srv := newTestServer(t, &mockSource{})
	ts := httptest.NewServer(srv.echo)
	t.Cleanup(ts.Close)

	conn := dialWebSocket(t, ts)
	require.True(t, waitForConnections(srv, 1))

	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte(`{"type":"unsubscribe","payload":{"poll_id":5}}`)))

	msgType, payload := readEnvelope(t, conn)
	assert.Equal(t, ws.TypeUnsubscribe, msgType)
	assert.JSONEq(t, `{"poll_id":5}`, string(payload))
}

func TestWebSocket_MalformedMessages(t *testing.T) {
	srv := newTestServer(t, &mockSource{})
	ts := httptest.NewServer(srv.echo)
	t.Cleanup(ts.Close)

	conn := dialWebSocket(t, ts)
	require.True(t, waitForConnections(srv, 1))

	cases := []struct {
		name string
		raw  string
		code string
	}{
		{"not json", `garbage`, ws.CodeInvalidMessage},
		{"unknown type", `{"type":"vote","payload":{"poll_id":1}}`, ws.CodeUnknownType},
		{"string poll_id", `{"type":"subscribe","payload":{"poll_id":"abc"}}`, ws.CodeInvalidPollID},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte(tc.raw)))

			msgType, payload := readEnvelope(t, conn)
			assert.Equal(t, ws.TypeError, msgType)

			var errPayload ws.ErrorPayload
			require.NoError(t, json.Unmarshal(payload, &errPayload))
			assert.Equal(t, tc.code, errPayload.Code)

			// The offending connection stays registered and the index is untouched.
			assert.Equal(t, 1, srv.registry.TotalConnections())
			assert.Equal(t, 0, srv.registry.SubscriberCount(1))
		})
	}
}

func TestWebSocket_SubscriptionLimitRejected(t *testing.T) {
	srv := newTestServerWithLimit(t, &mockSource{}, 1)
	ts := httptest.NewServer(srv.echo)
	t.Cleanup(ts.Close)

	conn := dialWebSocket(t, ts)
	require.True(t, waitForConnections(srv, 1))

	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte(`{"type":"subscribe","payload":{"poll_id":1}}`)))
	msgType, _ := readEnvelope(t, conn)
	require.Equal(t, ws.TypeSubscribe, msgType)

	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte(`{"type":"subscribe","payload":{"poll_id":2}}`)))
	msgType, payload := readEnvelope(t, conn)
	assert.Equal(t, ws.TypeError, msgType)

	var errPayload ws.ErrorPayload
	require.NoError(t, json.Unmarshal(payload, &errPayload))
	assert.Equal(t, ws.CodeSubscriptionLimit, errPayload.Code)

	// The first subscription stands, the rejected one never lands, and the
	// connection stays registered.
	assert.Equal(t, 1, srv.registry.SubscriberCount(1))
	assert.Equal(t, 0, srv.registry.SubscriberCount(2))
	assert.Equal(t, 1, srv.registry.TotalConnections())
}

func TestWebSocket_EndToEnd(t *testing.T) {
	source := &mockSource{snapshot: testResults(1)}
	srv := newTestServer(t, source)
	ts := httptest.NewServer(srv.echo)
	t.Cleanup(ts.Close)

	// Client connects and subscribes to poll 1.
	conn := dialWebSocket(t, ts)
	require.True(t, waitForConnections(srv, 1))

	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte(`{"type":"subscribe","payload":{"poll_id":1}}`)))
	msgType, _ := readEnvelope(t, conn)
	require.Equal(t, ws.TypeSubscribe, msgType)

	// External trigger fires; the client receives one poll_update.
	req := httptest.NewRequest(http.MethodPost, "/api/notify/poll/1", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"pollId":1,"subscriberCount":1}`, rec.Body.String())

	msgType, payload := readEnvelope(t, conn)
	require.Equal(t, ws.TypePollUpdate, msgType)

	var update ws.PollUpdatePayload
	require.NoError(t, json.Unmarshal(payload, &update))
	assert.Equal(t, int64(1), update.PollID)
	require.NotNil(t, update.Results)
	assert.Equal(t, 10, update.Results.TotalVotes)

	// Client disconnects; a second trigger reaches zero subscribers and is
	// still a success.
	conn.Close()
	require.True(t, waitForConnections(srv, 0))

	rec = httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/notify/poll/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"pollId":1,"subscriberCount":0}`, rec.Body.String())
}

func TestWebSocket_DisconnectCleansSubscriptions(t *testing.T) {
	srv := newTestServer(t, &mockSource{})
	ts := httptest.NewServer(srv.echo)
	t.Cleanup(ts.Close)

	conn := dialWebSocket(t, ts)
	require.True(t, waitForConnections(srv, 1))

	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte(`{"type":"subscribe","payload":{"poll_id":3}}`)))
	msgType, _ := readEnvelope(t, conn)
	require.Equal(t, ws.TypeSubscribe, msgType)
	require.Equal(t, 1, srv.registry.SubscriberCount(3))

	conn.Close()
	require.True(t, waitForConnections(srv, 0))
	assert.Equal(t, 0, srv.registry.SubscriberCount(3))
	assert.Empty(t, srv.registry.SubscribersOf(3))
}

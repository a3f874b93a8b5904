package results

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimimightyowl/live-poll-bot/internal/domain"
)

const resultsBody = `{
	"success": true,
	"data": {
		"id": 7,
		"question": "Best editor?",
		"created_by": 1,
		"created_at": "2025-06-01T12:00:00Z",
		"updated_at": "2025-06-01T12:30:00Z",
		"options": [
			{"id": 1, "text": "vim", "vote_count": 12},
			{"id": 2, "text": "emacs", "vote_count": 3}
		],
		"total_votes": 15
	}
}`

func newTestAPI(t *testing.T, handler http.HandlerFunc) *APIClient {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewAPIClient(ts.URL)
}

func TestAPIClient_GetPollResults(t *testing.T) {
	client := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/polls/7/results", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(resultsBody))
	})

	snapshot, err := client.GetPollResults(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, int64(7), snapshot.ID)
	assert.Equal(t, "Best editor?", snapshot.Question)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), snapshot.CreatedAt)
	require.Len(t, snapshot.Options, 2)
	assert.Equal(t, 12, snapshot.Options[0].VoteCount)
	assert.Equal(t, 15, snapshot.TotalVotes)
}

func TestAPIClient_PollNotFound(t *testing.T) {
	client := newTestAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetPollResults(context.Background(), 404)
	assert.ErrorIs(t, err, domain.ErrPollNotFound)
}

func TestAPIClient_UnsuccessfulBodyIsNotFound(t *testing.T) {
	client := newTestAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"data":null}`))
	})

	_, err := client.GetPollResults(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrPollNotFound)
}

func TestAPIClient_ServerError(t *testing.T) {
	client := newTestAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.GetPollResults(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrResultsUnavailable)
}

func TestAPIClient_MalformedBody(t *testing.T) {
	client := newTestAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})

	_, err := client.GetPollResults(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrResultsUnavailable)
}

func TestAPIClient_CircuitOpensAfterFailures(t *testing.T) {
	var hits int
	client := newTestAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	})

	// Trip the breaker: 60% failure rate over min 5 requests.
	for i := 0; i < 5; i++ {
		_, err := client.GetPollResults(context.Background(), 1)
		require.ErrorIs(t, err, domain.ErrResultsUnavailable)
	}
	require.Equal(t, 5, hits)

	// Open circuit fails fast without reaching the API.
	_, err := client.GetPollResults(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrResultsUnavailable)
	assert.Equal(t, 5, hits)
}

func TestAPIClient_Ping(t *testing.T) {
	client := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	assert.NoError(t, client.Ping(context.Background()))
}

func TestAPIClient_PingServerError(t *testing.T) {
	client := newTestAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	assert.Error(t, client.Ping(context.Background()))
}

package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"

	"github.com/mimimightyowl/live-poll-bot/internal/domain"
	"github.com/mimimightyowl/live-poll-bot/internal/metrics"
)

const (
	apiRequestTimeout = 10 * time.Second
	sourceAPI         = "api"
)

// APIClient fetches results snapshots from the poll API over HTTP.
// A circuit breaker guards the fetch path: when the API is down, callers
// fail fast with domain.ErrResultsUnavailable instead of piling up on
// timeouts.
type APIClient struct {
	baseURL string
	client  *http.Client
	breaker circuitbreaker.CircuitBreaker[any]
}

// NewAPIClient creates a client for the poll API at baseURL.
// Breaker settings: 60% failure rate over min 5 requests in a 10s window
// opens the circuit; 30s delay before half-open; 1 success closes it.
func NewAPIClient(baseURL string) *APIClient {
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(0.6, 5, 10*time.Second).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "poll_api",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			metrics.CircuitBreakerStateChanges.WithLabelValues("poll_api", e.NewState.String()).Inc()
			metrics.CircuitBreakerState.WithLabelValues("poll_api").Set(stateToFloat(e.NewState))
		}).
		Build()

	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: apiRequestTimeout},
		breaker: cb,
	}
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

// resultsResponse mirrors the poll API's GET /api/polls/{id}/results body.
type resultsResponse struct {
	Success bool                `json:"success"`
	Data    *domain.PollResults `json:"data"`
}

func (c *APIClient) GetPollResults(ctx context.Context, pollID int64) (*domain.PollResults, error) {
	start := time.Now()
	snapshot, err := c.getPollResults(ctx, pollID)
	metrics.ResultsFetchDuration.WithLabelValues(sourceAPI).Observe(time.Since(start).Seconds())
	metrics.ResultsFetchesTotal.WithLabelValues(sourceAPI, fetchStatus(err)).Inc()
	return snapshot, err
}

func (c *APIClient) getPollResults(ctx context.Context, pollID int64) (*domain.PollResults, error) {
	if !c.breaker.TryAcquirePermit() {
		return nil, fmt.Errorf("%w: %v", domain.ErrResultsUnavailable, circuitbreaker.ErrOpen)
	}

	url := fmt.Sprintf("%s/api/polls/%d/results", c.baseURL, pollID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.breaker.RecordError(err)
		return nil, fmt.Errorf("%w: %v", domain.ErrResultsUnavailable, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.breaker.RecordError(err)
		return nil, fmt.Errorf("%w: %v", domain.ErrResultsUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// The collaborator answered; a missing poll is not an outage.
		c.breaker.RecordSuccess()
		return nil, domain.ErrPollNotFound
	case resp.StatusCode != http.StatusOK:
		err := fmt.Errorf("%w: poll api returned status %d", domain.ErrResultsUnavailable, resp.StatusCode)
		c.breaker.RecordError(err)
		return nil, err
	}

	var body resultsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.breaker.RecordError(err)
		return nil, fmt.Errorf("%w: decoding response: %v", domain.ErrResultsUnavailable, err)
	}
	c.breaker.RecordSuccess()

	if !body.Success || body.Data == nil {
		return nil, domain.ErrPollNotFound
	}
	return body.Data, nil
}

// Ping checks whether the poll API is reachable, for readiness reporting.
func (c *APIClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("poll api health returned status %d", resp.StatusCode)
	}
	return nil
}

func fetchStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrPollNotFound):
		return "not_found"
	default:
		return "error"
	}
}

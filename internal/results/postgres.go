package results

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mimimightyowl/live-poll-bot/internal/domain"
	"github.com/mimimightyowl/live-poll-bot/internal/metrics"
)

const sourcePostgres = "postgres"

// Repository reads results snapshots straight from the poll database.
// It is read-only: the poll API owns the schema, this service only tallies.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(ctx context.Context, connString string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Repository{pool: pool}, nil
}

func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks database reachability, for readiness reporting.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) GetPollResults(ctx context.Context, pollID int64) (*domain.PollResults, error) {
	start := time.Now()
	snapshot, err := r.getPollResults(ctx, pollID)
	metrics.ResultsFetchDuration.WithLabelValues(sourcePostgres).Observe(time.Since(start).Seconds())
	metrics.ResultsFetchesTotal.WithLabelValues(sourcePostgres, fetchStatus(err)).Inc()
	return snapshot, err
}

func (r *Repository) getPollResults(ctx context.Context, pollID int64) (*domain.PollResults, error) {
	snapshot := &domain.PollResults{}

	pollQuery := `SELECT id, question, created_by, created_at, updated_at FROM polls WHERE id = $1`
	err := r.pool.QueryRow(ctx, pollQuery, pollID).Scan(
		&snapshot.ID,
		&snapshot.Question,
		&snapshot.CreatedBy,
		&snapshot.CreatedAt,
		&snapshot.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPollNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: querying poll: %v", domain.ErrResultsUnavailable, err)
	}

	optionsQuery := `
		SELECT
			po.id,
			po.text,
			COUNT(v.id)::int AS vote_count
		FROM poll_options po
		LEFT JOIN votes v ON po.id = v.poll_option_id
		WHERE po.poll_id = $1
		GROUP BY po.id, po.text
		ORDER BY po.id ASC`

	rows, err := r.pool.Query(ctx, optionsQuery, pollID)
	if err != nil {
		return nil, fmt.Errorf("%w: querying options: %v", domain.ErrResultsUnavailable, err)
	}
	defer rows.Close()

	options := make([]domain.PollOptionResult, 0)
	totalVotes := 0
	for rows.Next() {
		var option domain.PollOptionResult
		if err := rows.Scan(&option.ID, &option.Text, &option.VoteCount); err != nil {
			return nil, fmt.Errorf("%w: scanning option: %v", domain.ErrResultsUnavailable, err)
		}
		options = append(options, option)
		totalVotes += option.VoteCount
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading options: %v", domain.ErrResultsUnavailable, err)
	}

	snapshot.Options = options
	snapshot.TotalVotes = totalVotes
	return snapshot, nil
}

package domain

import (
	"context"
	"time"
)

// PollOptionResult is one option's tally within a results snapshot.
type PollOptionResult struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	VoteCount int    `json:"vote_count"`
}

// PollResults is a point-in-time tally for a poll. It is produced by the
// poll API (or read straight from its database) and re-serialized verbatim
// into outbound poll_update messages; this service never computes tallies
// itself.
type PollResults struct {
	ID         int64              `json:"id"`
	Question   string             `json:"question"`
	CreatedBy  int64              `json:"created_by"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
	Options    []PollOptionResult `json:"options"`
	TotalVotes int                `json:"total_votes"`
}

// ResultsSource fetches a fresh results snapshot for a poll.
// Implementations return ErrPollNotFound when the poll does not exist and
// wrap transport-level failures with ErrResultsUnavailable.
type ResultsSource interface {
	GetPollResults(ctx context.Context, pollID int64) (*PollResults, error)
}

package domain

import "errors"

var (
	ErrPollNotFound       = errors.New("poll not found")
	ErrResultsUnavailable = errors.New("poll results unavailable")
)

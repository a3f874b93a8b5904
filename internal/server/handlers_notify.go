package server

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mimimightyowl/live-poll-bot/internal/domain"
	"github.com/mimimightyowl/live-poll-bot/internal/errors"
)

// notifyResponse mirrors the original notification API body.
type notifyResponse struct {
	Success         bool  `json:"success"`
	PollID          int64 `json:"pollId"`
	SubscriberCount int   `json:"subscriberCount"`
}

// handleNotifyPoll is the HTTP binding of the notification trigger: the poll
// API calls it after a vote mutation, and the engine fans the fresh snapshot
// out to every subscriber of that poll.
func (s *Server) handleNotifyPoll(c echo.Context) error {
	pollID, err := strconv.ParseInt(c.Param("pollId"), 10, 64)
	if err != nil || pollID <= 0 {
		return errors.ValidationError("invalid poll ID").WithContext("poll_id", c.Param("pollId"))
	}

	delivery, err := s.engine.BroadcastPollUpdate(c.Request().Context(), pollID)
	if stderrors.Is(err, domain.ErrPollNotFound) {
		return errors.NotFoundError(fmt.Sprintf("poll %d not found", pollID))
	}
	if err != nil {
		return errors.ExternalError("failed to fetch poll results", err).WithContext("poll_id", pollID)
	}

	return c.JSON(http.StatusOK, notifyResponse{
		Success:         true,
		PollID:          pollID,
		SubscriberCount: delivery.SubscriberCount(),
	})
}

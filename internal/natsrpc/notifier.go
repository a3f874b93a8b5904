// Package natsrpc exposes the poll update notification trigger over NATS
// request/reply, as a thin RPC alternative to the HTTP endpoint.
package natsrpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mimimightyowl/live-poll-bot/internal/domain"
	"github.com/mimimightyowl/live-poll-bot/internal/websocket"
)

// SubjectNotifyPoll is the request/reply subject for vote mutation
// notifications from the poll API.
const SubjectNotifyPoll = "livepoll.notify.poll"

const requestTimeout = 10 * time.Second

// Response codes for failed requests.
const (
	CodeInvalidArgument = "invalid_argument"
	CodeNotFound        = "not_found"
	CodeInternal        = "internal"
)

type NotifyRequest struct {
	PollID int64 `json:"poll_id"`
}

type NotifyResponse struct {
	Success         bool   `json:"success"`
	PollID          int64  `json:"poll_id,omitempty"`
	SubscriberCount int    `json:"subscriber_count"`
	Error           string `json:"error,omitempty"`
	Code            string `json:"code,omitempty"`
}

// broadcaster is the slice of the broadcast engine the notifier needs.
type broadcaster interface {
	BroadcastPollUpdate(ctx context.Context, pollID int64) (websocket.Delivery, error)
}

// Notifier serves NotifyPollUpdate requests over a NATS connection.
type Notifier struct {
	conn         *nats.Conn
	engine       broadcaster
	subscription *nats.Subscription
}

// Start connects to NATS and subscribes to the notification subject.
func Start(url string, engine broadcaster) (*Notifier, error) {
	conn, err := nats.Connect(url, nats.Name("live-poll-bot-realtime"))
	if err != nil {
		return nil, err
	}

	n := &Notifier{conn: conn, engine: engine}
	subscription, err := conn.Subscribe(SubjectNotifyPoll, n.handleRequest)
	if err != nil {
		conn.Close()
		return nil, err
	}
	n.subscription = subscription

	slog.Info("NATS notifier started", "subject", SubjectNotifyPoll)
	return n, nil
}

func (n *Notifier) handleRequest(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	response := n.process(ctx, msg.Data)
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to marshal notify response", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Error("Failed to respond to notify request", "error", err)
	}
}

// process translates one request into a broadcast and the broadcast outcome
// back into a response.
func (n *Notifier) process(ctx context.Context, data []byte) NotifyResponse {
	var request NotifyRequest
	if err := json.Unmarshal(data, &request); err != nil || request.PollID <= 0 {
		return NotifyResponse{Success: false, Error: "invalid poll_id", Code: CodeInvalidArgument}
	}

	delivery, err := n.engine.BroadcastPollUpdate(ctx, request.PollID)
	if errors.Is(err, domain.ErrPollNotFound) {
		return NotifyResponse{Success: false, PollID: request.PollID, Error: err.Error(), Code: CodeNotFound}
	}
	if err != nil {
		return NotifyResponse{Success: false, PollID: request.PollID, Error: err.Error(), Code: CodeInternal}
	}

	return NotifyResponse{
		Success:         true,
		PollID:          request.PollID,
		SubscriberCount: delivery.SubscriberCount(),
	}
}

// Close drains the subscription so in-flight requests finish, then closes
// the connection.
func (n *Notifier) Close() {
	if err := n.conn.Drain(); err != nil {
		slog.Error("Failed to drain NATS connection", "error", err)
		n.conn.Close()
	}
}

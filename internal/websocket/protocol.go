package websocket

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/mimimightyowl/live-poll-bot/internal/domain"
)

// Message types exchanged with clients.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePollUpdate  = "poll_update"
	TypeError       = "error"
)

// Error codes carried in error envelopes.
const (
	CodeInvalidMessage    = "invalid_message"
	CodeUnknownType       = "unknown_type"
	CodeInvalidPollID     = "invalid_poll_id"
	CodeSubscriptionLimit = "subscription_limit"
)

// Decode failures for inbound control messages.
var (
	ErrMalformedMessage = errors.New("invalid message format")
	ErrUnknownType      = errors.New("unknown message type")
	ErrInvalidPollID    = errors.New("invalid poll_id")
)

// Envelope is the tagged wire message. Payload stays raw until the type tag
// has been inspected.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// PollPayload is the payload of subscribe/unsubscribe messages and their acks.
type PollPayload struct {
	PollID int64 `json:"poll_id"`
}

// ErrorPayload is the payload of error envelopes.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// PollUpdatePayload carries a fresh results snapshot to subscribers.
type PollUpdatePayload struct {
	PollID  int64               `json:"poll_id"`
	Results *domain.PollResults `json:"results"`
}

// ClientCommand is the decoded form of an inbound control message.
type ClientCommand struct {
	Type   string
	PollID int64
}

// DecodeClientMessage parses an inbound frame into a ClientCommand, rejecting
// unknown shapes up front instead of failing on deep field access later.
func DecodeClientMessage(data []byte) (ClientCommand, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return ClientCommand{}, ErrMalformedMessage
	}

	switch envelope.Type {
	case TypeSubscribe, TypeUnsubscribe:
	default:
		return ClientCommand{}, ErrUnknownType
	}

	var payload PollPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil || payload.PollID <= 0 {
		return ClientCommand{Type: envelope.Type}, ErrInvalidPollID
	}

	return ClientCommand{Type: envelope.Type, PollID: payload.PollID}, nil
}

type outboundEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// EncodeAck builds the acknowledgment envelope echoed back after a
// successful subscribe or unsubscribe.
func EncodeAck(msgType string, pollID int64) []byte {
	return mustEncode(outboundEnvelope{Type: msgType, Payload: PollPayload{PollID: pollID}})
}

// EncodeError builds an error envelope for the offending connection.
func EncodeError(message, code string) []byte {
	return mustEncode(outboundEnvelope{Type: TypeError, Payload: ErrorPayload{Message: message, Code: code}})
}

// EncodePollUpdate builds a poll_update envelope carrying the snapshot verbatim.
func EncodePollUpdate(pollID int64, results *domain.PollResults) ([]byte, error) {
	return json.Marshal(outboundEnvelope{Type: TypePollUpdate, Payload: PollUpdatePayload{PollID: pollID, Results: results}})
}

func mustEncode(envelope outboundEnvelope) []byte {
	data, err := json.Marshal(envelope)
	if err != nil {
		// Only reachable if the payload types above stop being marshalable.
		slog.Error("Failed to marshal outbound envelope", "type", envelope.Type, "error", err)
		return nil
	}
	return data
}

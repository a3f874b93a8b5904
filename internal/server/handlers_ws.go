package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/mimimightyowl/live-poll-bot/internal/logging"
	"github.com/mimimightyowl/live-poll-bot/internal/metrics"
	ws "github.com/mimimightyowl/live-poll-bot/internal/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // clients connect from the poll web apps on other origins
	},
}

func (s *Server) handleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade WebSocket: %w", err)
	}

	client := s.registry.Register(conn)
	log := logging.WithConnection(client.ID.String())
	log.Info("WebSocket client connected")

	// Read pump — blocks until the client closes or the transport errors.
	// Either way the connection is unregistered before the handle is dropped.
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		s.handleClientMessage(client, data)
	}

	s.registry.Unregister(client.ID)
	log.Info("WebSocket client disconnected")

	return nil
}

// handleClientMessage processes one inbound control message. Malformed
// input never tears the connection down: the offending client gets exactly
// one error envelope and stays registered.
func (s *Server) handleClientMessage(client *ws.Client, data []byte) {
	cmd, err := ws.DecodeClientMessage(data)
	if err != nil {
		s.rejectClientMessage(client, cmd, err)
		return
	}

	switch cmd.Type {
	case ws.TypeSubscribe:
		if err := s.registry.Subscribe(client.ID, cmd.PollID); err != nil {
			metrics.WebSocketControlMessagesTotal.WithLabelValues(cmd.Type, "rejected").Inc()
			client.Send(ws.EncodeError(err.Error(), ws.CodeSubscriptionLimit))
			return
		}
		metrics.WebSocketControlMessagesTotal.WithLabelValues(cmd.Type, "ok").Inc()
		client.Send(ws.EncodeAck(ws.TypeSubscribe, cmd.PollID))
	case ws.TypeUnsubscribe:
		// Unsubscribing from a poll the client never watched is a no-op
		// and still acknowledged.
		_ = s.registry.Unsubscribe(client.ID, cmd.PollID)
		metrics.WebSocketControlMessagesTotal.WithLabelValues(cmd.Type, "ok").Inc()
		client.Send(ws.EncodeAck(ws.TypeUnsubscribe, cmd.PollID))
	}
}

func (s *Server) rejectClientMessage(client *ws.Client, cmd ws.ClientCommand, err error) {
	msgType := cmd.Type
	if msgType == "" {
		msgType = "unknown"
	}
	metrics.WebSocketControlMessagesTotal.WithLabelValues(msgType, "rejected").Inc()

	switch err {
	case ws.ErrMalformedMessage:
		client.Send(ws.EncodeError("Invalid message format", ws.CodeInvalidMessage))
	case ws.ErrUnknownType:
		client.Send(ws.EncodeError("Unknown message type", ws.CodeUnknownType))
	case ws.ErrInvalidPollID:
		client.Send(ws.EncodeError("Invalid poll_id", ws.CodeInvalidPollID))
	default:
		client.Send(ws.EncodeError("Invalid message", ws.CodeInvalidMessage))
	}
}

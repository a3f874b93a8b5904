package websocket

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/mimimightyowl/live-poll-bot/internal/metrics"
)

// ErrSubscriptionLimit is returned by Subscribe when a connection has
// reached its per-connection subscription cap.
var ErrSubscriptionLimit = errors.New("subscription limit reached")

// Client is the handle the transport layer holds for a registered
// connection. The registry never shares its internal state through it.
type Client struct {
	ID     uuid.UUID
	writer *clientWriter
}

// Send queues an envelope for delivery to this client. False means the
// client is gone or its buffer is full.
func (c *Client) Send(msg []byte) bool {
	return c.writer.trySend(msg)
}

// Delivery reports the outcome of one broadcast fan-out.
type Delivery struct {
	Sent   int
	Failed int
}

// SubscriberCount is the number of connections the broadcast was attempted
// for.
func (d Delivery) SubscriberCount() int {
	return d.Sent + d.Failed
}

// --- Command types ---

type registryCmd interface{ isRegistryCmd() }

type baseRegistryCmd struct{}

func (baseRegistryCmd) isRegistryCmd() {}

type registerCmd struct {
	baseRegistryCmd
	connection   *websocket.Conn
	replyChannel chan *Client
}

type unregisterCmd struct {
	baseRegistryCmd
	connectionID uuid.UUID
}

type subscribeCmd struct {
	baseRegistryCmd
	connectionID uuid.UUID
	pollID       int64
	errorChannel chan error
}

type unsubscribeCmd struct {
	baseRegistryCmd
	connectionID uuid.UUID
	pollID       int64
	doneChannel  chan struct{}
}

type broadcastCmd struct {
	baseRegistryCmd
	pollID       int64
	data         []byte
	replyChannel chan Delivery
}

type subscribersOfCmd struct {
	baseRegistryCmd
	pollID       int64
	replyChannel chan []uuid.UUID
}

type subscriberCountCmd struct {
	baseRegistryCmd
	pollID       int64
	replyChannel chan int
}

type totalConnectionsCmd struct {
	baseRegistryCmd
	replyChannel chan int
}

type stopCmd struct {
	baseRegistryCmd
}

// --- Registry ---

// connectionState pairs a client handle with the set of polls it watches.
// Both maps below must stay consistent: a connection holds pollID in its set
// if and only if it appears in subscribers[pollID].
type connectionState struct {
	client *Client
	polls  map[int64]struct{}
}

// Registry owns the live connection set and the poll subscription index.
// All state is confined to the run goroutine; every operation is a command
// on cmdCh, so reads and mutations never overlap.
type Registry struct {
	cmdCh                   chan registryCmd
	clock                   clockwork.Clock
	connections             map[uuid.UUID]*connectionState
	subscribers             map[int64]map[uuid.UUID]*connectionState
	maxSubscriptionsPerConn int
	done                    chan struct{}
}

// NewRegistry creates a registry and starts its actor goroutine.
// maxSubscriptionsPerConn caps how many polls one connection may watch.
func NewRegistry(clock clockwork.Clock, maxSubscriptionsPerConn int) *Registry {
	r := &Registry{
		cmdCh:                   make(chan registryCmd, 256),
		clock:                   clock,
		connections:             make(map[uuid.UUID]*connectionState),
		subscribers:             make(map[int64]map[uuid.UUID]*connectionState),
		maxSubscriptionsPerConn: maxSubscriptionsPerConn,
		done:                    make(chan struct{}),
	}
	go r.run()
	return r
}

// Register adds a connection with an empty subscription set and returns its
// handle. The caller must pair it with exactly one Unregister.
func (r *Registry) Register(conn *websocket.Conn) *Client {
	replyCh := make(chan *Client, 1)
	r.cmdCh <- registerCmd{connection: conn, replyChannel: replyCh}
	return <-replyCh
}

// Unregister removes a connection and every subscription it holds. Safe to
// call for a connection that never subscribed to anything.
func (r *Registry) Unregister(connectionID uuid.UUID) {
	r.cmdCh <- unregisterCmd{connectionID: connectionID}
}

// Subscribe adds pollID to the connection's set and the connection to the
// poll's subscriber set. Subscribing twice to the same poll is a no-op.
func (r *Registry) Subscribe(connectionID uuid.UUID, pollID int64) error {
	if pollID <= 0 {
		return ErrInvalidPollID
	}
	errCh := make(chan error, 1)
	r.cmdCh <- subscribeCmd{connectionID: connectionID, pollID: pollID, errorChannel: errCh}
	return <-errCh
}

// Unsubscribe removes the subscription if present. Unsubscribing from a poll
// the connection never watched is a no-op, not an error.
func (r *Registry) Unsubscribe(connectionID uuid.UUID, pollID int64) error {
	if pollID <= 0 {
		return ErrInvalidPollID
	}
	doneCh := make(chan struct{}, 1)
	r.cmdCh <- unsubscribeCmd{connectionID: connectionID, pollID: pollID, doneChannel: doneCh}
	<-doneCh
	return nil
}

// Broadcast delivers data to every subscriber of pollID. Each send is a
// non-blocking push into that connection's writer buffer, so a slow client
// never stalls the registry or the other subscribers.
func (r *Registry) Broadcast(pollID int64, data []byte) Delivery {
	replyCh := make(chan Delivery, 1)
	r.cmdCh <- broadcastCmd{pollID: pollID, data: data, replyChannel: replyCh}
	return <-replyCh
}

// SubscribersOf returns a snapshot of the connection IDs subscribed to
// pollID. Never nil.
func (r *Registry) SubscribersOf(pollID int64) []uuid.UUID {
	replyCh := make(chan []uuid.UUID, 1)
	r.cmdCh <- subscribersOfCmd{pollID: pollID, replyChannel: replyCh}
	return <-replyCh
}

// SubscriberCount returns how many connections watch pollID.
func (r *Registry) SubscriberCount(pollID int64) int {
	replyCh := make(chan int, 1)
	r.cmdCh <- subscriberCountCmd{pollID: pollID, replyChannel: replyCh}
	return <-replyCh
}

// TotalConnections returns the number of registered connections.
func (r *Registry) TotalConnections() int {
	replyCh := make(chan int, 1)
	r.cmdCh <- totalConnectionsCmd{replyChannel: replyCh}
	return <-replyCh
}

// Stop shuts the registry down, closing every client connection. Blocks
// until the actor goroutine has exited.
func (r *Registry) Stop() {
	r.cmdCh <- stopCmd{}
	<-r.done
}

func (r *Registry) run() {
	defer close(r.done)

	for cmd := range r.cmdCh {
		switch c := cmd.(type) {
		case registerCmd:
			r.handleRegister(c)
		case unregisterCmd:
			r.handleUnregister(c.connectionID)
		case subscribeCmd:
			c.errorChannel <- r.handleSubscribe(c.connectionID, c.pollID)
		case unsubscribeCmd:
			r.handleUnsubscribe(c.connectionID, c.pollID)
			c.doneChannel <- struct{}{}
		case broadcastCmd:
			c.replyChannel <- r.handleBroadcast(c.pollID, c.data)
		case subscribersOfCmd:
			c.replyChannel <- r.handleSubscribersOf(c.pollID)
		case subscriberCountCmd:
			c.replyChannel <- len(r.subscribers[c.pollID])
		case totalConnectionsCmd:
			c.replyChannel <- len(r.connections)
		case stopCmd:
			r.handleStop()
			return
		default:
			slog.Warn("Registry received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (r *Registry) handleRegister(c registerCmd) {
	client := &Client{
		ID:     uuid.New(),
		writer: newClientWriter(c.connection, r.clock),
	}
	r.connections[client.ID] = &connectionState{
		client: client,
		polls:  make(map[int64]struct{}),
	}

	metrics.WebSocketActiveConnections.Set(float64(len(r.connections)))
	slog.Debug("Client registered", "connection_id", client.ID.String(), "total_connections", len(r.connections))

	c.replyChannel <- client
}

func (r *Registry) handleUnregister(connectionID uuid.UUID) {
	state, exists := r.connections[connectionID]
	if !exists {
		return
	}

	for pollID := range state.polls {
		r.removeFromIndex(connectionID, pollID)
	}
	metrics.WebSocketActiveSubscriptions.Sub(float64(len(state.polls)))

	state.client.writer.stop()
	delete(r.connections, connectionID)

	metrics.WebSocketActiveConnections.Set(float64(len(r.connections)))
	metrics.WebSocketSubscribedPolls.Set(float64(len(r.subscribers)))
	slog.Debug("Client unregistered", "connection_id", connectionID.String(), "total_connections", len(r.connections))
}

func (r *Registry) handleSubscribe(connectionID uuid.UUID, pollID int64) error {
	state, exists := r.connections[connectionID]
	if !exists {
		// Connection already torn down; nothing to record.
		return nil
	}

	if _, already := state.polls[pollID]; already {
		return nil
	}

	if len(state.polls) >= r.maxSubscriptionsPerConn {
		return fmt.Errorf("%w: max %d polls per connection", ErrSubscriptionLimit, r.maxSubscriptionsPerConn)
	}

	state.polls[pollID] = struct{}{}
	entry, exists := r.subscribers[pollID]
	if !exists {
		entry = make(map[uuid.UUID]*connectionState)
		r.subscribers[pollID] = entry
	}
	entry[connectionID] = state

	metrics.WebSocketActiveSubscriptions.Inc()
	metrics.WebSocketSubscribedPolls.Set(float64(len(r.subscribers)))
	slog.Info("Client subscribed to poll", "connection_id", connectionID.String(), "poll_id", pollID, "subscribers", len(entry))
	return nil
}

func (r *Registry) handleUnsubscribe(connectionID uuid.UUID, pollID int64) {
	state, exists := r.connections[connectionID]
	if !exists {
		return
	}
	if _, subscribed := state.polls[pollID]; !subscribed {
		return
	}

	delete(state.polls, pollID)
	r.removeFromIndex(connectionID, pollID)

	metrics.WebSocketActiveSubscriptions.Dec()
	metrics.WebSocketSubscribedPolls.Set(float64(len(r.subscribers)))
	slog.Info("Client unsubscribed from poll", "connection_id", connectionID.String(), "poll_id", pollID)
}

// removeFromIndex drops the connection from one poll's subscriber set,
// deleting the entry once it is empty so the index never leaks.
func (r *Registry) removeFromIndex(connectionID uuid.UUID, pollID int64) {
	entry, exists := r.subscribers[pollID]
	if !exists {
		return
	}
	delete(entry, connectionID)
	if len(entry) == 0 {
		delete(r.subscribers, pollID)
	}
}

func (r *Registry) handleBroadcast(pollID int64, data []byte) Delivery {
	var delivery Delivery
	for _, state := range r.subscribers[pollID] {
		if state.client.writer.trySend(data) {
			delivery.Sent++
		} else {
			delivery.Failed++
		}
	}

	metrics.BroadcastDeliveriesTotal.WithLabelValues("ok").Add(float64(delivery.Sent))
	metrics.BroadcastDeliveriesTotal.WithLabelValues("failed").Add(float64(delivery.Failed))
	return delivery
}

func (r *Registry) handleSubscribersOf(pollID int64) []uuid.UUID {
	entry := r.subscribers[pollID]
	ids := make([]uuid.UUID, 0, len(entry))
	for connectionID := range entry {
		ids = append(ids, connectionID)
	}
	return ids
}

func (r *Registry) handleStop() {
	for connectionID, state := range r.connections {
		state.client.writer.stop()
		delete(r.connections, connectionID)
	}
	for pollID := range r.subscribers {
		delete(r.subscribers, pollID)
	}
	metrics.WebSocketActiveConnections.Set(0)
	metrics.WebSocketActiveSubscriptions.Set(0)
	metrics.WebSocketSubscribedPolls.Set(0)
	slog.Info("Registry stopped")
}

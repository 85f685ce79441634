package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"anonchat/internal/domain"
	"anonchat/internal/observability"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

const eventQueueSize = 1024

var (
	ErrHubStopped     = errors.New("hub is stopped")
	ErrEventQueueFull = errors.New("event queue is full")
	ErrClientClosed   = errors.New("client is closed")
)

// Hub tracks live connections and fans events out to them.
//
// Connections are indexed three ways: by id, by user (personal set) and by
// room. subs is the reverse index used to drop a connection from every room
// in one pass.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*Client
	byUser map[string]map[string]*Client
	byRoom map[string]map[string]*Client
	subs   map[string]map[string]struct{}

	events  chan domain.Event
	blocks  domain.BlockChecker
	stopped bool
	done    chan struct{}
}

var _ domain.EventPublisher = (*Hub)(nil)

func NewHub(blocks domain.BlockChecker) *Hub {
	return &Hub{
		conns:  make(map[string]*Client),
		byUser: make(map[string]map[string]*Client),
		byRoom: make(map[string]map[string]*Client),
		subs:   make(map[string]map[string]struct{}),
		events: make(chan domain.Event, eventQueueSize),
		blocks: blocks,
		done:   make(chan struct{}),
	}
}

// Register adds the client to its user's personal set and to every room in
// roomIDs in one step.
func (h *Hub) Register(c *Client, roomIDs []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return ErrHubStopped
	}
	if c.State() == StateClosed {
		return ErrClientClosed
	}
	if _, ok := h.conns[c.id]; ok {
		return nil
	}

	h.conns[c.id] = c
	addTo(h.byUser, c.userID, c)
	h.subs[c.id] = make(map[string]struct{}, len(roomIDs))
	for _, roomID := range lo.Uniq(roomIDs) {
		h.subscribeLocked(c, roomID)
	}
	c.setState(StateSubscribed)

	observability.WebSocketConnectionsActive.Inc()
	return nil
}

// Unregister removes every registration of c. Other connections of the
// same user are untouched. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c.id]; !ok {
		return
	}
	delete(h.conns, c.id)
	removeFrom(h.byUser, c.userID, c.id)
	for roomID := range h.subs[c.id] {
		removeFrom(h.byRoom, roomID, c.id)
	}
	delete(h.subs, c.id)

	observability.WebSocketConnectionsActive.Dec()
}

// Subscribe adds a registered client to a room's fan-out set.
func (h *Hub) Subscribe(c *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c.id]; !ok {
		return
	}
	h.subscribeLocked(c, roomID)
}

func (h *Hub) Unsubscribe(c *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rooms, ok := h.subs[c.id]; ok {
		delete(rooms, roomID)
	}
	removeFrom(h.byRoom, roomID, c.id)
}

func (h *Hub) subscribeLocked(c *Client, roomID string) {
	addTo(h.byRoom, roomID, c)
	h.subs[c.id][roomID] = struct{}{}
}

// Subscribed reports whether c is in the room's fan-out set.
func (h *Hub) Subscribed(c *Client, roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.subs[c.id][roomID]
	return ok
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// UserConnectionCount returns the number of registered connections of a user.
func (h *Hub) UserConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

// Publish queues an event for delivery without blocking. When the queue is
// full the event is dropped.
func (h *Hub) Publish(ctx context.Context, event domain.Event) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}

	select {
	case h.events <- event:
		return nil
	default:
		observability.FanoutDroppedTotal.WithLabelValues("queue_full").Inc()
		return ErrEventQueueFull
	}
}

// Run delivers queued events until ctx is cancelled, then closes every
// connection.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			observability.Info("websocket hub shutting down")
			return ctx.Err()
		case event := <-h.events:
			h.Dispatch(ctx, event)
		}
	}
}

// Dispatch delivers one event to the connections that should see it: the
// target's personal set, the actor's other connections and the room's
// subscribers, minus the connection that caused it.
func (h *Hub) Dispatch(ctx context.Context, event domain.Event) {
	logger := observability.FromContext(ctx).With(
		slog.String("type", string(event.Type)),
		slog.String("room_id", event.RoomID),
	)

	if h.blocks != nil && event.ActorID != "" && event.TargetID != "" {
		blocked, err := h.blocks.IsBlockedEitherDirection(ctx, event.ActorID, event.TargetID)
		if err != nil {
			logger.Warn("block check failed, dropping event", slog.String("error", err.Error()))
			observability.FanoutDroppedTotal.WithLabelValues("block_check_failed").Inc()
			return
		}
		if blocked {
			observability.FanoutDroppedTotal.WithLabelValues("blocked").Inc()
			return
		}
	}

	frame, err := eventFrame(event)
	if err != nil {
		logger.Error("cannot render event", slog.String("error", err.Error()))
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		logger.Error("cannot marshal event frame", slog.String("error", err.Error()))
		return
	}

	for _, c := range h.targets(event) {
		if !c.enqueue(frame.Type, data) {
			observability.FanoutDroppedTotal.WithLabelValues("send_buffer_full").Inc()
			logger.Warn("send buffer full, closing connection", slog.String("conn_id", c.id))
			c.Close(websocket.CloseTryAgainLater, "send buffer overflow")
		}
	}
}

// targets collects recipients at most once each and subscribes the
// participants' connections to the room so later events reach them too.
func (h *Hub) targets(event domain.Event) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[string]*Client)
	for _, userID := range lo.Uniq([]string{event.TargetID, event.ActorID}) {
		for id, c := range h.byUser[userID] {
			if _, ok := h.subs[id][event.RoomID]; !ok {
				h.subscribeLocked(c, event.RoomID)
			}
			seen[id] = c
		}
	}
	for id, c := range h.byRoom[event.RoomID] {
		seen[id] = c
	}
	delete(seen, event.OriginConnID)

	return lo.Values(seen)
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	close(h.done)
	clients := lo.Values(h.conns)
	h.mu.Unlock()

	for _, c := range clients {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}
}

func addTo(index map[string]map[string]*Client, key string, c *Client) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]*Client)
		index[key] = set
	}
	set[c.id] = c
}

func removeFrom(index map[string]map[string]*Client, key, connID string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(index, key)
	}
}

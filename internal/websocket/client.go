package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"anonchat/internal/domain"
	"anonchat/internal/observability"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Largest CHAT frame is 2000 runes of up to 4 bytes plus the envelope
	maxMessageSize = 16 * 1024

	sendBufferSize = 256

	operationTimeout = 10 * time.Second
)

// CloseUnauthorized is sent when the credential is missing, invalid or expires.
const CloseUnauthorized = 4401

// ConnState is the lifecycle state of a connection. Closed is terminal.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateSubscribed
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type RoomAccess interface {
	Get(ctx context.Context, roomID, userID string) (*domain.Chatroom, error)
	ListRooms(ctx context.Context, userID string) ([]*domain.Chatroom, error)
}

type MessageAppender interface {
	Append(ctx context.Context, roomID, senderID, content string) (*domain.Message, error)
}

type ReadMarker interface {
	MarkRead(ctx context.Context, roomID, userID string, upto *int64) (int64, error)
}

// Services are the operations a connection can invoke through frames.
type Services struct {
	Rooms    RoomAccess
	Messages MessageAppender
	Reads    ReadMarker
	Limiter  *FrameLimiter
}

type outbound struct {
	frameType string
	data      []byte
}

// Client is one socket connection of one user.
type Client struct {
	id       string
	userID   string
	hub      *Hub
	conn     *websocket.Conn
	services Services

	send  chan outbound
	state atomic.Int32

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
	expiry    atomic.Pointer[time.Timer]

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient wraps an upgraded connection. The client starts in
// StateConnecting and must be authenticated before Start.
func NewClient(hub *Hub, conn *websocket.Conn, services Services) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:       uuid.NewString(),
		hub:      hub,
		conn:     conn,
		services: services,
		send:     make(chan outbound, sendBufferSize),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (c *Client) ID() string       { return c.id }
func (c *Client) UserID() string   { return c.userID }
func (c *Client) State() ConnState { return ConnState(c.state.Load()) }

func (c *Client) setState(s ConnState) {
	// Closed is terminal
	for {
		cur := c.state.Load()
		if ConnState(cur) == StateClosed {
			return
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// Authenticate resolves the bearer token and arms a timer that closes the
// connection when the credential expires.
func (c *Client) Authenticate(ctx context.Context, validator domain.AuthValidator, token string) error {
	if token == "" {
		return domain.ErrInvalidToken
	}
	principal, err := validator.Validate(ctx, token)
	if err != nil {
		return err
	}
	if principal.UserID == "" {
		return domain.ErrInvalidToken
	}
	if principal.Expired(time.Now()) {
		return domain.ErrTokenExpired
	}

	c.userID = principal.UserID
	c.setState(StateAuthenticated)

	if !principal.ExpiresAt.IsZero() {
		timer := time.AfterFunc(time.Until(principal.ExpiresAt), func() {
			c.Close(CloseUnauthorized, "credential expired")
		})
		c.expiry.Store(timer)
	}
	return nil
}

// Start registers the connection for the user's rooms and runs the pumps.
func (c *Client) Start(ctx context.Context) error {
	rooms, err := c.services.Rooms.ListRooms(ctx, c.userID)
	if err != nil {
		return err
	}
	roomIDs := lo.Map(rooms, func(r *domain.Chatroom, _ int) string { return r.ID })
	if err := c.hub.Register(c, roomIDs); err != nil {
		return err
	}

	observability.FromContext(c.requestContext()).Debug("websocket connection subscribed",
		slog.Int("rooms", len(roomIDs)),
	)

	go c.WritePump()
	go c.ReadPump()
	return nil
}

// ReadPump reads frames until the connection fails or is closed.
func (c *Client) ReadPump() {
	defer c.Close(websocket.CloseNormalClosure, "")

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && c.State() != StateClosed {
				observability.FromContext(c.requestContext()).Warn("websocket read error",
					slog.String("error", err.Error()),
				)
			}
			return
		}
		c.handleFrame(data)
	}
}

// WritePump drains the send buffer and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.writeMessage(websocket.TextMessage, msg.data); err != nil {
				c.Close(websocket.CloseInternalServerErr, "write failed")
				return
			}
			observability.WebSocketMessagesSent.WithLabelValues(msg.frameType).Inc()
		case <-ticker.C:
			if err := c.writeMessage(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseGoingAway, "ping failed")
				return
			}
		}
	}
}

func (c *Client) writeMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// enqueue hands a frame to the write pump without blocking. It reports
// false only when the buffer is full; frames for a closed client are
// discarded.
func (c *Client) enqueue(frameType string, data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}

	select {
	case c.send <- outbound{frameType: frameType, data: data}:
		return true
	default:
		return false
	}
}

func (c *Client) reply(frame *ServerFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		observability.Error("cannot marshal frame", slog.String("error", err.Error()))
		return
	}
	if !c.enqueue(frame.Type, data) {
		observability.FanoutDroppedTotal.WithLabelValues("send_buffer_full").Inc()
		c.Close(websocket.CloseTryAgainLater, "send buffer overflow")
	}
}

// Close sends a close frame with code and reason, drops every hub
// registration and releases the connection. Only the first call has an effect.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		if timer := c.expiry.Load(); timer != nil {
			timer.Stop()
		}
		c.cancel()
		close(c.done)

		if c.hub != nil {
			c.hub.Unregister(c)
		}

		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = c.conn.Close()

		observability.WebSocketClosedTotal.WithLabelValues(closeReason(code)).Inc()
	})
}

func closeReason(code int) string {
	switch code {
	case CloseUnauthorized:
		return "unauthorized"
	case websocket.CloseTryAgainLater:
		return "overflow"
	case websocket.CloseGoingAway:
		return "going_away"
	case websocket.CloseInternalServerErr:
		return "error"
	default:
		return "disconnect"
	}
}

func (c *Client) requestContext() context.Context {
	ctx := observability.WithUserID(c.ctx, c.userID)
	ctx = observability.WithConnID(ctx, c.id)
	return domain.WithOriginConn(ctx, c.id)
}

func (c *Client) handleFrame(data []byte) {
	frame, err := ParseClientFrame(data)
	if err != nil {
		c.reply(errorFrame("", err))
		return
	}

	if c.services.Limiter != nil && !c.services.Limiter.Allow(c.userID, frame.Type) {
		c.reply(&ServerFrame{
			Type:      FrameError,
			RoomID:    frame.RoomID,
			RequestID: frame.RequestID,
			Kind:      KindRateLimited,
			Error:     "rate limit exceeded",
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.requestContext(), operationTimeout)
	defer cancel()

	ack, err := c.handle(ctx, frame)
	if err != nil {
		if domain.KindOf(err) == domain.KindInternal || domain.KindOf(err) == domain.KindUnavailable {
			observability.FromContext(ctx).Error("frame failed",
				slog.String("type", frame.Type),
				slog.String("room_id", frame.RoomID),
				slog.String("error", err.Error()),
			)
		}
		errFrame := errorFrame(frame.RequestID, err)
		errFrame.RoomID = frame.RoomID
		c.reply(errFrame)
		return
	}
	c.reply(ack)
}

func (c *Client) handle(ctx context.Context, frame *ClientFrame) (*ServerFrame, error) {
	ack := &ServerFrame{Type: FrameAck, RoomID: frame.RoomID, RequestID: frame.RequestID}

	switch frame.Type {
	case FrameChat:
		msg, err := c.services.Messages.Append(ctx, frame.RoomID, c.userID, frame.Content)
		if err != nil {
			return nil, err
		}
		c.hub.Subscribe(c, frame.RoomID)
		ack.Message = msg
	case FrameRead:
		last, err := c.services.Reads.MarkRead(ctx, frame.RoomID, c.userID, frame.MessageID)
		if err != nil {
			return nil, err
		}
		ack.LastReadMessageID = last
	case FrameEnter:
		if _, err := c.services.Rooms.Get(ctx, frame.RoomID, c.userID); err != nil {
			return nil, err
		}
		c.hub.Subscribe(c, frame.RoomID)
	case FrameLeave:
		c.hub.Unsubscribe(c, frame.RoomID)
	}
	return ack, nil
}

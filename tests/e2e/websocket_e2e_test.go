//go:build e2e

package e2e

import (
	"errors"
	"net/http"
	"testing"
	"time"

	ws "anonchat/internal/websocket"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocket_RejectsBadCredential(t *testing.T) {
	header := http.Header{"Authorization": []string{"Bearer forged"}}
	conn, _, err := websocket.DefaultDialer.Dial(primary.wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close, got %v", err)
	assert.Equal(t, ws.CloseUnauthorized, closeErr.Code)
}

func TestWebSocket_RealtimeDelivery(t *testing.T) {
	alice := newUser(t, primary, "alice")
	bob := newUser(t, primary, "bob")
	room := alice.OpenRoom(bob)

	bobSocket := bob.Connect()
	alice.Send(room.ID, "hello over http")

	frame := bobSocket.WaitForMessage("hello over http")
	assert.Equal(t, room.ID, frame.RoomID)
	assert.Equal(t, alice.UserID, frame.Message.SenderID)
}

func TestWebSocket_ChatFrameRoundTrip(t *testing.T) {
	alice := newUser(t, primary, "alice")
	bob := newUser(t, primary, "bob")
	room := alice.OpenRoom(bob)

	aliceSocket := alice.Connect()
	bobSocket := bob.Connect()

	aliceSocket.Write(ws.ClientFrame{Type: ws.FrameChat, RoomID: room.ID, Content: "hi from the socket", RequestID: "req-1"})

	ack := aliceSocket.WaitFor(5*time.Second, func(f ws.ServerFrame) bool { return f.Type == ws.FrameAck })
	assert.Equal(t, "req-1", ack.RequestID)
	require.NotNil(t, ack.Message)

	frame := bobSocket.WaitForMessage("hi from the socket")
	assert.Equal(t, ack.Message.ID, frame.Message.ID)

	// the sender's other device sees it too, the sending connection does not
	aliceOther := alice.Connect()
	bobSocket.Write(ws.ClientFrame{Type: ws.FrameChat, RoomID: room.ID, Content: "reply"})
	aliceOther.WaitForMessage("reply")
	aliceSocket.WaitForMessage("reply")
}

func TestWebSocket_ReadReceipt(t *testing.T) {
	alice := newUser(t, primary, "alice")
	bob := newUser(t, primary, "bob")
	room := alice.OpenRoom(bob)
	msg := alice.Send(room.ID, "did you see this?")

	aliceSocket := alice.Connect()
	bobSocket := bob.Connect()

	bobSocket.Write(ws.ClientFrame{Type: ws.FrameRead, RoomID: room.ID, MessageID: &msg.ID})

	receipt := aliceSocket.WaitFor(5*time.Second, func(f ws.ServerFrame) bool { return f.Type == ws.FrameRead })
	assert.Equal(t, room.ID, receipt.RoomID)
	assert.Equal(t, bob.UserID, receipt.UserID)
	assert.Equal(t, msg.ID, receipt.LastReadMessageID)
}

func TestWebSocket_BlockedDeliveryIsDropped(t *testing.T) {
	alice := newUser(t, primary, "alice")
	bob := newUser(t, primary, "bob")
	room := alice.OpenRoom(bob)

	bobSocket := bob.Connect()
	aliceSocket := alice.Connect()

	aliceSocket.Write(ws.ClientFrame{Type: ws.FrameChat, RoomID: room.ID, Content: "one"})
	bobSocket.WaitForMessage("one")

	bob.Block(alice)

	aliceSocket.Write(ws.ClientFrame{Type: ws.FrameChat, RoomID: room.ID, Content: "two", RequestID: "blocked"})
	errFrame := aliceSocket.WaitFor(5*time.Second, func(f ws.ServerFrame) bool { return f.Type == ws.FrameError })
	assert.Equal(t, "blocked", errFrame.RequestID)
	assert.Equal(t, "blocked", errFrame.Kind)

	bobSocket.ExpectSilence(500 * time.Millisecond)
}

//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"anonchat/internal/auth"
	"anonchat/internal/domain"
	"anonchat/internal/handler"
	ws "anonchat/internal/websocket"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// TestClient is one user talking to one instance over HTTP.
type TestClient struct {
	*http.Client
	t      *testing.T
	inst   *instance
	token  string
	UserID string
}

// newUser issues a credential for a fresh user id on inst.
func newUser(t *testing.T, inst *instance, prefix string) *TestClient {
	t.Helper()
	userID := prefix + "-" + uuid.NewString()[:8]
	token, err := auth.Issue(jwtSecret, jwtIssuer, userID, time.Hour)
	require.NoError(t, err)

	return &TestClient{
		Client: &http.Client{Timeout: 30 * time.Second},
		t:      t,
		inst:   inst,
		token:  token,
		UserID: userID,
	}
}

// on returns the same user talking to another instance.
func (tc *TestClient) on(inst *instance) *TestClient {
	clone := *tc
	clone.inst = inst
	return &clone
}

func (tc *TestClient) do(method, path string, body any) (*http.Response, []byte) {
	tc.t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(tc.t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, tc.inst.baseURL+path, reader)
	require.NoError(tc.t, err)
	req.Header.Set("Authorization", "Bearer "+tc.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := tc.Do(req)
	require.NoError(tc.t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(tc.t, err)
	return resp, data
}

// expect performs the request, checks the status and decodes the body into out.
func (tc *TestClient) expect(status int, method, path string, body, out any) {
	tc.t.Helper()
	resp, data := tc.do(method, path, body)
	require.Equalf(tc.t, status, resp.StatusCode, "%s %s: %s", method, path, data)
	if out != nil {
		require.NoError(tc.t, json.Unmarshal(data, out))
	}
}

func (tc *TestClient) expectError(status int, kind, method, path string, body any) {
	tc.t.Helper()
	var errResp handler.ErrorResponse
	tc.expect(status, method, path, body, &errResp)
	require.Equal(tc.t, kind, errResp.Kind)
}

func (tc *TestClient) OpenRoom(counterpart *TestClient) *domain.Chatroom {
	tc.t.Helper()
	resp, data := tc.do(http.MethodPost, "/api/v1/chatrooms", handler.CreateChatroomRequest{CounterpartID: counterpart.UserID})
	require.Containsf(tc.t, []int{http.StatusCreated, http.StatusOK}, resp.StatusCode, "body: %s", data)

	var room domain.Chatroom
	require.NoError(tc.t, json.Unmarshal(data, &room))
	return &room
}

func (tc *TestClient) ListRooms() []*domain.Chatroom {
	tc.t.Helper()
	var list handler.ChatroomListResponse
	tc.expect(http.StatusOK, http.MethodGet, "/api/v1/chatrooms", nil, &list)
	return list.Chatrooms
}

func (tc *TestClient) Send(roomID, content string) *domain.Message {
	tc.t.Helper()
	var msg domain.Message
	tc.expect(http.StatusCreated, http.MethodPost, "/api/v1/chatrooms/"+roomID+"/messages", handler.SendMessageRequest{Content: content}, &msg)
	return &msg
}

func (tc *TestClient) Page(roomID string, before int64, size int) handler.MessagePageResponse {
	tc.t.Helper()
	path := fmt.Sprintf("/api/v1/chatrooms/%s/messages?size=%d", roomID, size)
	if before > 0 {
		path += fmt.Sprintf("&before=%d", before)
	}
	var page handler.MessagePageResponse
	tc.expect(http.StatusOK, http.MethodGet, path, nil, &page)
	return page
}

func (tc *TestClient) Block(other *TestClient) {
	tc.t.Helper()
	tc.expect(http.StatusNoContent, http.MethodPost, "/api/v1/blocks", handler.BlockRequest{UserID: other.UserID}, nil)
}

// WSClient collects frames from one socket in the background.
type WSClient struct {
	t      *testing.T
	conn   *websocket.Conn
	frames chan ws.ServerFrame
	done   chan struct{}

	mu       sync.Mutex
	closeErr error
}

// Connect opens a socket on the client's instance and waits until the hub
// has registered it.
func (tc *TestClient) Connect() *WSClient {
	tc.t.Helper()

	header := http.Header{"Authorization": []string{"Bearer " + tc.token}}
	conn, _, err := websocket.DefaultDialer.Dial(tc.inst.wsURL, header)
	require.NoError(tc.t, err)

	wsc := &WSClient{
		t:      tc.t,
		conn:   conn,
		frames: make(chan ws.ServerFrame, 256),
		done:   make(chan struct{}),
	}
	go wsc.readLoop()
	tc.t.Cleanup(wsc.Close)

	hub := tc.inst.hub
	before := hub.UserConnectionCount(tc.UserID)
	require.Eventually(tc.t, func() bool {
		return hub.UserConnectionCount(tc.UserID) > before
	}, 5*time.Second, 20*time.Millisecond)
	return wsc
}

func (wsc *WSClient) readLoop() {
	defer close(wsc.done)
	for {
		var frame ws.ServerFrame
		if err := wsc.conn.ReadJSON(&frame); err != nil {
			wsc.mu.Lock()
			wsc.closeErr = err
			wsc.mu.Unlock()
			return
		}
		select {
		case wsc.frames <- frame:
		default:
			// nobody is reading; keep the socket drained
		}
	}
}

func (wsc *WSClient) Write(frame ws.ClientFrame) {
	wsc.t.Helper()
	require.NoError(wsc.t, wsc.conn.WriteJSON(frame))
}

// WaitFor returns the first frame matching predicate, skipping the rest.
func (wsc *WSClient) WaitFor(timeout time.Duration, predicate func(ws.ServerFrame) bool) ws.ServerFrame {
	wsc.t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case frame := <-wsc.frames:
			if predicate(frame) {
				return frame
			}
		case <-deadline:
			wsc.t.Fatalf("no matching frame within %s", timeout)
		case <-wsc.done:
			wsc.mu.Lock()
			err := wsc.closeErr
			wsc.mu.Unlock()
			wsc.t.Fatalf("socket closed while waiting: %v", err)
		}
	}
}

// WaitForMessage waits for a MESSAGE frame carrying content.
func (wsc *WSClient) WaitForMessage(content string) ws.ServerFrame {
	wsc.t.Helper()
	return wsc.WaitFor(5*time.Second, func(f ws.ServerFrame) bool {
		return f.Type == ws.FrameMessage && f.Message != nil && f.Message.Content == content
	})
}

// ExpectSilence fails if a MESSAGE frame arrives within d.
func (wsc *WSClient) ExpectSilence(d time.Duration) {
	wsc.t.Helper()
	deadline := time.After(d)
	for {
		select {
		case frame := <-wsc.frames:
			if frame.Type == ws.FrameMessage {
				wsc.t.Fatalf("unexpected message frame: %+v", frame.Message)
			}
		case <-deadline:
			return
		}
	}
}

func (wsc *WSClient) Close() {
	_ = wsc.conn.Close()
	<-wsc.done
}

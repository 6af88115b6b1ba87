package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/posnetek/backend/internal/auth"
	"github.com/posnetek/backend/internal/auth/authtest"
)

func testClient(hub *Hub, userID uuid.UUID) *Client {
	return &Client{ID: uuid.NewString(), UserID: userID, hub: hub, send: make(chan WSMessage, 8)}
}

func receive(t *testing.T, c *Client) WSMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return WSMessage{}
	}
}

func TestNotifyStatusLocal(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	userID, other := uuid.New(), uuid.New()
	mine, theirs := testClient(hub, userID), testClient(hub, other)
	hub.Register(mine)
	hub.Register(theirs)

	recordingID := uuid.New()
	hub.NotifyStatus(userID, recordingID, "completed")

	msg := receive(t, mine)
	assert.Equal(t, EventRecordingStatus, msg.Event)
	var ev StatusEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, recordingID, ev.RecordingID)
	assert.Equal(t, "completed", ev.Status)
	assert.Empty(t, theirs.send)
}

func TestUnregisterClosesSend(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	c := testClient(hub, uuid.New())
	hub.Register(c)
	require.Equal(t, 1, hub.Connections(c.UserID))

	hub.Unregister(c)
	hub.Unregister(c)
	assert.Zero(t, hub.Connections(c.UserID))
	_, ok := <-c.send
	assert.False(t, ok)
}

func TestNotifyStatusAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	newPubSub := func() *RedisPubSub {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewRedisPubSub(client, nil)
	}
	psA, psB := newPubSub(), newPubSub()
	hubA := NewHub(nil, psA, psA)
	hubB := NewHub(nil, psB, psB)
	t.Cleanup(hubA.Close)
	t.Cleanup(hubB.Close)

	userID := uuid.New()
	c := testClient(hubA, userID)
	hubA.Register(c)

	hubB.NotifyStatus(userID, uuid.New(), "failed")

	msg := receive(t, c)
	assert.Equal(t, EventRecordingStatus, msg.Event)
	assert.Contains(t, string(msg.Data), `"status":"failed"`)
	// Delivered once through the subscription, not also locally.
	select {
	case extra := <-c.send:
		t.Fatalf("unexpected duplicate: %s", extra.Data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestServeWs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	p := authtest.NewProvider(t)
	v, err := auth.NewVerifier(p.PublicPEM, authtest.Issuer, authtest.Audience)
	require.NoError(t, err)

	hub := NewHub(nil, nil, nil)
	r := gin.New()
	r.GET("/ws", ServeWs(hub, v, nil))
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	userID := uuid.New()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + p.Token(t, userID, time.Hour)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Connections(userID) == 1 }, 2*time.Second, 10*time.Millisecond)
	recordingID := uuid.New()
	hub.NotifyStatus(userID, recordingID, "completed")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Event string      `json:"event"`
		Data  StatusEvent `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, EventRecordingStatus, msg.Event)
	assert.Equal(t, recordingID, msg.Data.RecordingID)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Connections(userID) == 0 }, 2*time.Second, 10*time.Millisecond)
}

// gatedSubscriber blocks SubscribeUser until release is closed.
type gatedSubscriber struct {
	entered chan struct{}
	release chan struct{}
	cancels atomic.Int32
}

func (s *gatedSubscriber) SubscribeUser(uuid.UUID, func(string, []byte)) (func(), error) {
	close(s.entered)
	<-s.release
	return func() { s.cancels.Add(1) }, nil
}

func TestRegisterSubscribesOutsideHubLock(t *testing.T) {
	sub := &gatedSubscriber{entered: make(chan struct{}), release: make(chan struct{})}
	hub := NewHub(nil, nil, sub)

	slow := testClient(hub, uuid.New())
	registered := make(chan struct{})
	go func() {
		defer close(registered)
		hub.Register(slow)
	}()
	<-sub.entered

	// Other users keep working while the subscription is pending.
	other := testClient(hub, uuid.New())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Broadcast(other.UserID, EventRecordingStatus, StatusEvent{Status: "completed"})
		assert.Equal(t, 1, hub.Connections(slow.UserID))
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub blocked by pending subscription")
	}

	// The user left before the subscription finished, so it is cancelled.
	hub.Unregister(slow)
	close(sub.release)
	<-registered
	assert.Equal(t, int32(1), sub.cancels.Load())
	hub.mu.RLock()
	assert.Empty(t, hub.subs)
	hub.mu.RUnlock()
}

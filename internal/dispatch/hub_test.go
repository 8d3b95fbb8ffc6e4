package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"expo-booking-backend/internal/event"
	"expo-booking-backend/internal/wire"
)

func startHub(t *testing.T, opts ...HubOption) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Upgrade(w, r, r.URL.Query().Get("user"))
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + user
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, typ wire.Type, data any) {
	t.Helper()
	raw, err := wire.EncodeClient(typ, data, time.Now())
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, raw))
}

func read(t *testing.T, ws *websocket.Conn) wire.ServerFrame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)
	f, err := wire.DecodeServer(raw)
	require.NoError(t, err)
	return f
}

// roundTrip round-trips a ping so every earlier frame from ws has been handled.
func roundTrip(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	send(t, ws, wire.TypePing, nil)
	f := read(t, ws)
	require.Equal(t, wire.TypePong, f.Type)
}

func subscribe(t *testing.T, ws *websocket.Conn, topics ...string) {
	t.Helper()
	send(t, ws, wire.TypeSubscribe, wire.Topics{Topics: topics})
	roundTrip(t, ws)
}

func bookingEvent(kind event.Kind, resourceID, expoID, holder string) event.BookingEvent {
	return event.New(kind, event.ResourceBooth, resourceID, expoID, holder, holder, time.Now())
}

func TestHub_DeliversToResourceAndExpoSubscribers(t *testing.T) {
	hub, srv := startHub(t)
	byResource := dial(t, srv, "alice")
	byExpo := dial(t, srv, "bob")
	subscribe(t, byResource, "B1")
	subscribe(t, byExpo, "E1")

	ev := bookingEvent(event.KindBooked, "B1", "E1", "carol")
	hub.Publish(ev)

	for _, ws := range []*websocket.Conn{byResource, byExpo} {
		f := read(t, ws)
		assert.Equal(t, wire.TypeBoothUpdate, f.Type)
		u, err := f.Update()
		require.NoError(t, err)
		assert.Equal(t, ev.ID, u.ID)
		assert.Equal(t, "booked", u.Action)
	}
}

func TestHub_UserTopicIsImplicitAndDeduplicated(t *testing.T) {
	hub, srv := startHub(t)
	ws := dial(t, srv, "U3")
	subscribe(t, ws, "S1", "E1")

	promoted := event.New(event.KindPromoted, event.ResourceSession, "S1", "E1", "U1", "U3", time.Now())
	hub.Publish(promoted)
	marker := event.New(event.KindBooked, event.ResourceSession, "S2", "E9", "U3", "U3", time.Now())
	hub.Publish(marker)

	f := read(t, ws)
	assert.Equal(t, wire.TypeSessionUpdate, f.Type)
	u, err := f.Update()
	require.NoError(t, err)
	assert.Equal(t, promoted.ID, u.ID)

	// The next frame is the marker, reached only through the user topic, so the
	// promotion was delivered exactly once.
	u, err = read(t, ws).Update()
	require.NoError(t, err)
	assert.Equal(t, marker.ID, u.ID)
}

func TestHub_Unsubscribe(t *testing.T) {
	hub, srv := startHub(t)
	ws := dial(t, srv, "alice")
	subscribe(t, ws, "B1", "B2")

	send(t, ws, wire.TypeUnsubscribe, wire.Topics{Topics: []string{"B1", "user:alice"}})
	roundTrip(t, ws)
	assert.Equal(t, 0, hub.Subscribers("B1"))
	assert.Equal(t, 1, hub.Subscribers("user:alice"))

	hub.Publish(bookingEvent(event.KindBooked, "B1", "E1", "x"))
	want := bookingEvent(event.KindBooked, "B2", "E1", "x")
	hub.Publish(want)

	u, err := read(t, ws).Update()
	require.NoError(t, err)
	assert.Equal(t, want.ID, u.ID)
}

func TestHub_PreservesPublishOrder(t *testing.T) {
	hub, srv := startHub(t, WithSendBuffer(128))
	ws := dial(t, srv, "alice")
	subscribe(t, ws, "B1")

	var ids []string
	for i := 0; i < 50; i++ {
		ev := bookingEvent(event.KindBooked, "B1", "E1", fmt.Sprintf("U%d", i))
		ids = append(ids, ev.ID)
		hub.Publish(ev)
	}
	for i := range ids {
		u, err := read(t, ws).Update()
		require.NoError(t, err)
		assert.Equal(t, ids[i], u.ID)
	}
}

func TestHub_MalformedFrameKeepsConnection(t *testing.T) {
	_, srv := startHub(t)
	ws := dial(t, srv, "alice")

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	send(t, ws, "dance", nil)
	roundTrip(t, ws)
}

func TestHub_DetachOnDisconnect(t *testing.T) {
	hub, srv := startHub(t)
	ws := dial(t, srv, "alice")
	subscribe(t, ws, "B1")
	assert.Equal(t, 1, hub.Len())

	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	ws.Close()

	assert.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, hub.Subscribers("B1"))
	assert.Equal(t, 0, hub.Subscribers("user:alice"))
}

func TestHub_SlowConnectionDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(WithSendBuffer(1))
	slow := &Conn{hub: hub, userID: "slow", send: make(chan []byte, 1), topics: map[string]struct{}{}}
	fast := &Conn{hub: hub, userID: "fast", send: make(chan []byte, 8), topics: map[string]struct{}{}}
	hub.attach(slow)
	hub.attach(fast)
	hub.Subscribe(slow, "B1")
	hub.Subscribe(fast, "B1")

	for i := 0; i < 3; i++ {
		hub.fanOut(outbound{parts: []part{{topics: []string{"B1"}, frame: []byte(fmt.Sprintf("%d", i))}}})
	}

	assert.Len(t, slow.send, 1)
	assert.Len(t, fast.send, 3)
	delivered, dropped := hub.Stats()
	assert.Equal(t, int64(4), delivered)
	assert.Equal(t, int64(2), dropped)

	hub.detach(slow)
	_, open := <-slow.send
	assert.True(t, open)
	_, open = <-slow.send
	assert.False(t, open)
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	hub := NewHub(WithQueueSize(2))
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Publish(bookingEvent(event.KindBooked, "B1", "E1", "x"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked without a running fan-out loop")
	}
	_, dropped := hub.Stats()
	assert.Equal(t, int64(8), dropped)
}

func TestHub_RefusesOtherUsersTopic(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	hub, srv := startHub(t, WithHubLogger(zap.New(core)))
	spy := dial(t, srv, "spy")
	subscribe(t, spy, "user:victim", "B1", "user:spy")

	assert.Equal(t, 0, hub.Subscribers("user:victim"))
	assert.Equal(t, 1, hub.Subscribers("B1"))
	assert.Equal(t, 1, hub.Subscribers("user:spy"))
	require.Equal(t, 1, logs.FilterMessage("refusing subscription to another user's topic").Len())

	hub.SendToUser("victim", wire.TypeNotification, map[string]string{"title": "secret"})
	marker := bookingEvent(event.KindBooked, "B1", "E1", "x")
	hub.Publish(marker)

	// The first frame spy sees is the marker, so the notice never reached it.
	f := read(t, spy)
	require.Equal(t, wire.TypeBoothUpdate, f.Type)
	u, err := f.Update()
	require.NoError(t, err)
	assert.Equal(t, marker.ID, u.ID)
}

func TestHub_PublicTopicsCarryNoUserIDs(t *testing.T) {
	hub, srv := startHub(t)
	holder := dial(t, srv, "U3")
	floor := dial(t, srv, "bob")
	subscribe(t, holder, "E1")
	subscribe(t, floor, "E1")

	released := event.New(event.KindReleased, event.ResourceSession, "S1", "E1", "U1", "U1", time.Now())
	released.Payload = map[string]any{"status": "occupied"}
	promoted := event.New(event.KindPromoted, event.ResourceSession, "S1", "E1", "U1", "U3", time.Now())
	hub.Publish(released)
	hub.Publish(promoted)

	u, err := read(t, floor).Update()
	require.NoError(t, err)
	assert.Equal(t, released.ID, u.ID)
	assert.Empty(t, u.HolderID)
	assert.Empty(t, u.ActorID)
	assert.Equal(t, "occupied", u.Payload["status"])

	u, err = read(t, floor).Update()
	require.NoError(t, err)
	assert.Equal(t, promoted.ID, u.ID)
	assert.Empty(t, u.HolderID)

	// U3 sees released without ids, then its own promotion in full, exactly once.
	u, err = read(t, holder).Update()
	require.NoError(t, err)
	assert.Equal(t, released.ID, u.ID)
	assert.Empty(t, u.HolderID)
	u, err = read(t, holder).Update()
	require.NoError(t, err)
	assert.Equal(t, promoted.ID, u.ID)
	assert.Equal(t, "U3", u.HolderID)
	assert.Equal(t, "U1", u.ActorID)

	hub.SendToUser("U3", wire.TypeNotification, nil)
	assert.Equal(t, wire.TypeNotification, read(t, holder).Type)
}

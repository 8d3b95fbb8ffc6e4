package resync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expo-booking-backend/internal/channel"
	"expo-booking-backend/internal/event"
	"expo-booking-backend/internal/ledger"
)

const boothsJSON = `{"message":"ok","booths":[
 {"id":"B1","expoId":"E1","number":"H1-001","state":{"status":"occupied","capacity":1,"holderCount":1,"waitlistCount":2,"closed":false}},
 {"id":"B2","expoId":"E1","number":"H1-002","state":{"status":"available","capacity":1,"holderCount":0,"waitlistCount":0,"closed":false}}]}`

const sessionsJSON = `{"message":"ok","sessions":[
 {"id":"S1","expoId":"E1","code":"001","state":{"status":"closed","capacity":0,"holderCount":3,"waitlistCount":0,"closed":true}}]}`

func newAPI(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			requests.Add(1)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"invalid token"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/expos/E1/booths":
			w.Write([]byte(boothsJSON))
		case "/api/expos/E1/sessions":
			w.Write([]byte(sessionsJSON))
		case "/api/booths/B502":
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("<html>upstream down</html>"))
		case "/api/booths/B1":
			w.Write([]byte(`{"message":"ok","booth":{"id":"B1","expoId":"E1","number":"H1-001","state":{"status":"reserved","capacity":2,"holderCount":1}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"not found"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetcher_Lists(t *testing.T) {
	srv := newAPI(t, nil)
	f := NewFetcher(srv.URL+"/api/", "tok", nil)

	booths, err := f.Booths(context.Background(), "E1")
	require.NoError(t, err)
	require.Len(t, booths, 2)
	assert.Equal(t, Snapshot{
		Kind: event.ResourceBooth, ID: "B1", ExpoID: "E1", Number: "H1-001",
		Status: ledger.StatusOccupied, Capacity: 1, HolderCount: 1, WaitlistCount: 2,
	}, booths[0])

	sessions, err := f.Sessions(context.Background(), "E1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "001", sessions[0].Number)
	assert.True(t, sessions[0].Closed)

	all, err := f.Expo(context.Background(), "E1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"B1", "B2", "S1"}, []string{all[0].ID, all[1].ID, all[2].ID})
}

func TestFetcher_Resource(t *testing.T) {
	srv := newAPI(t, nil)
	f := NewFetcher(srv.URL+"/api", "tok", nil)

	snap, err := f.Resource(context.Background(), event.ResourceBooth, "B1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusReserved, snap.Status)
	assert.Equal(t, 2, snap.Capacity)

	_, err = f.Resource(context.Background(), event.ResourceSession, "S9")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, "not found", se.Message)
}

func TestFetcher_Errors(t *testing.T) {
	srv := newAPI(t, nil)

	_, err := NewFetcher(srv.URL+"/api", "wrong", nil).Booths(context.Background(), "E1")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Equal(t, "invalid token", se.Message)

	_, err = NewFetcher(srv.URL+"/api", "tok", nil).Resource(context.Background(), event.ResourceBooth, "B502")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, "Bad Gateway", se.Message)

	_, err = NewFetcher(srv.URL+"/api", "tok", nil).Expo(context.Background(), "E404")
	assert.Error(t, err)

	_, err = NewFetcher("http://127.0.0.1:1/api", "tok", &http.Client{Timeout: time.Second}).Booths(context.Background(), "E1")
	assert.ErrorContains(t, err, "http request failed")
}

func TestAttach_ResyncsOnlyAfterLoss(t *testing.T) {
	var requests atomic.Int32
	api := newAPI(t, &requests)

	var mu sync.Mutex
	var conns []*websocket.Conn
	up := websocket.Upgrader{}
	ws := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		conns = append(conns, c)
		mu.Unlock()
		go func() {
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	defer ws.Close()

	c := channel.New(channel.Config{
		URL:           "ws" + strings.TrimPrefix(ws.URL, "http"),
		ReconnectBase: 10 * time.Millisecond,
		MaxAttempts:   3,
	})
	defer c.Close()

	got := make(chan []Snapshot, 4)
	Attach(c, NewFetcher(api.URL+"/api", "tok", nil), []string{"E1"}, func(s []Snapshot) { got <- s }, nil)

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(conns) == 1
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, got)
	assert.Zero(t, requests.Load())

	mu.Lock()
	conns[0].Close()
	mu.Unlock()

	select {
	case snaps := <-got:
		assert.Len(t, snaps, 3)
	case <-time.After(3 * time.Second):
		t.Fatal("no resync after reconnect")
	}
	assert.Equal(t, int32(2), requests.Load())
}

package dispatch

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"expo-booking-backend/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 8 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The bearer token authenticates the handshake, not the origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Conn is one websocket client. Each Conn runs a read loop and a write loop.
type Conn struct {
	hub    *Hub
	ws     *websocket.Conn
	userID string
	send   chan []byte
	// topics is guarded by hub.mu.
	topics map[string]struct{}

	closeOnce sync.Once
}

func newConn(h *Hub, ws *websocket.Conn, userID string) *Conn {
	return &Conn{
		hub:    h,
		ws:     ws,
		userID: userID,
		send:   make(chan []byte, h.sendBuffer),
		topics: make(map[string]struct{}),
	}
}

// enqueue queues a frame without blocking and reports whether it fit.
func (c *Conn) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Conn) closeTransport() {
	c.closeOnce.Do(func() { c.ws.Close() })
}

// Upgrade turns the request into a push channel for userID and serves it
// until the client goes away.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, userID string) error {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	h.Serve(ws, userID)
	return nil
}

// Serve registers an established websocket and blocks in its read loop.
func (h *Hub) Serve(ws *websocket.Conn, userID string) {
	c := newConn(h, ws, userID)
	h.attach(c)
	h.log.Debug("client connected", zap.String("user", userID))

	go c.writePump()
	c.readPump()

	h.detach(c)
	c.closeTransport()
	h.log.Debug("client disconnected", zap.String("user", userID))
}

func (c *Conn) readPump() {
	log := c.hub.log
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.hub.pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.hub.pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Info("unexpected close", zap.String("user", c.userID), zap.Error(err))
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.hub.pongWait))

		f, err := wire.DecodeClient(raw)
		if err != nil {
			log.Warn("dropping malformed frame", zap.String("user", c.userID), zap.Error(err))
			continue
		}
		c.handle(f)
	}
}

func (c *Conn) handle(f wire.ClientFrame) {
	log := c.hub.log
	switch f.Type {
	case wire.TypePing:
		pong, err := wire.EncodeServer(wire.TypePong, nil, c.hub.now())
		if err == nil && !c.enqueue(pong) {
			log.Warn("send buffer full, dropping pong", zap.String("user", c.userID))
		}
	case wire.TypeSubscribe, wire.TypeUnsubscribe:
		topics, err := f.Topics()
		if err != nil {
			log.Warn("dropping bad subscription frame", zap.String("user", c.userID), zap.Error(err))
			return
		}
		if f.Type == wire.TypeSubscribe {
			c.hub.Subscribe(c, topics...)
		} else {
			c.hub.Unsubscribe(c, topics...)
		}
	default:
		log.Debug("ignoring client frame", zap.String("user", c.userID), zap.String("type", string(f.Type)))
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.hub.pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeTransport()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.hub.log.Debug("write failed", zap.String("user", c.userID), zap.Error(err))
				}
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

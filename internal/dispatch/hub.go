// Package dispatch fans committed booking events out to connected push
// channel clients.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"expo-booking-backend/internal/event"
	"expo-booking-backend/internal/wire"
)

// outbound is one fan-out job. Parts are delivered in order and a connection
// receives at most one frame per job.
type outbound struct {
	parts []part
}

type part struct {
	topics []string
	frame  []byte
}

func (o outbound) topics() []string {
	var topics []string
	for _, p := range o.parts {
		topics = append(topics, p.topics...)
	}
	return topics
}

// Hub keeps the topic registry of live connections. Publish only enqueues;
// a single Run loop drains the queue, so frames for one resource leave in the
// order they were published.
type Hub struct {
	queue      chan outbound
	sendBuffer int
	pingPeriod time.Duration
	pongWait   time.Duration
	now        func() time.Time
	log        *zap.Logger

	mu     sync.RWMutex
	conns  map[*Conn]struct{}
	topics map[string]map[*Conn]struct{}

	delivered atomic.Int64
	dropped   atomic.Int64
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithQueueSize sets the capacity of the fan-out queue.
func WithQueueSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.queue = make(chan outbound, n)
		}
	}
}

// WithSendBuffer sets the per-connection send queue length.
func WithSendBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithPingPeriod sets how often the server pings each connection. Reads time
// out after a little more than one period of silence.
func WithPingPeriod(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.pingPeriod = d
			h.pongWait = d * 10 / 9
		}
	}
}

// WithHubLogger sets the logger.
func WithHubLogger(l *zap.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// NewHub creates an idle hub; call Run to start delivering.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		queue:      make(chan outbound, 1024),
		sendBuffer: 64,
		pingPeriod: 54 * time.Second,
		pongWait:   60 * time.Second,
		now:        time.Now,
		log:        zap.NewNop(),
		conns:      make(map[*Conn]struct{}),
		topics:     make(map[string]map[*Conn]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish enqueues a booking event for fan-out to every connection subscribed
// to its resource, its expo, or its holder. The holder's connections get the
// full event; resource and expo subscribers get it without user ids. It never
// blocks; when the queue is full the event is dropped and subscribers catch up
// on their next refetch.
func (h *Hub) Publish(ev event.BookingEvent) {
	now := h.now()
	public, err := wire.EncodeEvent(ev.Public(), now)
	if err != nil {
		h.log.Error("failed to encode event", zap.String("event", ev.ID), zap.Error(err))
		return
	}
	var o outbound
	if ev.HolderID != "" {
		full, err := wire.EncodeEvent(ev, now)
		if err != nil {
			h.log.Error("failed to encode event", zap.String("event", ev.ID), zap.Error(err))
			return
		}
		o.parts = append(o.parts, part{topics: []string{event.UserTopic(ev.HolderID)}, frame: full})
	}
	o.parts = append(o.parts, part{topics: ev.PublicTopics(), frame: public})
	h.enqueue(o)
}

// SendToUser enqueues a frame for every connection of userID.
func (h *Hub) SendToUser(userID string, t wire.Type, payload any) {
	frame, err := wire.EncodeServer(t, payload, h.now())
	if err != nil {
		h.log.Error("failed to encode frame", zap.String("type", string(t)), zap.Error(err))
		return
	}
	h.enqueue(outbound{parts: []part{{topics: []string{event.UserTopic(userID)}, frame: frame}}})
}

func (h *Hub) enqueue(o outbound) {
	select {
	case h.queue <- o:
	default:
		h.dropped.Add(1)
		h.log.Warn("fan-out queue full, dropping frame", zap.Strings("topics", o.topics()))
	}
}

// Run delivers queued frames until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case o := <-h.queue:
			h.fanOut(o)
		case <-ctx.Done():
			h.closeAll()
			return nil
		}
	}
}

// fanOut sends o at most once to each connection subscribed to any of its
// topics. A connection matched by an earlier part is skipped by later ones.
func (h *Hub) fanOut(o outbound) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*Conn]struct{})
	for _, p := range o.parts {
		for _, topic := range p.topics {
			for c := range h.topics[topic] {
				if _, dup := seen[c]; dup {
					continue
				}
				seen[c] = struct{}{}
				if c.enqueue(p.frame) {
					h.delivered.Add(1)
				} else {
					h.dropped.Add(1)
					h.log.Warn("send buffer full, dropping frame", zap.String("user", c.userID))
				}
			}
		}
	}
}

// Subscribe adds topics to c. Other users' private topics are refused.
func (h *Hub) Subscribe(c *Conn, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return
	}
	own := event.UserTopic(c.userID)
	for _, t := range topics {
		if t == "" {
			continue
		}
		if event.IsUserTopic(t) && t != own {
			h.log.Warn("refusing subscription to another user's topic",
				zap.String("user", c.userID), zap.String("topic", t))
			continue
		}
		subs, ok := h.topics[t]
		if !ok {
			subs = make(map[*Conn]struct{})
			h.topics[t] = subs
		}
		subs[c] = struct{}{}
		c.topics[t] = struct{}{}
	}
}

// Unsubscribe removes topics from c. The implicit user topic cannot be removed.
func (h *Hub) Unsubscribe(c *Conn, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range topics {
		if t == event.UserTopic(c.userID) {
			continue
		}
		h.removeLocked(c, t)
	}
}

func (h *Hub) removeLocked(c *Conn, topic string) {
	delete(c.topics, topic)
	if subs, ok := h.topics[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

func (h *Hub) attach(c *Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	h.Subscribe(c, event.UserTopic(c.userID))
}

// detach drops c from every topic and closes its send queue. Enqueues only
// happen under h.mu or from c's own read loop, so closing here is safe.
func (h *Hub) detach(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return
	}
	for t := range c.topics {
		h.removeLocked(c, t)
	}
	delete(h.conns, c)
	close(c.send)
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.closeTransport()
	}
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Subscribers returns the number of connections subscribed to topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Stats reports delivered and dropped frame counts.
func (h *Hub) Stats() (delivered, dropped int64) {
	return h.delivered.Load(), h.dropped.Load()
}

package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/wamux/backend/internal/logging"
	"github.com/wamux/backend/internal/session"
)

type Client struct {
	conn *websocket.Conn
	b    *Broadcaster

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func newClient(conn *websocket.Conn, b *Broadcaster) *Client {
	c := &Client{
		conn: conn,
		send: make(chan []byte, b.queueSize),
		b:    b,
	}
	go c.writePump()
	return c
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

// enqueue queues a frame for the write pump. Returns false when the client
// is already closed or its queue is full.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close shuts the send queue exactly once. The client mutex excludes any
// concurrent enqueue, so the channel is never closed under a sender.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Broadcaster fans session events out to websocket observers. Each client
// has a bounded send queue drained by its own write pump; a client whose
// queue overflows is disconnected so it can never stall the lifecycle
// controller's publish path.
type Broadcaster struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	reg        *session.Registry
	queueSize  int
	maskPhones bool
	log        zerolog.Logger
}

func NewBroadcaster(reg *session.Registry, queueSize int, snapshotInterval time.Duration, maskPhones bool) *Broadcaster {
	b := &Broadcaster{
		clients:    make(map[*Client]bool),
		reg:        reg,
		queueSize:  queueSize,
		maskPhones: maskPhones,
		log:        logging.WithComponent("ws"),
	}
	if snapshotInterval > 0 {
		go b.snapshotLoop(snapshotInterval)
	}
	return b
}

// AddClient registers an observer and immediately queues the init snapshot,
// before any later event can be delivered to it.
func (b *Broadcaster) AddClient(conn *websocket.Conn) *Client {
	c := newClient(conn, b)

	data, err := json.Marshal(b.initMessage())
	if err == nil {
		c.enqueue(data)
	}

	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	return c
}

func (b *Broadcaster) RemoveClient(c *Client) {
	b.mu.Lock()
	delete(b.clients, c)
	b.mu.Unlock()
	c.close()
}

// Publish implements session.Publisher. It never blocks: slow observers are
// dropped, not waited on.
func (b *Broadcaster) Publish(ev session.Event) {
	b.broadcast(messageFor(ev))
}

// SendTo queues a frame for a single client, bypassing the fan-out. Used for
// direct replies to client-originated requests.
func (b *Broadcaster) SendTo(c *Client, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.Error().Err(err).Msg("marshal direct frame")
		return
	}
	if !c.enqueue(data) {
		b.RemoveClient(c)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) initMessage() WSMessage {
	records := b.reg.List()
	sessions := make([]session.Summary, 0, len(records))
	for _, rec := range records {
		sessions = append(sessions, rec.Summarize(b.maskPhones))
	}
	return WSMessage{Type: MsgInit, Payload: InitPayload{Sessions: sessions}}
}

func (b *Broadcaster) snapshotLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	for range ticker.C {
		b.broadcast(b.initMessage())
	}
}

func messageFor(ev session.Event) WSMessage {
	switch ev.Type {
	case session.EventQR:
		return WSMessage{Type: MsgQRUpdate, Payload: QRUpdatePayload{
			ID:          ev.Summary.ID,
			RenderedQR:  ev.RenderedQR,
			PairingCode: ev.Summary.PairingCode,
			Status:      ev.Summary.Status,
		}}
	case session.EventRemoved:
		return WSMessage{Type: MsgSessionRemoved, Payload: SessionRemovedPayload{ID: ev.Summary.ID}}
	default:
		return WSMessage{Type: MsgSessionUpdate, Payload: SessionUpdatePayload{
			ID:          ev.Summary.ID,
			Status:      ev.Summary.Status,
			Identity:    ev.Summary.Identity,
			PairingCode: ev.Summary.PairingCode,
		}}
	}
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.Error().Err(err).Msg("broadcast marshal error")
		return
	}

	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		if !c.enqueue(data) {
			b.log.Warn().Msg("observer too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

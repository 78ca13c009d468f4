package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wamux/backend/internal/session"
)

func newTestRegistry() *session.Registry {
	i := 0
	return session.NewRegistry(func() string {
		i++
		return fmt.Sprintf("CODE%04d", i)
	})
}

func newTestBroadcaster(reg *session.Registry, queueSize int) *Broadcaster {
	// No snapshot loop in tests; interval 0 disables it.
	return NewBroadcaster(reg, queueSize, 0, false)
}

// dialTestWS creates a test HTTP server that upgrades to WebSocket and
// returns both sides of the connection. The caller closes the server.
func dialTestWS(t *testing.T) (*httptest.Server, *websocket.Conn, *websocket.Conn) {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- c
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}

	select {
	case serverConn := <-connCh:
		return srv, serverConn, clientConn
	case <-time.After(2 * time.Second):
		srv.Close()
		t.Fatal("timed out waiting for server-side WebSocket connection")
		return nil, nil, nil
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return msg
}

func TestAddClientDeliversInitFirst(t *testing.T) {
	reg := newTestRegistry()
	reg.Create("one")
	reg.Create("two")

	b := newTestBroadcaster(reg, 16)
	srv, serverConn, clientConn := dialTestWS(t)
	defer srv.Close()
	defer clientConn.Close()

	c := b.AddClient(serverConn)
	defer b.RemoveClient(c)

	// An event published right after subscribing must not overtake the
	// snapshot.
	b.Publish(session.Event{Type: session.EventUpdate, Summary: session.Summary{ID: "one", Status: session.QRReady}})

	first := readFrame(t, clientConn)
	if first.Type != MsgInit {
		t.Fatalf("first frame type = %q, want init", first.Type)
	}
	payload, _ := json.Marshal(first.Payload)
	var init InitPayload
	if err := json.Unmarshal(payload, &init); err != nil {
		t.Fatalf("decode init payload: %v", err)
	}
	if len(init.Sessions) != 2 {
		t.Errorf("init snapshot has %d sessions, want 2", len(init.Sessions))
	}

	second := readFrame(t, clientConn)
	if second.Type != MsgSessionUpdate {
		t.Errorf("second frame type = %q, want session_update", second.Type)
	}
}

func TestPublishReachesAllClients(t *testing.T) {
	reg := newTestRegistry()
	b := newTestBroadcaster(reg, 16)

	var conns []*websocket.Conn
	for i := 0; i < 3; i++ {
		srv, serverConn, clientConn := dialTestWS(t)
		defer srv.Close()
		defer clientConn.Close()
		b.AddClient(serverConn)
		conns = append(conns, clientConn)
	}

	b.Publish(session.Event{Type: session.EventUpdate, Summary: session.Summary{ID: "x", Status: session.Connected}})

	for i, conn := range conns {
		if got := readFrame(t, conn).Type; got != MsgInit {
			t.Fatalf("conn %d first frame = %q", i, got)
		}
		if got := readFrame(t, conn).Type; got != MsgSessionUpdate {
			t.Errorf("conn %d second frame = %q, want session_update", i, got)
		}
	}
}

func TestSlowObserverDisconnected(t *testing.T) {
	reg := newTestRegistry()
	b := newTestBroadcaster(reg, 2)
	srv, serverConn, clientConn := dialTestWS(t)
	defer srv.Close()
	defer clientConn.Close()

	// Build the client without a write pump so nothing drains the queue:
	// a wedged observer from the broadcaster's point of view.
	c := &Client{conn: serverConn, send: make(chan []byte, 2), b: b}
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(session.Event{Type: session.EventUpdate, Summary: session.Summary{ID: "x"}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow observer")
	}

	if got := b.ClientCount(); got != 0 {
		t.Errorf("slow observer still registered; ClientCount = %d", got)
	}
}

func TestConcurrentPublishersDropWedgedObservers(t *testing.T) {
	reg := newTestRegistry()
	b := newTestBroadcaster(reg, 1)

	// Several pump-less observers with full queues, so every concurrent
	// publisher races to disconnect the same clients.
	for i := 0; i < 8; i++ {
		c := &Client{send: make(chan []byte, 1), b: b}
		b.mu.Lock()
		b.clients[c] = true
		b.mu.Unlock()
	}

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				b.Publish(session.Event{Type: session.EventUpdate, Summary: session.Summary{ID: "x", Status: session.Connected}})
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publishers did not finish")
	}

	if got := b.ClientCount(); got != 0 {
		t.Errorf("wedged observers still registered; ClientCount = %d", got)
	}
}

func TestWritePumpRemovesClientOnWriteError(t *testing.T) {
	reg := newTestRegistry()
	b := newTestBroadcaster(reg, 16)
	srv, serverConn, clientConn := dialTestWS(t)
	defer srv.Close()
	defer clientConn.Close()

	c := &Client{conn: serverConn, send: make(chan []byte, 16), b: b}
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	// Close the connection so the first write fails.
	serverConn.Close()
	c.send <- []byte(`{"type":"test"}`)
	go c.writePump()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.ClientCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client not removed after write error; ClientCount = %d", b.ClientCount())
}

func TestRemoveClientIdempotent(t *testing.T) {
	reg := newTestRegistry()
	b := newTestBroadcaster(reg, 16)
	srv, serverConn, clientConn := dialTestWS(t)
	defer srv.Close()
	defer clientConn.Close()

	c := b.AddClient(serverConn)
	b.RemoveClient(c)
	b.RemoveClient(c) // second removal must not panic on the closed channel

	if got := b.ClientCount(); got != 0 {
		t.Errorf("ClientCount = %d, want 0", got)
	}
}

func TestMessageForMapping(t *testing.T) {
	qr := messageFor(session.Event{
		Type:       session.EventQR,
		Summary:    session.Summary{ID: "a", PairingCode: "CODE0001", Status: session.QRReady},
		RenderedQR: "data:image/png;base64,xxxx",
	})
	if qr.Type != MsgQRUpdate {
		t.Errorf("EventQR mapped to %q", qr.Type)
	}
	p := qr.Payload.(QRUpdatePayload)
	if p.RenderedQR == "" || p.PairingCode != "CODE0001" {
		t.Errorf("qr payload = %+v", p)
	}

	rm := messageFor(session.Event{Type: session.EventRemoved, Summary: session.Summary{ID: "a"}})
	if rm.Type != MsgSessionRemoved {
		t.Errorf("EventRemoved mapped to %q", rm.Type)
	}

	up := messageFor(session.Event{Type: session.EventUpdate, Summary: session.Summary{ID: "a", Status: session.Connected}})
	if up.Type != MsgSessionUpdate {
		t.Errorf("EventUpdate mapped to %q", up.Type)
	}
}

// Package mock provides a simulated connection-handle factory for local
// development. Opened handles walk through a scripted pairing flow so the
// whole lifecycle (challenge, connect, transient drop, reconnect) can be
// exercised without the real chat network.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wamux/backend/internal/handle"
	"github.com/wamux/backend/internal/logging"
	"github.com/wamux/backend/internal/session"
)

type Factory struct {
	mu    sync.Mutex
	opens map[string]int // opens per session id, drives the drop script
	log   zerolog.Logger
}

func NewFactory() *Factory {
	return &Factory{
		opens: make(map[string]int),
		log:   logging.WithComponent("mock"),
	}
}

func (f *Factory) Open(ctx context.Context, sessionID string, creds []byte) (handle.Handle, error) {
	f.mu.Lock()
	f.opens[sessionID]++
	nth := f.opens[sessionID]
	f.mu.Unlock()

	h := &mockHandle{
		sessionID: sessionID,
		events:    make(chan handle.Event, 8),
		done:      make(chan struct{}),
		log:       f.log,
	}
	// First open of a fresh session pairs via challenge; with stored
	// credentials the handle connects directly. The first connected stint
	// ends in a scripted transient drop so reconnection runs too.
	go h.play(creds != nil, nth == 1)
	return h, nil
}

type mockHandle struct {
	sessionID string
	events    chan handle.Event
	done      chan struct{}
	closeOnce sync.Once
	log       zerolog.Logger
}

func (h *mockHandle) Events() <-chan handle.Event {
	return h.events
}

func (h *mockHandle) SendText(ctx context.Context, to, body string) error {
	h.log.Info().Str("session_id", h.sessionID).Str("to", session.MaskPhone(to)).Msg("simulated outbound message")
	return nil
}

func (h *mockHandle) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}

func (h *mockHandle) play(hasCreds, dropLater bool) {
	defer close(h.events)

	if !hasCreds {
		if !h.emit(handle.ChallengeEvent{Code: challengeFor(h.sessionID)}, 300*time.Millisecond) {
			return
		}
		// The "scan" happens after a couple of seconds.
		if !h.emit(handle.CredentialsEvent{Material: []byte("mock-creds:" + h.sessionID)}, 2*time.Second) {
			return
		}
		if !h.emit(handle.OpenEvent{Identity: identityFor(h.sessionID)}, 0) {
			return
		}
	} else {
		if !h.emit(handle.OpenEvent{Identity: identityFor(h.sessionID)}, 300*time.Millisecond) {
			return
		}
	}

	if dropLater {
		if !h.emit(handle.CloseEvent{Reason: handle.ReasonRestartRequired, Detail: "simulated transport drop"}, 10*time.Second) {
			return
		}
		return
	}

	<-h.done
}

// emit waits out the delay then delivers ev, unless the handle is closed
// first. Returns false once the handle is done.
func (h *mockHandle) emit(ev handle.Event, delay time.Duration) bool {
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-h.done:
			return false
		}
	}
	select {
	case h.events <- ev:
		return true
	case <-h.done:
		return false
	}
}

func challengeFor(sessionID string) string {
	return fmt.Sprintf("wamux-challenge:%s:%d", sessionID, time.Now().UnixNano())
}

func identityFor(sessionID string) session.Identity {
	hash := fnv.New32a()
	hash.Write([]byte(sessionID))
	n := hash.Sum32() % 1000000000
	phone := fmt.Sprintf("+254%09d", n)
	return session.Identity{
		UserID:      fmt.Sprintf("%s@mock", sessionID),
		DisplayName: "Mock " + sessionID,
		Phone:       phone,
	}
}

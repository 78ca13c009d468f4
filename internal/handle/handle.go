// Package handle defines the boundary to the external chat network. The
// orchestration core consumes connection handles through these interfaces and
// never sees protocol framing, encryption or key exchange.
package handle

import (
	"context"

	"github.com/wamux/backend/internal/session"
)

// Handle is one live or pending connection to the chat network. Lifecycle
// signals arrive on Events in the order the network emitted them; the channel
// is closed once the handle is finished after a CloseEvent.
type Handle interface {
	// Events delivers lifecycle events for this connection. The consumer
	// owns ordering; events for one handle must be processed sequentially.
	Events() <-chan Event

	// SendText sends an outbound text message to the given network address.
	SendText(ctx context.Context, to, body string) error

	// Close tears the connection down. Safe to call more than once.
	Close()
}

// Factory opens connection handles. creds is opaque persisted credential
// material for the session, nil when pairing from scratch.
type Factory interface {
	Open(ctx context.Context, sessionID string, creds []byte) (Handle, error)
}

// Event is a lifecycle signal from a connection handle. Concrete types:
// ChallengeEvent, OpenEvent, CloseEvent, CredentialsEvent, MessageEvent.
type Event interface {
	isEvent()
}

// ChallengeEvent carries a one-time pairing challenge to render as a QR code.
type ChallengeEvent struct {
	Code string
}

// OpenEvent signals the connection is authenticated and usable.
type OpenEvent struct {
	Identity session.Identity
}

// CloseEvent signals the connection ended. Reason decides whether the
// session is eligible for reconnection.
type CloseEvent struct {
	Reason CloseReason
	Detail string
}

// CredentialsEvent carries rotated credential material to persist. The
// orchestration layer stores it verbatim and never interprets it.
type CredentialsEvent struct {
	Material []byte
}

// MessageEvent carries an inbound message. Content handling is outside the
// orchestration core; the controller only acknowledges receipt.
type MessageEvent struct {
	From string
	Body string
}

func (ChallengeEvent) isEvent()   {}
func (OpenEvent) isEvent()        {}
func (CloseEvent) isEvent()       {}
func (CredentialsEvent) isEvent() {}
func (MessageEvent) isEvent()     {}

// CloseReason classifies why a connection ended.
type CloseReason string

const (
	ReasonLoggedOut       CloseReason = "logged_out"
	ReasonRestartRequired CloseReason = "restart_required"
	ReasonNetworkError    CloseReason = "network_error"
	ReasonUnknown         CloseReason = "unknown"
)

// Terminal reports whether the closure revokes the session permanently.
// Everything except an explicit logout is treated as transient.
func (r CloseReason) Terminal() bool {
	return r == ReasonLoggedOut
}

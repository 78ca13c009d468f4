package ws

import (
	"github.com/wamux/backend/internal/session"
)

type MessageType string

const (
	// Server-originated frames.
	MsgInit           MessageType = "init"
	MsgQRUpdate       MessageType = "qr_update"
	MsgSessionUpdate  MessageType = "session_update"
	MsgSessionRemoved MessageType = "session_removed"
	MsgError          MessageType = "error"

	// Client-originated frames.
	MsgCreateSession MessageType = "create_session"
	MsgGetQR         MessageType = "get_qr"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// InitPayload is the full snapshot a new observer receives on subscribe.
type InitPayload struct {
	Sessions []session.Summary `json:"sessions"`
}

type QRUpdatePayload struct {
	ID          string         `json:"id"`
	RenderedQR  string         `json:"renderedQR"`
	PairingCode string         `json:"pairingCode"`
	Status      session.Status `json:"status"`
}

type SessionUpdatePayload struct {
	ID          string            `json:"id"`
	Status      session.Status    `json:"status"`
	Identity    *session.Identity `json:"identity,omitempty"`
	PairingCode string            `json:"pairingCode,omitempty"`
}

type SessionRemovedPayload struct {
	ID string `json:"id"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// ClientMessage is what observers may send back over the socket.
type ClientMessage struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id,omitempty"`
}

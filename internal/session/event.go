package session

// EventType classifies session lifecycle events pushed to observers.
type EventType int

const (
	EventUpdate  EventType = iota // status/identity transition
	EventQR                       // challenge issued, rendered QR attached
	EventRemoved                  // session removed from the registry
)

// Event carries a session snapshot to observers.
type Event struct {
	Type       EventType
	Summary    Summary
	RenderedQR string // data URI, set only for EventQR
}

// Publisher fans session events out to observers. Implementations must not
// block the caller; delivery is best-effort.
type Publisher interface {
	Publish(Event)
}

package session

import "encoding/json"

// Status tracks a session through the pairing/connection state machine.
type Status int

const (
	Initializing Status = iota
	QRReady
	Connected
	Disconnected
	Reconnecting
	Terminated
)

var statusNames = map[Status]string{
	Initializing: "INITIALIZING",
	QRReady:      "QR_READY",
	Connected:    "CONNECTED",
	Disconnected: "DISCONNECTED",
	Reconnecting: "RECONNECTING",
	Terminated:   "TERMINATED",
}

var statusFromName = map[string]Status{
	"INITIALIZING": Initializing,
	"QR_READY":     QRReady,
	"CONNECTED":    Connected,
	"DISCONNECTED": Disconnected,
	"RECONNECTING": Reconnecting,
	"TERMINATED":   Terminated,
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := statusFromName[name]; ok {
		*s = v
	}
	return nil
}

// Live reports whether the session may hold a connection handle.
func (s Status) Live() bool {
	return s == Initializing || s == QRReady || s == Connected
}

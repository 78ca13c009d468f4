package session

import (
	"context"
	"time"
)

// Conn is the slice of a live connection handle the registry tracks for a
// session: enough to send a message and shut the connection down. The full
// event-emitting interface lives in internal/handle.
type Conn interface {
	SendText(ctx context.Context, to, body string) error
	Close()
}

// Identity is the resolved network identity of a connected session.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// Record is the registry's authoritative view of one session. Mutation goes
// through Registry methods only; everything handed out is a copy.
type Record struct {
	ID          string
	PairingCode string
	Status      Status
	QRChallenge string // raw challenge payload, set only while QR_READY
	Identity    *Identity
	CreatedAt   time.Time
	Conn        Conn // live handle, nil unless Status.Live()
}

// Clone returns a copy that can be mutated independently. The Conn interface
// value still refers to the live handle; callers projecting records to
// observers must go through Summary, which drops it.
func (r *Record) Clone() *Record {
	c := *r
	if r.Identity != nil {
		id := *r.Identity
		c.Identity = &id
	}
	return &c
}

// Summary is the observer-facing projection of a record. It never carries
// the connection handle or the raw challenge payload.
type Summary struct {
	ID          string    `json:"id"`
	PairingCode string    `json:"pairingCode,omitempty"`
	Status      Status    `json:"status"`
	Identity    *Identity `json:"identity,omitempty"`
	HasQR       bool      `json:"hasQR"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Summarize projects the record for observers. With maskPhones set, the
// identity's phone number is redacted down to its tail digits.
func (r *Record) Summarize(maskPhones bool) Summary {
	s := Summary{
		ID:          r.ID,
		PairingCode: r.PairingCode,
		Status:      r.Status,
		HasQR:       r.QRChallenge != "",
		CreatedAt:   r.CreatedAt,
	}
	if r.Identity != nil {
		id := *r.Identity
		if maskPhones {
			id.Phone = MaskPhone(id.Phone)
		}
		s.Identity = &id
	}
	return s
}

package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// codeAttempts bounds pairing-code collision retries inside Create. With an
// 8-char [A-Z0-9] code the loop effectively never repeats, but a collision is
// handled rather than assumed impossible.
const codeAttempts = 10

// Registry is the single source of truth for session existence and status.
// It indexes records by id and by pairing code under one lock; every lookup
// returns a copy, and nothing outside this package mutates a stored record.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*Record
	byCode  map[string]*Record
	genCode func() string
}

// NewRegistry builds a registry drawing pairing codes from genCode.
func NewRegistry(genCode func() string) *Registry {
	return &Registry{
		byID:    make(map[string]*Record),
		byCode:  make(map[string]*Record),
		genCode: genCode,
	}
}

// Create inserts a new INITIALIZING record. An empty id gets a generated one.
// Fails with ErrAlreadyExists when the id is taken by a non-terminated
// session; a terminated record under the same id is superseded.
func (r *Registry) Create(id string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	} else if existing, ok := r.byID[id]; ok && existing.Status != Terminated {
		return nil, fmt.Errorf("create %q: %w", id, ErrAlreadyExists)
	}

	var code string
	for i := 0; ; i++ {
		code = r.genCode()
		if _, taken := r.byCode[code]; !taken {
			break
		}
		if i >= codeAttempts {
			return nil, fmt.Errorf("create %q: pairing code space exhausted after %d attempts", id, codeAttempts)
		}
	}

	rec := &Record{
		ID:          id,
		PairingCode: code,
		Status:      Initializing,
		CreatedAt:   time.Now(),
	}
	r.byID[id] = rec
	r.byCode[code] = rec
	return rec.Clone(), nil
}

func (r *Registry) Get(id string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

func (r *Registry) GetByCode(code string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byCode[code]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// List returns snapshots of every record, terminated ones included.
func (r *Registry) List() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Record, 0, len(r.byID))
	for _, rec := range r.byID {
		out = append(out, rec.Clone())
	}
	return out
}

// Remove deletes the record and releases its pairing code.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	delete(r.byCode, rec.PairingCode)
	return true
}

// ActiveCount reports non-terminated sessions.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rec := range r.byID {
		if rec.Status != Terminated {
			n++
		}
	}
	return n
}

// The mutators below are called by the lifecycle controller only. Each
// returns a snapshot of the record after the change and whether the change
// applied.

// AttachConn binds a freshly opened handle and resets the session to
// INITIALIZING (the entry state for both first connections and reconnects).
func (r *Registry) AttachConn(id string, c Conn) (*Record, bool) {
	return r.update(id, func(rec *Record) bool {
		if rec.Status == Terminated {
			return false
		}
		rec.Conn = c
		rec.Status = Initializing
		rec.QRChallenge = ""
		return true
	})
}

// SetQRReady stores a challenge and moves to QR_READY. A challenge arriving
// while the session is CONNECTED is a stale duplicate and is dropped without
// regressing status.
func (r *Registry) SetQRReady(id, challenge string) (*Record, bool) {
	return r.update(id, func(rec *Record) bool {
		if rec.Status == Connected || rec.Status == Terminated {
			return false
		}
		rec.Status = QRReady
		rec.QRChallenge = challenge
		return true
	})
}

// SetConnected records the resolved identity and clears any stored challenge.
func (r *Registry) SetConnected(id string, identity Identity) (*Record, bool) {
	return r.update(id, func(rec *Record) bool {
		if rec.Status == Terminated {
			return false
		}
		rec.Status = Connected
		rec.Identity = &identity
		rec.QRChallenge = ""
		return true
	})
}

// SetDisconnected releases the handle reference on a transient close.
func (r *Registry) SetDisconnected(id string) (*Record, bool) {
	return r.update(id, func(rec *Record) bool {
		if rec.Status == Terminated {
			return false
		}
		rec.Status = Disconnected
		rec.Conn = nil
		rec.QRChallenge = ""
		return true
	})
}

// SetReconnecting marks a session whose retry has been scheduled.
func (r *Registry) SetReconnecting(id string) (*Record, bool) {
	return r.update(id, func(rec *Record) bool {
		if rec.Status != Disconnected {
			return false
		}
		rec.Status = Reconnecting
		return true
	})
}

// SetTerminated ends the session permanently: handle and challenge dropped,
// pairing code released so getByPairingCode no longer resolves it.
func (r *Registry) SetTerminated(id string) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok || rec.Status == Terminated {
		return nil, false
	}
	delete(r.byCode, rec.PairingCode)
	rec.Status = Terminated
	rec.Conn = nil
	rec.QRChallenge = ""
	return rec.Clone(), true
}

func (r *Registry) update(id string, fn func(*Record) bool) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	if !fn(rec) {
		return nil, false
	}
	return rec.Clone(), true
}

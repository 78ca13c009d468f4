// Package lifecycle drives each session through its pairing/connection state
// machine. One goroutine per live handle consumes that handle's events in
// order; the registry is the only shared state and is never held across a
// handle call.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/wamux/backend/internal/creds"
	"github.com/wamux/backend/internal/handle"
	"github.com/wamux/backend/internal/logging"
	"github.com/wamux/backend/internal/qr"
	"github.com/wamux/backend/internal/session"
)

type Controller struct {
	ctx        context.Context
	reg        *session.Registry
	factory    handle.Factory
	creds      creds.Store
	pub        session.Publisher
	sup        *Supervisor
	maskPhones bool
	stopped    atomic.Bool
	log        zerolog.Logger
}

func NewController(ctx context.Context, reg *session.Registry, factory handle.Factory, store creds.Store, pub session.Publisher, reconnectDelay time.Duration, maskPhones bool) *Controller {
	c := &Controller{
		ctx:        ctx,
		reg:        reg,
		factory:    factory,
		creds:      store,
		pub:        pub,
		maskPhones: maskPhones,
		log:        logging.WithComponent("lifecycle"),
	}
	c.sup = NewSupervisor(reconnectDelay, c.reconnect)
	return c
}

// Supervisor exposes the reconnect supervisor, mainly for shutdown and tests.
func (c *Controller) Supervisor() *Supervisor {
	return c.sup
}

// StartSession creates the registry record and opens a connection handle for
// it. A failed handle open does not fail the creation: the session stays
// registered and the supervisor retries, matching how a mid-life transient
// failure is handled.
func (c *Controller) StartSession(ctx context.Context, id string) (*session.Record, error) {
	rec, err := c.reg.Create(id)
	if err != nil {
		return nil, err
	}
	c.publishUpdate(rec)

	if err := c.open(ctx, rec.ID); err != nil {
		c.log.Warn().Err(err).Str("session_id", rec.ID).Msg("handle open failed, scheduling retry")
		c.retryLater(rec.ID)
	}

	if cur, ok := c.reg.Get(rec.ID); ok {
		return cur, nil
	}
	return rec, nil
}

// RestoreSessions re-creates a session for every stored credential entry.
// Called once at startup; restored sessions run the normal state machine.
func (c *Controller) RestoreSessions(ctx context.Context) error {
	ids, err := c.creds.List()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := c.StartSession(ctx, id); err != nil && !errors.Is(err, session.ErrAlreadyExists) {
			c.log.Error().Err(err).Str("session_id", id).Msg("restore failed")
		}
	}
	if len(ids) > 0 {
		c.log.Info().Int("count", len(ids)).Msg("restored sessions from credential store")
	}
	return nil
}

// Remove deletes a session: pending retry cancelled, handle closed,
// credentials dropped, record removed, removal published. A reconnect timer
// firing concurrently loses the race; it re-checks the registry and finds
// the session gone.
func (c *Controller) Remove(id string) error {
	c.sup.Cancel(id)

	rec, ok := c.reg.Get(id)
	if !ok {
		return fmt.Errorf("session %s: %w", id, session.ErrNotFound)
	}
	if rec.Conn != nil {
		rec.Conn.Close()
	}
	c.reg.Remove(id)
	if err := c.creds.Delete(id); err != nil {
		c.log.Warn().Err(err).Str("session_id", id).Msg("credential delete failed")
	}
	c.pub.Publish(session.Event{Type: session.EventRemoved, Summary: session.Summary{ID: id, Status: session.Terminated}})
	c.log.Info().Str("session_id", id).Msg("session removed")
	return nil
}

// Shutdown cancels all retry timers and closes every live handle. The run
// loops see their handles close and report synthetic transient drops; the
// stopped flag keeps those from re-arming the supervisor.
func (c *Controller) Shutdown() {
	c.stopped.Store(true)
	c.sup.CancelAll()
	for _, rec := range c.reg.List() {
		if rec.Conn != nil {
			rec.Conn.Close()
		}
	}
}

// open loads credentials, asks the factory for a handle and starts the
// session's event loop. Registry access happens before and after the
// blocking calls, never around them.
func (c *Controller) open(ctx context.Context, id string) error {
	material, err := c.creds.Load(id)
	if err != nil {
		return err
	}

	h, err := c.factory.Open(ctx, id, material)
	if err != nil {
		return fmt.Errorf("%w: open handle for %s: %v", session.ErrProtocol, id, err)
	}

	rec, ok := c.reg.AttachConn(id, h)
	if !ok {
		// Session removed or terminated while the handle was opening.
		h.Close()
		return nil
	}
	c.publishUpdate(rec)

	go c.run(id, h)
	return nil
}

// run is the per-session event loop. It is the sole consumer of this
// handle's events, which serializes the session's transitions.
func (c *Controller) run(id string, h handle.Handle) {
	for ev := range h.Events() {
		switch e := ev.(type) {
		case handle.ChallengeEvent:
			rec, ok := c.reg.SetQRReady(id, e.Code)
			if !ok {
				// Stale duplicate while CONNECTED, or session gone.
				continue
			}
			c.publishQR(rec)

		case handle.OpenEvent:
			rec, ok := c.reg.SetConnected(id, e.Identity)
			if !ok {
				continue
			}
			c.log.Info().Str("session_id", id).Str("user_id", e.Identity.UserID).Msg("session connected")
			c.publishUpdate(rec)

		case handle.CredentialsEvent:
			if err := c.creds.Save(id, e.Material); err != nil {
				c.log.Error().Err(err).Str("session_id", id).Msg("credential save failed")
			}

		case handle.MessageEvent:
			// Message content is outside the orchestration core.
			c.log.Debug().Str("session_id", id).Str("from", e.From).Msg("message received")

		case handle.CloseEvent:
			c.handleClose(id, h, e)
			return
		}
	}
	// Event stream ended without a close signal; treat as a transient drop.
	c.handleClose(id, h, handle.CloseEvent{Reason: handle.ReasonUnknown, Detail: "event stream ended"})
}

func (c *Controller) handleClose(id string, h handle.Handle, e handle.CloseEvent) {
	h.Close()

	if e.Reason.Terminal() {
		rec, ok := c.reg.SetTerminated(id)
		if !ok {
			return
		}
		c.log.Info().Str("session_id", id).Str("reason", string(e.Reason)).Msg("session logged out")
		c.publishUpdate(rec)
		if err := c.creds.Delete(id); err != nil {
			c.log.Warn().Err(err).Str("session_id", id).Msg("credential delete failed")
		}
		return
	}

	c.log.Warn().Str("session_id", id).Str("reason", string(e.Reason)).Str("detail", e.Detail).Msg("session disconnected")
	c.retryLater(id)
}

// retryLater records the disconnect, arms a single retry and marks the
// session RECONNECTING. Safe to call twice; the supervisor deduplicates.
// A close event that lost a race against Remove or Shutdown arms nothing.
func (c *Controller) retryLater(id string) {
	if c.stopped.Load() {
		return
	}
	rec, ok := c.reg.SetDisconnected(id)
	if !ok {
		return
	}
	c.publishUpdate(rec)
	if !c.sup.Schedule(id) {
		return
	}
	if rec, ok := c.reg.SetReconnecting(id); ok {
		c.publishUpdate(rec)
	}
}

// reconnect is the supervisor's timer callback. The registry re-check makes
// removal win over a concurrently firing timer.
func (c *Controller) reconnect(id string) {
	if c.stopped.Load() {
		return
	}
	rec, ok := c.reg.Get(id)
	if !ok || rec.Status == session.Terminated {
		return
	}
	c.log.Info().Str("session_id", id).Msg("reconnecting")
	if err := c.open(c.ctx, id); err != nil {
		c.log.Warn().Err(err).Str("session_id", id).Msg("reconnect failed, scheduling retry")
		c.retryLater(id)
	}
}

func (c *Controller) publishUpdate(rec *session.Record) {
	c.pub.Publish(session.Event{Type: session.EventUpdate, Summary: rec.Summarize(c.maskPhones)})
}

func (c *Controller) publishQR(rec *session.Record) {
	uri, err := qr.RenderDataURI(rec.QRChallenge)
	if err != nil {
		c.log.Error().Err(err).Str("session_id", rec.ID).Msg("qr render failed")
	}
	c.pub.Publish(session.Event{Type: session.EventQR, Summary: rec.Summarize(c.maskPhones), RenderedQR: uri})
}

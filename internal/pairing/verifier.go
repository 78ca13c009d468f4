package pairing

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/wamux/backend/internal/logging"
	"github.com/wamux/backend/internal/session"
)

// Verifier validates a pairing request and pushes the confirmation message
// out through the session's connection handle.
type Verifier struct {
	reg         *session.Registry
	phoneDigits int
	log         zerolog.Logger
}

func NewVerifier(reg *session.Registry, phoneDigits int) *Verifier {
	return &Verifier{
		reg:         reg,
		phoneDigits: phoneDigits,
		log:         logging.WithComponent("pairing"),
	}
}

// Verify checks the phone number shape, resolves the pairing code, requires
// a CONNECTED session and sends the confirmation. The send happens after the
// registry lookup has returned, never inside the registry's critical section.
// Session status is unchanged on success and on failure.
func (v *Verifier) Verify(ctx context.Context, code, phone string) error {
	if err := v.validatePhone(phone); err != nil {
		return err
	}

	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != CodeLength {
		return fmt.Errorf("%w: pairing code must be %d characters", session.ErrInvalidInput, CodeLength)
	}

	rec, ok := v.reg.GetByCode(code)
	if !ok {
		return fmt.Errorf("pairing code %s: %w", code, session.ErrNotFound)
	}
	if rec.Status != session.Connected || rec.Conn == nil {
		return fmt.Errorf("session %s is %s: %w", rec.ID, rec.Status, session.ErrInvalidState)
	}

	body := fmt.Sprintf("Pairing confirmed for session %s (code %s).", rec.ID, code)
	if err := rec.Conn.SendText(ctx, phone, body); err != nil {
		return fmt.Errorf("%w: confirmation send: %v", session.ErrProtocol, err)
	}

	v.log.Info().Str("session_id", rec.ID).Str("phone", session.MaskPhone(phone)).Msg("pairing verified")
	return nil
}

func (v *Verifier) validatePhone(phone string) error {
	if !strings.HasPrefix(phone, "+") {
		return fmt.Errorf("%w: phone number must be country-code prefixed", session.ErrInvalidInput)
	}
	digits := phone[1:]
	if len(digits) != v.phoneDigits {
		return fmt.Errorf("%w: phone number must have %d digits", session.ErrInvalidInput, v.phoneDigits)
	}
	if digits[0] == '0' {
		return fmt.Errorf("%w: country code cannot start with 0", session.ErrInvalidInput)
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return fmt.Errorf("%w: phone number contains non-digit characters", session.ErrInvalidInput)
		}
	}
	return nil
}

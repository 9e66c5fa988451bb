// Package mail delivers registration passcodes.
package mail

import (
	"context"

	"github.com/rs/zerolog"
)

// Mailer sends a registration passcode to an address
type Mailer interface {
	SendPasscode(ctx context.Context, to, code string) error
}

// LogMailer writes passcodes to the log instead of sending them.
// It is meant for development setups without outbound mail.
type LogMailer struct {
	logger zerolog.Logger
}

func NewLogMailer(logger zerolog.Logger) *LogMailer {
	return &LogMailer{logger: logger.With().Str("component", "mailer").Logger()}
}

func (m *LogMailer) SendPasscode(ctx context.Context, to, code string) error {
	m.logger.Info().
		Str("to", to).
		Str("code", code).
		Msg("registration passcode")
	return nil
}

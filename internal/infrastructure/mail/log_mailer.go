// Package mail delivers password-reset links.
package mail

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/samtwin/companion/internal/core/ports"
)

// LogMailer writes reset links to the log instead of sending them. It is the
// delivery used in development and by the memory store driver.
type LogMailer struct {
	log zerolog.Logger
}

var _ ports.Mailer = (*LogMailer)(nil)

func NewLogMailer(log zerolog.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) SendPasswordReset(ctx context.Context, email, link string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.log.Info().
		Str("to", email).
		Str("link", link).
		Msg("password reset email")
	return nil
}

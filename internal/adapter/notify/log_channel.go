package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogChannel implements ports.NotificationChannel by logging codes.
// Used in development when no delivery provider is configured.
type LogChannel struct {
	log zerolog.Logger
}

// NewLogChannel creates a logging notification channel.
func NewLogChannel(log zerolog.Logger) *LogChannel {
	return &LogChannel{log: log}
}

// Send logs the code instead of delivering it.
func (c *LogChannel) Send(ctx context.Context, destination, code, purpose string) error {
	c.log.Info().
		Str("destination", destination).
		Str("code", code).
		Str("purpose", purpose).
		Msg("OTP code issued (dev delivery)")
	return nil
}

package delivery

import (
	"context"
	"sync"

	"github.com/Sternrassler/rewind-dispatch/pkg/compose"
	"github.com/rs/zerolog"
)

// LogSender logs messages instead of sending them. Used for dry runs.
type LogSender struct {
	logger zerolog.Logger

	mu   sync.Mutex
	sent []compose.Message
}

// NewLogSender creates a sender that writes to logger.
func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Name implements Sender.
func (s *LogSender) Name() string { return "log" }

// Send implements Sender.
func (s *LogSender) Send(_ context.Context, msg compose.Message) error {
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()

	s.logger.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Int("html_bytes", len(msg.HTML)).
		Msg("Dry-run delivery")
	return nil
}

// Sent returns the messages seen so far.
func (s *LogSender) Sent() []compose.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]compose.Message(nil), s.sent...)
}

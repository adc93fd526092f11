package notify

import (
	"context"

	"clinicbook/internal/events"

	"github.com/rs/zerolog"
)

// LogSender writes notifications to the structured log.
type LogSender struct {
	logger *zerolog.Logger
}

func NewLogSender(logger *zerolog.Logger) *LogSender {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, eventType string, p events.ReservationEventPayload) error {
	s.logger.Info().
		Str("event_type", eventType).
		Str("reference", p.Reference).
		Int64("slot_id", p.SlotID).
		Str("status", p.Status).
		Str("email", p.Email).
		Msg("notification")
	return nil
}

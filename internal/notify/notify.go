// Package notify holds the delivery channels behind the notification worker.
package notify

import (
	"context"
	"errors"
	"fmt"

	"clinicbook/internal/config"
	"clinicbook/internal/events"

	"github.com/rs/zerolog"
)

// Channel is one delivery target. It matches worker.Sender.
type Channel interface {
	Send(ctx context.Context, eventType string, payload events.ReservationEventPayload) error
}

// Multi fans a notification out to every channel and joins their errors.
// A failed fan-out is retried as a whole, so channels must tolerate repeats.
type Multi struct {
	channels []Channel
}

func NewMulti(channels ...Channel) *Multi {
	return &Multi{channels: channels}
}

func (m *Multi) Send(ctx context.Context, eventType string, payload events.ReservationEventPayload) error {
	var errs []error
	for _, ch := range m.channels {
		if err := ch.Send(ctx, eventType, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len reports how many channels are wired.
func (m *Multi) Len() int {
	return len(m.channels)
}

// FromConfig builds the enabled channels. The log channel is always present.
func FromConfig(cfg config.NotificationConfig, logger *zerolog.Logger) (*Multi, error) {
	channels := []Channel{NewLogSender(logger)}

	if cfg.AMQP.Enabled {
		channels = append(channels, NewAMQPSender(cfg.AMQP.URL, cfg.AMQP.Queue))
	}

	if cfg.Telegram.Enabled {
		tg, err := NewTelegramSender(cfg.Telegram, logger)
		if err != nil {
			return nil, fmt.Errorf("telegram channel: %w", err)
		}
		channels = append(channels, tg)
	}

	return NewMulti(channels...), nil
}

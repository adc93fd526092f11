package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"clinicbook/internal/config"
	"clinicbook/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// BotAPI is the part of *tgbotapi.BotAPI used for admin alerts.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender posts reservation changes to administrator chats.
type TelegramSender struct {
	bot     BotAPI
	chatIDs []int64
	logger  *zerolog.Logger
}

func NewTelegramSender(cfg config.TelegramConfig, logger *zerolog.Logger) (*TelegramSender, error) {
	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	botAPI.Debug = cfg.Debug
	return NewTelegramSenderWithBot(botAPI, cfg.AdminChatIDs, logger), nil
}

func NewTelegramSenderWithBot(bot BotAPI, chatIDs []int64, logger *zerolog.Logger) *TelegramSender {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &TelegramSender{bot: bot, chatIDs: chatIDs, logger: logger}
}

func (s *TelegramSender) Send(_ context.Context, eventType string, p events.ReservationEventPayload) error {
	text := formatAdminMessage(eventType, p)

	var errs []error
	for _, chatID := range s.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.DisableWebPagePreview = true
		if _, err := s.bot.Send(msg); err != nil {
			s.logger.Warn().Err(err).Int64("chat_id", chatID).Str("reference", p.Reference).Msg("telegram send failed")
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

var eventTitles = map[string]string{
	events.EventBookingCreated:   "New booking",
	events.EventPaymentClaimed:   "Payment claimed",
	events.EventBookingConfirmed: "Booking confirmed",
	events.EventBookingDeclined:  "Booking declined",
	events.EventBookingCancelled: "Booking cancelled",
}

func formatAdminMessage(eventType string, p events.ReservationEventPayload) string {
	title, ok := eventTitles[eventType]
	if !ok {
		title = eventType
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", title, p.Reference)
	if p.SlotName != "" {
		fmt.Fprintf(&b, "Slot: %s\n", p.SlotName)
	} else {
		fmt.Fprintf(&b, "Slot: #%d\n", p.SlotID)
	}
	fmt.Fprintf(&b, "Customer: %s %s <%s>\n", p.FirstName, p.LastName, p.Email)
	if p.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", p.Phone)
	}
	fmt.Fprintf(&b, "Status: %s", p.Status)
	return b.String()
}

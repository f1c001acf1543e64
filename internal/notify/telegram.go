package notify

import (
	"context"
	"fmt"

	"classbook/internal/domain"
	"classbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// UserLookup resolves a member to their contact details.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// BotSender wraps the Telegram bot API for outgoing messages only.
type BotSender struct {
	*tgbotapi.BotAPI
}

func NewBotSender(token string, debug bool) (*BotSender, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	api.Debug = debug
	return &BotSender{BotAPI: api}, nil
}

// TelegramNotifier sends notifications to members who linked a Telegram chat.
type TelegramNotifier struct {
	users  UserLookup
	sender domain.TelegramSender
	logger *zerolog.Logger
}

var _ domain.Notifier = (*TelegramNotifier)(nil)

func NewTelegramNotifier(users UserLookup, sender domain.TelegramSender, logger *zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{users: users, sender: sender, logger: logger}
}

// Notify delivers the message. Members without a linked chat are skipped.
func (n *TelegramNotifier) Notify(ctx context.Context, userID int64, message string) error {
	user, err := n.users.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup user %d: %w", userID, err)
	}
	if user.TelegramChatID == 0 {
		n.logger.Debug().Int64("user_id", userID).Msg("No telegram chat linked, notification skipped")
		return nil
	}

	msg := tgbotapi.NewMessage(user.TelegramChatID, message)
	if _, err := n.sender.Send(msg); err != nil {
		return fmt.Errorf("send telegram message to user %d: %w", userID, err)
	}
	return nil
}

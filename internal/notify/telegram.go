package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramChannel pushes plain-text alerts into a counsellor chat.
type TelegramChannel struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegram(botToken string, chatID int64) (*TelegramChannel, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram bot: %w", err)
	}
	return &TelegramChannel{bot: bot, chatID: chatID}, nil
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) Send(_ context.Context, a Alert) error {
	msg := tgbotapi.NewMessage(c.chatID, a.Text)
	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// internal/bot/telegram.go
package bot

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"cashback-bot/internal/flow"
	"cashback-bot/internal/metrics"
	"cashback-bot/pkg/logger"
)

const updateTimeout = 60 * time.Second

// TelegramBot is the conversation adapter: it normalizes inbound updates to
// (user id, text | button payload | photo) for the controller and renders
// the controller's replies back into Telegram messages and keyboards.
type TelegramBot struct {
	bot        *tgbotapi.BotAPI
	controller *flow.Controller
	logger     *logger.Logger
	helpText   string
}

func NewTelegramBot(token string, logger *logger.Logger) (*TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	logger.Infow("Authorized on Telegram", "username", bot.Self.UserName)

	return &TelegramBot{
		bot:    bot,
		logger: logger,
		helpText: "Я бот кэшбек-акции. Я проведу вас по шагам от согласия с условиями " +
			"до выплаты. Отвечайте на вопросы кнопками, а в конце пришлите реквизиты.",
	}, nil
}

// AttachController wires the flow controller in. Must be called before Start.
func (t *TelegramBot) AttachController(c *flow.Controller) {
	t.controller = c
}

// Start begins receiving updates via long polling.
func (t *TelegramBot) Start(ctx context.Context) error {
	if t.controller == nil {
		return fmt.Errorf("no controller attached")
	}

	_, err := t.bot.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: false})
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60

	updates := t.bot.GetUpdatesChan(updateConfig)

	t.logger.Info("Started receiving Telegram updates")

	go t.handleUpdates(ctx, updates)

	return nil
}

// handleUpdates fans updates out, one goroutine per update, so one user's
// slow external calls never block another's.
func (t *TelegramBot) handleUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for update := range updates {
		go func(update tgbotapi.Update) {
			defer func() {
				if r := recover(); r != nil {
					t.logger.Errorw("Recovered from panic while processing update", "panic", r)
				}
			}()

			uctx, cancel := context.WithTimeout(ctx, updateTimeout)
			defer cancel()

			correlationID := uuid.NewString()
			metrics.UpdatesProcessed.Inc()

			switch {
			case update.Message != nil:
				t.handleMessage(uctx, correlationID, update.Message)
			case update.CallbackQuery != nil:
				t.handleCallbackQuery(uctx, correlationID, update.CallbackQuery)
			}
		}(update)
	}
}

func (t *TelegramBot) handleMessage(ctx context.Context, correlationID string, message *tgbotapi.Message) {
	userID := message.From.ID
	username := message.From.UserName

	t.logger.Infow("Received message",
		"correlation_id", correlationID,
		"user_id", userID,
		"from", username,
		"has_photo", len(message.Photo) > 0,
	)

	if message.IsCommand() {
		switch message.Command() {
		case "start":
			// /start goes through the same dedup-guarded path as any
			// other first message.
			t.controller.HandleText(ctx, userID, username, message.Text)
		case "help":
			t.reply(userID, t.helpText)
		default:
			t.reply(userID, "Неизвестная команда. Просто напишите сообщение или используйте /help.")
		}
		return
	}

	if len(message.Photo) > 0 {
		t.controller.HandlePhoto(ctx, userID, username)
		return
	}

	t.controller.HandleText(ctx, userID, username, message.Text)
}

func (t *TelegramBot) handleCallbackQuery(ctx context.Context, correlationID string, query *tgbotapi.CallbackQuery) {
	t.logger.Infow("Received callback query",
		"correlation_id", correlationID,
		"user_id", query.From.ID,
		"data", query.Data,
	)

	// Acknowledge first so the client stops the spinner even if handling
	// takes a while.
	if _, err := t.bot.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		t.logger.Errorw("Failed to answer callback query", "error", err)
	}

	t.controller.HandleButton(ctx, query.From.ID, query.Data)
}

// SendText implements flow.Conversation.
func (t *TelegramBot) SendText(_ context.Context, userID int64, text string, keyboard flow.Keyboard) error {
	msg := tgbotapi.NewMessage(userID, text)
	if keyboard != nil {
		msg.ReplyMarkup = toInlineKeyboard(keyboard)
	}
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// CheckMembership implements flow.Conversation via getChatMember.
func (t *TelegramBot) CheckMembership(_ context.Context, channel string, userID int64) (bool, error) {
	member, err := t.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			SuperGroupUsername: channel,
			UserID:             userID,
		},
	})
	if err != nil {
		return false, fmt.Errorf("failed to check channel membership: %w", err)
	}

	switch member.Status {
	case "creator", "administrator", "member":
		return true, nil
	}
	return false, nil
}

func (t *TelegramBot) reply(userID int64, text string) {
	if _, err := t.bot.Send(tgbotapi.NewMessage(userID, text)); err != nil {
		t.logger.Errorw("Failed to send message", "user_id", userID, "error", err)
	}
}

func toInlineKeyboard(keyboard flow.Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(keyboard))
	for _, row := range keyboard {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// Stop gracefully shuts down the polling loop.
func (t *TelegramBot) Stop(ctx context.Context) error {
	t.bot.StopReceivingUpdates()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(500 * time.Millisecond):
		return nil
	}
}

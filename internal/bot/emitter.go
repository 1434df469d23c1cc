package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"expense-bot/internal/integrations/telegram"
	"expense-bot/internal/usecase"
)

// Emitter renders state-machine output as Telegram messages.
type Emitter struct {
	sender Sender
	logger *slog.Logger
}

func NewEmitter(sender Sender, logger *slog.Logger) (*Emitter, error) {
	if sender == nil {
		return nil, errors.New("bot: sender must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{sender: sender, logger: logger}, nil
}

func (e *Emitter) EmitPrompt(ctx context.Context, conversationID, text string, withConfirmButtons bool) error {
	chatID, err := parseChatID(conversationID)
	if err != nil {
		return err
	}
	req := telegram.SendMessageRequest{ChatID: chatID, Text: text}
	if withConfirmButtons {
		req.ReplyMarkup = confirmKeyboard()
	}
	if _, err := e.sender.SendMessage(ctx, req); err != nil {
		return fmt.Errorf("bot: emit prompt: %w", err)
	}
	return nil
}

func (e *Emitter) EmitError(ctx context.Context, conversationID string, code usecase.ErrorCode, message string) error {
	chatID, err := parseChatID(conversationID)
	if err != nil {
		return err
	}
	e.logger.Debug("bot.emit.error", "conversation_id", conversationID, "code", string(code))
	if _, err := e.sender.SendMessage(ctx, telegram.SendMessageRequest{ChatID: chatID, Text: message}); err != nil {
		return fmt.Errorf("bot: emit error: %w", err)
	}
	return nil
}

func confirmKeyboard() *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{{
			{Text: "✅ Confirm", CallbackData: callbackConfirm},
			{Text: "✏️ Edit", CallbackData: callbackEdit},
		}},
	}
}

func parseChatID(conversationID string) (int64, error) {
	id, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bot: conversation id %q is not a chat id: %w", conversationID, err)
	}
	return id, nil
}

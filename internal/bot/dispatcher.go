package bot

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"expense-bot/internal/integrations/telegram"
	"expense-bot/internal/usecase"
)

const (
	callbackConfirm = "confirm"
	callbackEdit    = "edit"

	greeting = "Hi! I help you track household expenses. Just send me the expense, " +
		"for example \"Spent 250 THB on groceries yesterday, paid cash\". " +
		"I will show you what I understood so you can confirm or correct it. " +
		"Send /cancel to discard an expense waiting for confirmation."
	notAuthorised = "Sorry, this bot is private to its household."
)

// Conversations is the inbound side of the conversation state machine.
type Conversations interface {
	OnNewText(ctx context.Context, in usecase.TextInput) error
	OnConfirm(ctx context.Context, conversationID string) error
	OnReject(ctx context.Context, conversationID string) error
	OnCancel(ctx context.Context, conversationID string) error
}

// Sender is the subset of the Telegram client the adapter talks to.
type Sender interface {
	SendMessage(ctx context.Context, req telegram.SendMessageRequest) (telegram.Message, error)
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
	ClearReplyMarkup(ctx context.Context, chatID, messageID int64) error
}

// Dispatcher maps Telegram updates onto conversation events. The
// conversation id is the chat id.
type Dispatcher struct {
	conv   Conversations
	sender Sender
	users  map[int64]string
	logger *slog.Logger
}

func NewDispatcher(conv Conversations, sender Sender, users map[int64]string, logger *slog.Logger) (*Dispatcher, error) {
	if conv == nil {
		return nil, errors.New("bot: conversations must not be nil")
	}
	if sender == nil {
		return nil, errors.New("bot: sender must not be nil")
	}
	if len(users) == 0 {
		return nil, errors.New("bot: at least one allowed user is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{conv: conv, sender: sender, users: users, logger: logger}, nil
}

// HandleUpdate processes one update. The error is a delivery failure of the
// reply; the update itself is never retried.
func (d *Dispatcher) HandleUpdate(ctx context.Context, u telegram.Update) error {
	switch {
	case u.CallbackQuery != nil:
		return d.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		return d.handleMessage(ctx, u.Message)
	default:
		d.logger.Debug("bot.update.ignored", "update_id", u.UpdateID)
		return nil
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, m *telegram.Message) error {
	convID := conversationID(m.Chat.ID)
	if m.From == nil {
		return nil
	}
	label, ok := d.users[m.From.ID]
	if !ok {
		d.logger.Warn("bot.unauthorised", "user_id", m.From.ID, "conversation_id", convID)
		return d.reply(ctx, m.Chat.ID, notAuthorised)
	}

	text := strings.TrimSpace(m.Text)
	switch command(text) {
	case "/start", "/help":
		return d.reply(ctx, m.Chat.ID, greeting)
	case "/cancel":
		return d.conv.OnCancel(ctx, convID)
	}
	return d.conv.OnNewText(ctx, usecase.TextInput{
		ConversationID: convID,
		Text:           text,
		Sender:         label,
	})
}

func (d *Dispatcher) handleCallback(ctx context.Context, q *telegram.CallbackQuery) error {
	if err := d.sender.AnswerCallbackQuery(ctx, q.ID, ""); err != nil {
		d.logger.Warn("bot.callback.answer_failed", "err", err)
	}
	if q.Message == nil {
		return nil
	}
	chatID := q.Message.Chat.ID
	if _, ok := d.users[q.From.ID]; !ok {
		d.logger.Warn("bot.unauthorised", "user_id", q.From.ID, "conversation_id", conversationID(chatID))
		return d.reply(ctx, chatID, notAuthorised)
	}
	// Buttons act once; the next prompt carries fresh ones.
	if err := d.sender.ClearReplyMarkup(ctx, chatID, q.Message.MessageID); err != nil {
		d.logger.Warn("bot.callback.clear_markup_failed", "err", err)
	}

	convID := conversationID(chatID)
	switch q.Data {
	case callbackConfirm:
		return d.conv.OnConfirm(ctx, convID)
	case callbackEdit:
		return d.conv.OnReject(ctx, convID)
	default:
		d.logger.Warn("bot.callback.unknown", "data", q.Data, "conversation_id", convID)
		return nil
	}
}

func (d *Dispatcher) reply(ctx context.Context, chatID int64, text string) error {
	_, err := d.sender.SendMessage(ctx, telegram.SendMessageRequest{ChatID: chatID, Text: text})
	return err
}

// command returns the bot command in text, without any @botname suffix.
func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd := strings.Fields(text)[0]
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd)
}

func conversationID(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"expense-bot/internal/integrations/telegram"
	"expense-bot/internal/usecase"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []telegram.SendMessageRequest
	answered []string
	cleared  [][2]int64
	sendErr  error
}

func (f *fakeSender) SendMessage(_ context.Context, req telegram.SendMessageRequest) (telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	return telegram.Message{MessageID: int64(len(f.sent)), Chat: telegram.Chat{ID: req.ChatID}}, f.sendErr
}

func (f *fakeSender) AnswerCallbackQuery(_ context.Context, callbackID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, callbackID)
	return nil
}

func (f *fakeSender) ClearReplyMarkup(_ context.Context, chatID, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, [2]int64{chatID, messageID})
	return nil
}

type recordingConversations struct {
	mu     sync.Mutex
	events []string
	texts  []usecase.TextInput
	err    error
}

func (r *recordingConversations) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingConversations) OnNewText(_ context.Context, in usecase.TextInput) error {
	r.mu.Lock()
	r.texts = append(r.texts, in)
	r.mu.Unlock()
	r.add("text:" + in.ConversationID + ":" + in.Text)
	return r.err
}

func (r *recordingConversations) OnConfirm(_ context.Context, id string) error {
	r.add("confirm:" + id)
	return r.err
}

func (r *recordingConversations) OnReject(_ context.Context, id string) error {
	r.add("reject:" + id)
	return r.err
}

func (r *recordingConversations) OnCancel(_ context.Context, id string) error {
	r.add("cancel:" + id)
	return r.err
}

var household = map[int64]string{11: "Alice", 22: "Bob"}

func newDispatcher(t *testing.T) (*Dispatcher, *recordingConversations, *fakeSender) {
	t.Helper()
	conv := &recordingConversations{}
	sender := &fakeSender{}
	d, err := NewDispatcher(conv, sender, household, nil)
	require.NoError(t, err)
	return d, conv, sender
}

func textUpdate(id, userID, chatID int64, text string) telegram.Update {
	return telegram.Update{
		UpdateID: id,
		Message: &telegram.Message{
			MessageID: id,
			From:      &telegram.User{ID: userID},
			Chat:      telegram.Chat{ID: chatID},
			Text:      text,
		},
	}
}

func callbackUpdate(id, userID, chatID int64, data string) telegram.Update {
	return telegram.Update{
		UpdateID: id,
		CallbackQuery: &telegram.CallbackQuery{
			ID:      "cb-1",
			From:    telegram.User{ID: userID},
			Message: &telegram.Message{MessageID: 5, Chat: telegram.Chat{ID: chatID}},
			Data:    data,
		},
	}
}

func TestNewDispatcher_Validates(t *testing.T) {
	_, err := NewDispatcher(nil, &fakeSender{}, household, nil)
	require.Error(t, err)
	_, err = NewDispatcher(&recordingConversations{}, nil, household, nil)
	require.Error(t, err)
	_, err = NewDispatcher(&recordingConversations{}, &fakeSender{}, nil, nil)
	require.Error(t, err)
}

func TestHandleUpdate_TextCarriesSenderLabel(t *testing.T) {
	d, conv, _ := newDispatcher(t)

	require.NoError(t, d.HandleUpdate(context.Background(), textUpdate(1, 22, 500, "  taxi 120 THB  ")))
	require.Equal(t, []usecase.TextInput{{ConversationID: "500", Text: "taxi 120 THB", Sender: "Bob"}}, conv.texts)
}

func TestHandleUpdate_UnauthorisedGetsOneReply(t *testing.T) {
	d, conv, sender := newDispatcher(t)

	require.NoError(t, d.HandleUpdate(context.Background(), textUpdate(1, 99, 500, "coffee 3 usd")))
	require.Empty(t, conv.events)
	require.Len(t, sender.sent, 1)
	require.Equal(t, notAuthorised, sender.sent[0].Text)
}

func TestHandleUpdate_Commands(t *testing.T) {
	d, conv, sender := newDispatcher(t)
	ctx := context.Background()

	require.NoError(t, d.HandleUpdate(ctx, textUpdate(1, 11, 500, "/start")))
	require.Len(t, sender.sent, 1)
	require.Equal(t, greeting, sender.sent[0].Text)

	require.NoError(t, d.HandleUpdate(ctx, textUpdate(2, 11, 500, "/cancel@expense_bot")))
	require.Equal(t, []string{"cancel:500"}, conv.events)
}

func TestHandleUpdate_Callbacks(t *testing.T) {
	d, conv, sender := newDispatcher(t)
	ctx := context.Background()

	require.NoError(t, d.HandleUpdate(ctx, callbackUpdate(1, 11, 500, callbackConfirm)))
	require.NoError(t, d.HandleUpdate(ctx, callbackUpdate(2, 22, 500, callbackEdit)))
	require.NoError(t, d.HandleUpdate(ctx, callbackUpdate(3, 22, 500, "bogus")))

	require.Equal(t, []string{"confirm:500", "reject:500"}, conv.events)
	require.Len(t, sender.answered, 3)
	require.Equal(t, [2]int64{500, 5}, sender.cleared[0])
}

func TestHandleUpdate_UnauthorisedCallback(t *testing.T) {
	d, conv, sender := newDispatcher(t)

	require.NoError(t, d.HandleUpdate(context.Background(), callbackUpdate(1, 99, 500, callbackConfirm)))
	require.Empty(t, conv.events)
	require.Len(t, sender.answered, 1)
	require.Empty(t, sender.cleared)
	require.Len(t, sender.sent, 1)
}

func TestHandleUpdate_IgnoresOtherUpdates(t *testing.T) {
	d, conv, sender := newDispatcher(t)
	require.NoError(t, d.HandleUpdate(context.Background(), telegram.Update{UpdateID: 3}))
	require.Empty(t, conv.events)
	require.Empty(t, sender.sent)
}

func TestEmitter_PromptButtons(t *testing.T) {
	sender := &fakeSender{}
	e, err := NewEmitter(sender, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, e.EmitPrompt(ctx, "500", "Is this correct?", true))
	require.NoError(t, e.EmitPrompt(ctx, "500", "Saved.", false))
	require.NoError(t, e.EmitError(ctx, "500", usecase.ErrorNoPendingExpense, "Nothing to confirm."))

	require.Len(t, sender.sent, 3)
	require.Equal(t, int64(500), sender.sent[0].ChatID)
	require.NotNil(t, sender.sent[0].ReplyMarkup)
	buttons := sender.sent[0].ReplyMarkup.InlineKeyboard[0]
	require.Equal(t, callbackConfirm, buttons[0].CallbackData)
	require.Equal(t, callbackEdit, buttons[1].CallbackData)
	require.Nil(t, sender.sent[1].ReplyMarkup)
	require.Equal(t, "Nothing to confirm.", sender.sent[2].Text)
}

func TestEmitter_Errors(t *testing.T) {
	sender := &fakeSender{sendErr: errors.New("network down")}
	e, err := NewEmitter(sender, nil)
	require.NoError(t, err)

	require.Error(t, e.EmitPrompt(context.Background(), "not-a-chat", "x", false))
	err = e.EmitPrompt(context.Background(), "500", "x", false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "network down")
}

type scriptedSource struct {
	mu      sync.Mutex
	batches [][]telegram.Update
	errs    []error
	offsets []int64
	cancel  context.CancelFunc
}

func (s *scriptedSource) GetUpdates(_ context.Context, offset int64, _ time.Duration) ([]telegram.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets = append(s.offsets, offset)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(s.batches) == 0 {
		s.cancel()
		return nil, context.Canceled
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return b, nil
}

type orderHandler struct {
	mu   sync.Mutex
	seen map[int64][]int64
	err  error
}

func (h *orderHandler) HandleUpdate(_ context.Context, u telegram.Update) error {
	chat, _ := chatOf(u)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seen == nil {
		h.seen = make(map[int64][]int64)
	}
	h.seen[chat] = append(h.seen[chat], u.UpdateID)
	return h.err
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestPoller_AdvancesOffsetAndKeepsChatOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &scriptedSource{
		cancel: cancel,
		batches: [][]telegram.Update{
			{textUpdate(10, 11, 500, "a"), textUpdate(11, 22, 600, "b"), callbackUpdate(12, 11, 500, "confirm")},
			{textUpdate(13, 22, 600, "c")},
		},
	}
	h := &orderHandler{err: errors.New("send failed")}
	p, err := NewPoller(src, h)
	require.NoError(t, err)
	p.sleep = noSleep

	require.NoError(t, p.Run(ctx))
	require.Equal(t, []int64{0, 13, 14}, src.offsets)
	require.Equal(t, []int64{10, 12}, h.seen[500])
	require.Equal(t, []int64{11, 13}, h.seen[600])
}

func TestPoller_ConflictIsFatal(t *testing.T) {
	src := &scriptedSource{
		cancel: func() {},
		errs:   []error{&telegram.HTTPStatusError{StatusCode: 409, Method: "getUpdates", Description: "Conflict"}},
	}
	p, err := NewPoller(src, &orderHandler{})
	require.NoError(t, err)

	err = p.Run(context.Background())
	var chErr *ChannelError
	require.ErrorAs(t, err, &chErr)
	require.ErrorIs(t, err, telegram.ErrConflict)
}

func TestPoller_BacksOffOnTransientErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &scriptedSource{
		cancel:  cancel,
		errs:    []error{errors.New("timeout"), errors.New("timeout"), nil},
		batches: [][]telegram.Update{{textUpdate(4, 11, 500, "a")}},
	}
	var waits []time.Duration
	p, err := NewPoller(src, &orderHandler{})
	require.NoError(t, err)
	p.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	require.NoError(t, p.Run(ctx))
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, waits)
	require.Equal(t, []int64{0, 0, 0, 5}, src.offsets)
}

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"expense-bot/internal/config"
	"expense-bot/internal/domain"
	"expense-bot/internal/integrations/telegram"
	"expense-bot/internal/repository"
)

type fakeTelegram struct {
	mu   sync.Mutex
	sent []telegram.SendMessageRequest
}

func (f *fakeTelegram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/sendMessage") {
		var req telegram.SendMessageRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.sent = append(f.sent, req)
		n := len(f.sent)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": map[string]any{"message_id": n, "chat": map[string]any{"id": req.ChatID}},
		})
		return
	}
	_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
}

func (f *fakeTelegram) messages() []telegram.SendMessageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]telegram.SendMessageRequest(nil), f.sent...)
}

func fakeOpenAI(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.True(t, bytes.Contains(raw, []byte(`"json_schema"`)))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, openaiURL string) config.Config {
	t.Helper()
	return config.Config{
		TelegramToken:  "123:abc",
		OpenAIAPIKey:   "sk-test",
		OpenAIModel:    "gpt-4o-mini",
		OpenAIBaseURL:  openaiURL,
		LedgerBackend:  config.BackendSQLite,
		LedgerPath:     filepath.Join(t.TempDir(), "ledger.db"),
		AllowedUsers:   map[int64]string{11: "Alice", 22: "Bob"},
		Location:       time.UTC,
		ExtractTimeout: 5 * time.Second,
		LedgerTimeout:  5 * time.Second,
	}
}

func TestNew_ConfirmWritesOneLedgerRow(t *testing.T) {
	tg := &fakeTelegram{}
	tgSrv := httptest.NewServer(tg)
	t.Cleanup(tgSrv.Close)
	llm := fakeOpenAI(t, `{"date":"2026-10-18","description":"groceries","amount":250,"currency":"thb","cash":true,"user":"alice"}`)

	cfg := testConfig(t, llm.URL)
	store := repository.NewMemoryPendingStore()
	a, err := New(context.Background(), cfg, store, nil, WithTelegramOptions(telegram.WithBaseURL(tgSrv.URL)))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Dispatcher.HandleUpdate(ctx, telegram.Update{
		UpdateID: 1,
		Message: &telegram.Message{
			MessageID: 1,
			From:      &telegram.User{ID: 11},
			Chat:      telegram.Chat{ID: 500},
			Text:      "groceries 250 baht yesterday, cash",
		},
	}))
	require.Equal(t, 1, store.Len())

	sent := tg.messages()
	require.Len(t, sent, 1)
	require.Contains(t, sent[0].Text, "groceries")
	require.NotNil(t, sent[0].ReplyMarkup)

	require.NoError(t, a.Dispatcher.HandleUpdate(ctx, telegram.Update{
		UpdateID: 2,
		CallbackQuery: &telegram.CallbackQuery{
			ID:      "cb",
			From:    telegram.User{ID: 22},
			Message: &telegram.Message{MessageID: 1, Chat: telegram.Chat{ID: 500}},
			Data:    "confirm",
		},
	}))
	require.Equal(t, 0, store.Len())
	sent = tg.messages()
	require.Len(t, sent, 2)
	require.Contains(t, sent[1].Text, "Saved to the ledger")
	require.NoError(t, a.Close())

	ledger, err := repository.NewSQLiteLedger(cfg.LedgerPath)
	require.NoError(t, err)
	defer ledger.Close()
	rows, err := ledger.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, domain.ExpenseRecord{
		Date:        "2026-10-18",
		Description: "groceries",
		Amount:      rows[0].Amount,
		Currency:    "THB",
		Cash:        true,
		User:        "Alice",
	}, rows[0])
	require.True(t, decimal.NewFromInt(250).Equal(rows[0].Amount))
}

func TestNew_Validates(t *testing.T) {
	cfg := testConfig(t, "")
	_, err := New(context.Background(), cfg, nil, nil)
	require.Error(t, err)

	cfg.TelegramToken = ""
	_, err = New(context.Background(), cfg, repository.NewMemoryPendingStore(), nil)
	require.Error(t, err)
}

func TestNewLedger_Backends(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "")

	l, closer, err := NewLedger(ctx, cfg, nil)
	require.NoError(t, err)
	require.IsType(t, &repository.SQLiteLedger{}, l)
	require.NoError(t, closer.Close())

	cfg.LedgerBackend = config.BackendXLSX
	cfg.LedgerPath = filepath.Join(t.TempDir(), "ledger.xlsx")
	l, closer, err = NewLedger(ctx, cfg, nil)
	require.NoError(t, err)
	require.IsType(t, &repository.XLSXLedger{}, l)
	require.Nil(t, closer)

	cfg.LedgerBackend = config.BackendSheets
	_, _, err = NewLedger(ctx, cfg, nil)
	require.ErrorContains(t, err, "credentials")

	cfg.LedgerBackend = "csv"
	_, _, err = NewLedger(ctx, cfg, nil)
	require.Error(t, err)
}

func TestNewLogger_TagsProject(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, config.Config{TraceProject: "household"})
	logger.Info("hello")
	require.Contains(t, buf.String(), `"project":"household"`)
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"expense-bot/internal/bot"
	"expense-bot/internal/config"
	"expense-bot/internal/integrations/openai"
	"expense-bot/internal/integrations/sheets"
	"expense-bot/internal/integrations/telegram"
	"expense-bot/internal/repository"
	"expense-bot/internal/usecase"
)

// App is the wired bot shared by both entrypoints.
type App struct {
	Telegram     *telegram.Client
	Dispatcher   *bot.Dispatcher
	Conversation *usecase.ConversationService

	closers []io.Closer
}

type options struct {
	telegram []telegram.Option
}

type Option func(*options)

// WithTelegramOptions passes options through to the Telegram client.
func WithTelegramOptions(opts ...telegram.Option) Option {
	return func(o *options) {
		o.telegram = append(o.telegram, opts...)
	}
}

// Close releases the ledger.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// NewLogger returns a JSON logger, tagged with the trace project when set.
func NewLogger(w io.Writer, cfg config.Config) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, nil))
	if cfg.TraceProject != "" {
		logger = logger.With("project", cfg.TraceProject)
	}
	return logger
}

// New wires the bot around the given pending store.
func New(ctx context.Context, cfg config.Config, store usecase.PendingStore, logger *slog.Logger, opts ...Option) (*App, error) {
	if store == nil {
		return nil, errors.New("app: pending store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	tg, err := telegram.NewClient(cfg.TelegramToken, o.telegram...)
	if err != nil {
		return nil, err
	}

	llm, err := openai.NewClient(cfg.OpenAIAPIKey,
		openai.WithBaseURL(cfg.OpenAIBaseURL),
		openai.WithTemperature(0),
		openai.WithJSONSchema("expense", json.RawMessage(usecase.ExpenseResponseSchema)),
	)
	if err != nil {
		return nil, err
	}

	extractor, err := usecase.NewLLMExtractor(llm, cfg.OpenAIModel,
		usecase.WithKnownUsers(cfg.UserLabels()...),
		usecase.WithLocation(cfg.Location),
		usecase.WithExtractorLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	ledger, closer, err := NewLedger(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &App{Telegram: tg}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	emitter, err := bot.NewEmitter(tg, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	conv, err := usecase.NewConversationService(extractor, store, ledger, emitter,
		usecase.WithTimeouts(cfg.ExtractTimeout, cfg.LedgerTimeout),
		usecase.WithLogger(logger),
	)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	dispatcher, err := bot.NewDispatcher(conv, tg, cfg.AllowedUsers, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Conversation = conv
	a.Dispatcher = dispatcher

	logger.Info("app.wired", "ledger_backend", cfg.LedgerBackend, "model", cfg.OpenAIModel, "users", len(cfg.AllowedUsers))
	return a, nil
}

// NewLedger builds the ledger selected by LEDGER_BACKEND. The closer is nil
// for backends that hold no local resources.
func NewLedger(ctx context.Context, cfg config.Config, logger *slog.Logger) (usecase.Ledger, io.Closer, error) {
	switch cfg.LedgerBackend {
	case config.BackendSheets:
		l, err := sheets.New(ctx, cfg.SheetsID, cfg.GoogleCredentials, cfg.LedgerRange, logger)
		if err != nil {
			return nil, nil, err
		}
		return l, nil, nil
	case config.BackendXLSX:
		l, err := repository.NewXLSXLedger(cfg.LedgerPath, logger)
		if err != nil {
			return nil, nil, err
		}
		return l, nil, nil
	case config.BackendSQLite:
		l, err := repository.NewSQLiteLedger(cfg.LedgerPath)
		if err != nil {
			return nil, nil, err
		}
		return l, l, nil
	default:
		return nil, nil, fmt.Errorf("app: unknown ledger backend %q", cfg.LedgerBackend)
	}
}

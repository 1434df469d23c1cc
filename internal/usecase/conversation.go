package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"expense-bot/internal/domain"
)

const (
	defaultExtractTimeout = 30 * time.Second
	defaultLedgerTimeout  = 15 * time.Second
)

// State is the confirmation state of one conversation.
type State string

const (
	StateIdle                 State = "idle"
	StateAwaitingConfirmation State = "awaiting_confirmation"
)

type Extractor interface {
	Extract(ctx context.Context, in ExtractInput) (domain.ExpenseRecord, error)
}

// PendingStore holds at most one PendingExpense per conversation. Put
// replaces any existing entry for the same conversation. Claim removes the
// entry only if it still carries token, atomically, and reports whether it
// did; of two concurrent claims at most one succeeds.
type PendingStore interface {
	Get(ctx context.Context, conversationID string) (domain.PendingExpense, bool, error)
	Put(ctx context.Context, p domain.PendingExpense) error
	Delete(ctx context.Context, conversationID string) error
	Claim(ctx context.Context, conversationID, token string) (bool, error)
}

// Ledger appends confirmed expenses. token identifies the pending candidate;
// backends that can deduplicate on it should.
type Ledger interface {
	Append(ctx context.Context, token string, rec domain.ExpenseRecord) error
}

// Emitter is the outbound side of the channel adapter.
type Emitter interface {
	EmitPrompt(ctx context.Context, conversationID, text string, withConfirmButtons bool) error
	EmitError(ctx context.Context, conversationID string, code ErrorCode, message string) error
}

type TextInput struct {
	ConversationID string
	Text           string
	// Sender is the household label of the reporting user, if known.
	Sender string
}

// ConversationService drives parse -> confirm -> commit for each
// conversation. Events for the same conversation are serialized internally;
// different conversations proceed in parallel.
type ConversationService struct {
	extractor Extractor
	store     PendingStore
	ledger    Ledger
	emitter   Emitter
	locks     *keyedMutex
	logger    *slog.Logger

	extractTimeout time.Duration
	ledgerTimeout  time.Duration
	now            func() time.Time
}

type ServiceOption func(*ConversationService)

func WithTimeouts(extract, ledger time.Duration) ServiceOption {
	return func(s *ConversationService) {
		if extract > 0 {
			s.extractTimeout = extract
		}
		if ledger > 0 {
			s.ledgerTimeout = ledger
		}
	}
}

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *ConversationService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *ConversationService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewConversationService(ex Extractor, store PendingStore, ledger Ledger, emitter Emitter, opts ...ServiceOption) (*ConversationService, error) {
	if ex == nil {
		return nil, errors.New("usecase: extractor must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: pending store must not be nil")
	}
	if ledger == nil {
		return nil, errors.New("usecase: ledger must not be nil")
	}
	if emitter == nil {
		return nil, errors.New("usecase: emitter must not be nil")
	}
	s := &ConversationService{
		extractor:      ex,
		store:          store,
		ledger:         ledger,
		emitter:        emitter,
		locks:          newKeyedMutex(),
		logger:         slog.Default(),
		extractTimeout: defaultExtractTimeout,
		ledgerTimeout:  defaultLedgerTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// State reports whether the conversation has a pending expense.
func (s *ConversationService) State(ctx context.Context, conversationID string) (State, error) {
	_, ok, err := s.store.Get(ctx, conversationID)
	if err != nil {
		return "", newError(ErrorInternal, "pending_read_error", err)
	}
	if ok {
		return StateAwaitingConfirmation, nil
	}
	return StateIdle, nil
}

// OnNewText handles free text: a new report when idle, a correction when a
// candidate is awaiting confirmation. The returned error is only ever a
// delivery failure of the reply itself.
func (s *ConversationService) OnNewText(ctx context.Context, in TextInput) error {
	convID := in.ConversationID
	unlock := s.locks.Lock(convID)
	defer unlock()

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return s.fail(ctx, convID, newError(ErrorInvalidInput, "empty_text", nil))
	}

	pending, hasPending, err := s.store.Get(ctx, convID)
	if err != nil {
		return s.fail(ctx, convID, newError(ErrorInternal, "pending_read_error", err))
	}

	extractIn := ExtractInput{Text: text, Sender: in.Sender}
	if hasPending {
		extractIn.PriorSummary = pending.Summary
	}

	rec, xerr := s.extract(ctx, extractIn)
	if xerr != nil {
		if hasPending {
			s.logger.Info("conversation.correction.failed", "conversation_id", convID, "reason", xerr.Reason, "err", xerr.Err)
			return s.emitError(ctx, convID, ErrorExtractionFailed,
				"Sorry, I could not apply that correction. The previous expense is unchanged:\n\n"+pending.Summary)
		}
		return s.fail(ctx, convID, xerr)
	}

	next := domain.NewPendingExpense(convID, rec, newToken(), s.now())
	if err := s.store.Put(ctx, next); err != nil {
		return s.fail(ctx, convID, newError(ErrorInternal, "pending_write_error", err))
	}
	s.logger.Info("conversation.pending.stored",
		"conversation_id", convID,
		"token", next.Token,
		"correction", hasPending,
	)
	return s.emitter.EmitPrompt(ctx, convID, confirmationPrompt(next.Summary), true)
}

// OnConfirm commits the pending expense. The candidate is claimed before the
// append so a second confirm, from any process, finds nothing pending. On
// ledger failure the candidate is put back so the user can confirm again; its
// token lets deduplicating ledgers ignore the retry.
func (s *ConversationService) OnConfirm(ctx context.Context, conversationID string) error {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	pending, ok, err := s.pending(ctx, conversationID)
	if err != nil || !ok {
		return err
	}

	claimed, err := s.store.Claim(ctx, conversationID, pending.Token)
	if err != nil {
		return s.fail(ctx, conversationID, newError(ErrorInternal, "pending_claim_error", err))
	}
	if !claimed {
		return s.fail(ctx, conversationID, newError(ErrorNoPendingExpense, "pending_already_claimed", nil))
	}

	start := s.now()
	appendCtx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
	err = s.ledger.Append(appendCtx, pending.Token, pending.Record)
	cancel()
	if err != nil {
		if putErr := s.store.Put(ctx, pending); putErr != nil {
			s.logger.Error("conversation.pending.restore_failed", "conversation_id", conversationID, "token", pending.Token, "err", putErr)
		}
		return s.fail(ctx, conversationID, newError(ErrorLedgerUnavailable, "ledger_append_error", err))
	}

	s.logger.Info("ledger.append.ok",
		"conversation_id", conversationID,
		"token", pending.Token,
		"elapsed_ms", s.now().Sub(start).Milliseconds(),
	)
	return s.emitter.EmitPrompt(ctx, conversationID, "Saved to the ledger:\n\n"+pending.Summary, false)
}

// OnReject keeps the candidate and asks for a correction.
func (s *ConversationService) OnReject(ctx context.Context, conversationID string) error {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	_, ok, err := s.pending(ctx, conversationID)
	if err != nil || !ok {
		return err
	}
	return s.emitter.EmitPrompt(ctx, conversationID,
		"What should I change? Send the correction as a message, or /cancel to discard the expense.", false)
}

// OnCancel discards the candidate entirely.
func (s *ConversationService) OnCancel(ctx context.Context, conversationID string) error {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	_, ok, err := s.pending(ctx, conversationID)
	if err != nil || !ok {
		return err
	}
	if err := s.store.Delete(ctx, conversationID); err != nil {
		return s.fail(ctx, conversationID, newError(ErrorInternal, "pending_delete_error", err))
	}
	s.logger.Info("conversation.pending.cancelled", "conversation_id", conversationID)
	return s.emitter.EmitPrompt(ctx, conversationID, "Expense discarded.", false)
}

// pending loads the conversation's candidate. When there is none, or the
// store fails, the user has already been told and ok is false.
func (s *ConversationService) pending(ctx context.Context, conversationID string) (domain.PendingExpense, bool, error) {
	p, ok, err := s.store.Get(ctx, conversationID)
	if err != nil {
		return domain.PendingExpense{}, false, s.fail(ctx, conversationID, newError(ErrorInternal, "pending_read_error", err))
	}
	if !ok {
		return domain.PendingExpense{}, false, s.fail(ctx, conversationID, newError(ErrorNoPendingExpense, "no_pending_expense", nil))
	}
	return p, true, nil
}

// extract runs the extractor under its deadline. Every failure is an
// ExtractionFailed *Error; a nil *Error means success.
func (s *ConversationService) extract(ctx context.Context, in ExtractInput) (domain.ExpenseRecord, *Error) {
	extractCtx, cancel := context.WithTimeout(ctx, s.extractTimeout)
	defer cancel()

	rec, err := s.extractor.Extract(extractCtx, in)
	if err == nil {
		return rec, nil
	}
	var ucErr *Error
	if errors.As(err, &ucErr) && ucErr.Code == ErrorExtractionFailed {
		return domain.ExpenseRecord{}, ucErr
	}
	return domain.ExpenseRecord{}, newError(ErrorExtractionFailed, "extractor_error", err)
}

func (s *ConversationService) fail(ctx context.Context, conversationID string, err *Error) error {
	level := slog.LevelInfo
	if err.Code == ErrorInternal || err.Code == ErrorLedgerUnavailable {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "conversation.failed",
		"conversation_id", conversationID,
		"code", string(err.Code),
		"reason", err.Reason,
		"err", err.Err,
	)
	return s.emitError(ctx, conversationID, err.Code, userMessage(err.Code))
}

func (s *ConversationService) emitError(ctx context.Context, conversationID string, code ErrorCode, message string) error {
	return s.emitter.EmitError(ctx, conversationID, code, message)
}

func confirmationPrompt(summary string) string {
	return summary + "\n\nIs this correct? Press Confirm to save it or Edit to correct it."
}

var newToken = func() string {
	return uuid.NewString()
}

package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"expense-bot/internal/domain"
)

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

// ExtractInput is one extraction request. PriorSummary is set when the text
// corrects a previously rendered candidate.
type ExtractInput struct {
	Text         string
	PriorSummary string
	Sender       string
}

// LLMExtractor is the LLM-backed extraction adapter. It never persists
// anything and reports every malformed output as ExtractionFailed.
type LLMExtractor struct {
	llm      LLMClient
	model    string
	users    []string
	location *time.Location
	now      func() time.Time
	logger   *slog.Logger
}

type ExtractorOption func(*LLMExtractor)

// WithKnownUsers lists the household labels the extractor may assign.
func WithKnownUsers(users ...string) ExtractorOption {
	return func(e *LLMExtractor) {
		e.users = append([]string(nil), users...)
	}
}

// WithLocation sets the zone relative dates are resolved in.
func WithLocation(loc *time.Location) ExtractorOption {
	return func(e *LLMExtractor) {
		if loc != nil {
			e.location = loc
		}
	}
}

func WithClock(now func() time.Time) ExtractorOption {
	return func(e *LLMExtractor) {
		if now != nil {
			e.now = now
		}
	}
}

func WithExtractorLogger(logger *slog.Logger) ExtractorOption {
	return func(e *LLMExtractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func NewLLMExtractor(llm LLMClient, model string, opts ...ExtractorOption) (*LLMExtractor, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	e := &LLMExtractor{
		llm:      llm,
		model:    model,
		location: time.UTC,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *LLMExtractor) Extract(ctx context.Context, in ExtractInput) (domain.ExpenseRecord, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return domain.ExpenseRecord{}, newError(ErrorExtractionFailed, "empty_text", nil)
	}
	if in.PriorSummary != "" {
		text = correctionText(in.PriorSummary, text)
	}

	raw, err := e.llm.Chat(ctx, e.model, buildExtractionMessages(promptContext{
		today:  e.now().In(e.location).Format(domain.DateLayout),
		sender: in.Sender,
		users:  e.users,
	}, text))
	if err != nil {
		return domain.ExpenseRecord{}, newError(ErrorExtractionFailed, "llm_error", err)
	}

	candidate, err := parseCandidate(raw)
	if err != nil {
		e.logger.Warn("extract.malformed_output", "err", err)
		return domain.ExpenseRecord{}, newError(ErrorExtractionFailed, "malformed_output", err)
	}
	rec, err := validateCandidate(candidate, e.users)
	if err != nil {
		e.logger.Warn("extract.invalid_candidate", "err", err)
		return domain.ExpenseRecord{}, newError(ErrorExtractionFailed, "invalid_candidate", err)
	}
	return rec, nil
}

package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"

	"expense-bot/internal/domain"
)

// ExpenseResponseSchema is the structured-output contract sent to the LLM.
// It only fixes shape and types; value constraints are enforced locally by
// expenseValidationSchema so the model cannot smuggle partial records through.
const ExpenseResponseSchema = `{
	"type":"object",
	"additionalProperties":false,
	"properties":{
		"date":{"type":"string"},
		"description":{"type":"string"},
		"amount":{"type":"number"},
		"currency":{"type":"string"},
		"cash":{"type":"boolean"},
		"user":{"type":"string"}
	},
	"required":["date","description","amount","currency","cash","user"]
}`

var expenseValidationSchema = jsonschema.MustCompileString("expense.json", `{
	"type":"object",
	"additionalProperties":false,
	"properties":{
		"date":{"type":"string","pattern":"^\\d{4}-\\d{2}-\\d{2}$"},
		"description":{"type":"string","minLength":1,"pattern":"^[^\\r\\n]+$"},
		"amount":{"type":"number","exclusiveMinimum":0},
		"currency":{"type":"string","pattern":"^\\s*[A-Za-z]{3}\\s*$"},
		"cash":{"type":"boolean"},
		"user":{"type":"string","minLength":1,"pattern":"^[^\\r\\n]+$"}
	},
	"required":["date","description","amount","currency","cash","user"]
}`)

type expenseCandidate struct {
	Date        string          `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Cash        bool            `json:"cash"`
	User        string          `json:"user"`
}

type promptContext struct {
	today  string
	sender string
	users  []string
}

func buildExtractionMessages(ctx promptContext, text string) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: "system", Content: buildInstructionPrompt(ctx)},
		{Role: "user", Content: text},
	}
}

func buildInstructionPrompt(ctx promptContext) string {
	lines := []string{
		"Role:",
		"You extract household expenses from chat messages.",
		"",
		"Task:",
		"Extract date, description, amount, currency, cash flag, user from this message.",
		"Resolve relative dates to absolute calendar dates.",
		"",
		"Context:",
		"Today is " + ctx.today + ".",
	}
	if ctx.sender != "" {
		lines = append(lines, "The message was sent by "+ctx.sender+". Use this as the user unless the message names someone else.")
	}
	if len(ctx.users) > 0 {
		lines = append(lines, "Known users: "+strings.Join(ctx.users, ", ")+".")
	}
	lines = append(lines,
		"",
		"Rules:",
		"1) date is YYYY-MM-DD.",
		"2) amount is a positive number without currency symbols.",
		"3) currency is a 3-letter ISO 4217 code.",
		"4) cash is true for cash payments and false for card payments.",
		"5) If the message starts with \"Previous expense:\", apply the correction to the previous expense and return the full corrected expense.",
		"6) Never guess. If a field cannot be determined, return an empty string for it (0 for amount).",
		"",
		"Output Contract:",
		"Return JSON only with keys date, description, amount, currency, cash, user.",
	)
	return strings.Join(lines, "\n")
}

// correctionText frames a correction against the previously rendered summary.
func correctionText(priorSummary, text string) string {
	return "Previous expense: " + priorSummary + "\nCorrection: " + text
}

// parseCandidate fails closed: the raw output must satisfy the validation
// schema and decode without unknown fields or trailing data.
func parseCandidate(raw string) (expenseCandidate, error) {
	raw = strings.TrimSpace(raw)
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return expenseCandidate{}, fmt.Errorf("usecase: decode expense: %w", err)
	}
	if err := expenseValidationSchema.Validate(doc); err != nil {
		return expenseCandidate{}, fmt.Errorf("usecase: expense does not match schema: %w", err)
	}

	var out expenseCandidate
	dec := json.NewDecoder(bytes.NewBufferString(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return expenseCandidate{}, fmt.Errorf("usecase: decode expense: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return expenseCandidate{}, errors.New("usecase: decode expense: multiple JSON values")
		}
		return expenseCandidate{}, fmt.Errorf("usecase: decode expense trailing data: %w", err)
	}
	return out, nil
}

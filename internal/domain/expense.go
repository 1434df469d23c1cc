package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the ISO-8601 calendar date layout used for ExpenseRecord.Date.
const DateLayout = "2006-01-02"

// ExpenseRecord is a fully populated, validated expense. Partial records never
// leave the extraction step.
type ExpenseRecord struct {
	Date        string
	Description string
	Amount      decimal.Decimal
	Currency    string
	Cash        bool
	User        string
}

// PendingExpense is an unconfirmed candidate owned by one conversation.
type PendingExpense struct {
	ConversationID string
	Record         ExpenseRecord
	Summary        string
	// Token identifies this candidate across ledger retries.
	Token     string
	CreatedAt time.Time
}

// PaymentLabel returns "Cash" for cash payments and "Card" otherwise.
func (r ExpenseRecord) PaymentLabel() string {
	if r.Cash {
		return "Cash"
	}
	return "Card"
}

// Summary renders the fixed five-line confirmation template.
func (r ExpenseRecord) Summary() string {
	return strings.Join([]string{
		"Date: " + r.Date,
		fmt.Sprintf("Amount: %s %s", r.Amount.String(), r.Currency),
		"Description: " + r.Description,
		"Payment: " + r.PaymentLabel(),
		"User: " + r.User,
	}, "\n")
}

// Row returns the ledger columns in their physical order:
// date, description, amount, currency, cash, user.
func (r ExpenseRecord) Row() []any {
	return []any{r.Date, r.Description, r.Amount, r.Currency, r.Cash, r.User}
}

// NewPendingExpense binds a record to a conversation and renders its summary.
func NewPendingExpense(conversationID string, rec ExpenseRecord, token string, now time.Time) PendingExpense {
	return PendingExpense{
		ConversationID: conversationID,
		Record:         rec,
		Summary:        rec.Summary(),
		Token:          token,
		CreatedAt:      now.UTC(),
	}
}

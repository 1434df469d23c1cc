package usecase

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"expense-bot/internal/domain"
)

// validateCandidate turns a decoded candidate into an ExpenseRecord, or
// rejects it. Known user labels are matched case-insensitively so the ledger
// keeps one spelling per household member.
func validateCandidate(c expenseCandidate, knownUsers []string) (domain.ExpenseRecord, error) {
	date := strings.TrimSpace(c.Date)
	if date == "" {
		return domain.ExpenseRecord{}, errors.New("usecase: date is required")
	}
	if _, err := time.Parse(domain.DateLayout, date); err != nil {
		return domain.ExpenseRecord{}, fmt.Errorf("usecase: date %q is not a calendar date: %w", date, err)
	}

	description := strings.TrimSpace(c.Description)
	if description == "" {
		return domain.ExpenseRecord{}, errors.New("usecase: description is required")
	}
	if hasControl(description) {
		return domain.ExpenseRecord{}, fmt.Errorf("usecase: description %q contains control characters", description)
	}

	if !c.Amount.IsPositive() {
		return domain.ExpenseRecord{}, fmt.Errorf("usecase: amount %s must be positive", c.Amount.String())
	}

	currency := strings.ToUpper(strings.TrimSpace(c.Currency))
	if len(currency) != 3 || strings.IndexFunc(currency, func(r rune) bool { return r < 'A' || r > 'Z' }) >= 0 {
		return domain.ExpenseRecord{}, fmt.Errorf("usecase: currency %q is not a 3-letter code", c.Currency)
	}

	user := strings.TrimSpace(c.User)
	if user == "" {
		return domain.ExpenseRecord{}, errors.New("usecase: user is required")
	}
	if hasControl(user) {
		return domain.ExpenseRecord{}, fmt.Errorf("usecase: user %q contains control characters", user)
	}
	for _, known := range knownUsers {
		if strings.EqualFold(known, user) {
			user = known
			break
		}
	}

	return domain.ExpenseRecord{
		Date:        date,
		Description: description,
		Amount:      c.Amount,
		Currency:    currency,
		Cash:        c.Cash,
		User:        user,
	}, nil
}

// hasControl reports whether s holds a control character. Each summary field
// must stay on its own line.
func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}

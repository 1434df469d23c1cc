package usecase

import "fmt"

type ErrorCode string

const (
	ErrorExtractionFailed  ErrorCode = "EXTRACTION_FAILED"
	ErrorNoPendingExpense  ErrorCode = "NO_PENDING_EXPENSE"
	ErrorLedgerUnavailable ErrorCode = "LEDGER_UNAVAILABLE"
	ErrorInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrorInternal          ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// userMessage is the single reply shown for each failure kind.
func userMessage(code ErrorCode) string {
	switch code {
	case ErrorExtractionFailed:
		return "Sorry, I could not understand that expense. Please rephrase it or add the missing details."
	case ErrorNoPendingExpense:
		return "There is no expense waiting for confirmation. Send me a new expense to start over."
	case ErrorLedgerUnavailable:
		return "I could not save the expense to the ledger. Press Confirm to try again."
	case ErrorInvalidInput:
		return "Please send the expense as a text message."
	default:
		return "Something went wrong. Please try again."
	}
}

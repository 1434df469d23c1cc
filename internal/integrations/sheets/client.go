package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"expense-bot/internal/domain"
)

const DefaultRange = "Expenses!A:F"

// valuesAppender is the single Sheets call the ledger needs.
type valuesAppender interface {
	Append(ctx context.Context, spreadsheetID, rng string, vr *gsheets.ValueRange) error
}

// serviceAppender adapts *gsheets.Service to valuesAppender.
type serviceAppender struct {
	svc *gsheets.Service
}

func (a serviceAppender) Append(ctx context.Context, spreadsheetID, rng string, vr *gsheets.ValueRange) error {
	_, err := a.svc.Spreadsheets.Values.Append(spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

// Ledger appends confirmed expenses to a Google Sheets range, one row per
// call, columns [date, description, amount, currency, cash, user].
type Ledger struct {
	api           valuesAppender
	spreadsheetID string
	rng           string
	logger        *slog.Logger
}

// New builds a Ledger from a service-account credentials JSON blob.
func New(ctx context.Context, spreadsheetID, credentialsJSON, rng string, logger *slog.Logger) (*Ledger, error) {
	if strings.TrimSpace(credentialsJSON) == "" {
		return nil, errors.New("sheets: credentials must not be empty")
	}
	svc, err := gsheets.NewService(ctx,
		option.WithCredentialsJSON([]byte(credentialsJSON)),
		option.WithScopes(gsheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("sheets: create service: %w", err)
	}
	return newLedger(serviceAppender{svc: svc}, spreadsheetID, rng, logger)
}

func newLedger(api valuesAppender, spreadsheetID, rng string, logger *slog.Logger) (*Ledger, error) {
	if api == nil {
		return nil, errors.New("sheets: api must not be nil")
	}
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("sheets: spreadsheet id must not be empty")
	}
	rng = strings.TrimSpace(rng)
	if rng == "" {
		rng = DefaultRange
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{api: api, spreadsheetID: spreadsheetID, rng: rng, logger: logger}, nil
}

// Append writes one row. Sheets has no dedup key, so token is only logged.
func (l *Ledger) Append(ctx context.Context, token string, rec domain.ExpenseRecord) error {
	vr := &gsheets.ValueRange{
		MajorDimension: "ROWS",
		Values:         [][]interface{}{rowValues(rec)},
	}
	if err := l.api.Append(ctx, l.spreadsheetID, l.rng, vr); err != nil {
		return fmt.Errorf("sheets: append to %s: %w", l.rng, err)
	}
	l.logger.Info("ledger.sheets.append", "token", token, "range", l.rng)
	return nil
}

// rowValues converts the record to cell values. The amount goes out as a
// number and cash as a boolean so the sheet can sum and filter them. The date
// is left for Sheets to parse; free-text cells get a leading apostrophe so
// USER_ENTERED stores them literally instead of as formulas or numbers.
func rowValues(rec domain.ExpenseRecord) []interface{} {
	row := rec.Row()
	row[1] = literal(rec.Description)
	row[2] = rec.Amount.InexactFloat64()
	row[3] = literal(rec.Currency)
	row[5] = literal(rec.User)
	return row
}

func literal(s string) string {
	return "'" + s
}

package sheets

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	gsheets "google.golang.org/api/sheets/v4"

	"expense-bot/internal/domain"
)

type fakeAppender struct {
	calls         int
	spreadsheetID string
	rng           string
	values        *gsheets.ValueRange
	err           error
}

func (f *fakeAppender) Append(_ context.Context, spreadsheetID, rng string, vr *gsheets.ValueRange) error {
	f.calls++
	f.spreadsheetID = spreadsheetID
	f.rng = rng
	f.values = vr
	return f.err
}

func record() domain.ExpenseRecord {
	return domain.ExpenseRecord{
		Date:        "2026-10-18",
		Description: "groceries",
		Amount:      decimal.NewFromInt(250),
		Currency:    "THB",
		Cash:        true,
		User:        "Alice",
	}
}

func TestNewLedger_Validates(t *testing.T) {
	_, err := newLedger(nil, "sheet", "", nil)
	require.Error(t, err)

	_, err = newLedger(&fakeAppender{}, " ", "", nil)
	require.Error(t, err)

	l, err := newLedger(&fakeAppender{}, "sheet", " ", nil)
	require.NoError(t, err)
	require.Equal(t, DefaultRange, l.rng)
}

func TestNew_EmptyCredentials(t *testing.T) {
	_, err := New(context.Background(), "sheet", "", "", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "credentials")
}

func TestAppend_WritesOneRowInColumnOrder(t *testing.T) {
	api := &fakeAppender{}
	l, err := newLedger(api, "sheet-123", "Household!A:F", nil)
	require.NoError(t, err)

	require.NoError(t, l.Append(context.Background(), "tok-1", record()))
	require.Equal(t, 1, api.calls)
	require.Equal(t, "sheet-123", api.spreadsheetID)
	require.Equal(t, "Household!A:F", api.rng)
	require.Equal(t, "ROWS", api.values.MajorDimension)
	require.Equal(t, [][]interface{}{{"2026-10-18", "'groceries", float64(250), "'THB", true, "'Alice"}}, api.values.Values)
}

func TestAppend_TextCellsAreNotInterpreted(t *testing.T) {
	api := &fakeAppender{}
	l, err := newLedger(api, "sheet-123", "", nil)
	require.NoError(t, err)

	rec := record()
	rec.Description = "=HYPERLINK(\"http://example.com\")"
	rec.User = "+1 Bob"
	require.NoError(t, l.Append(context.Background(), "tok-1", rec))

	row := api.values.Values[0]
	require.Equal(t, "'=HYPERLINK(\"http://example.com\")", row[1])
	require.Equal(t, "'+1 Bob", row[5])
}

func TestAppend_Error(t *testing.T) {
	api := &fakeAppender{err: errors.New("googleapi: Error 503")}
	l, err := newLedger(api, "sheet-123", "", nil)
	require.NoError(t, err)

	err = l.Append(context.Background(), "tok-1", record())
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
	require.Contains(t, err.Error(), DefaultRange)
}

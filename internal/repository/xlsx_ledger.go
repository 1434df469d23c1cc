package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"expense-bot/internal/domain"
)

const xlsxSheet = "Expenses"

var xlsxHeaders = []any{"Date", "Description", "Amount", "Currency", "Cash", "User"}

// XLSXLedger appends expenses to a local workbook, one row per confirmation.
// The workbook has no dedup key; a retried confirmation after an ambiguous
// failure can produce a duplicate row.
type XLSXLedger struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

func NewXLSXLedger(path string, logger *slog.Logger) (*XLSXLedger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("repository: xlsx path must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &XLSXLedger{path: path, logger: logger}, nil
}

func (l *XLSXLedger) Append(ctx context.Context, token string, rec domain.ExpenseRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("repository: xlsx append: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.open()
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(xlsxSheet)
	if err != nil {
		return fmt.Errorf("repository: xlsx read rows: %w", err)
	}
	cell, err := excelize.CoordinatesToCellName(1, len(rows)+1)
	if err != nil {
		return fmt.Errorf("repository: xlsx cell: %w", err)
	}
	row := []any{rec.Date, rec.Description, rec.Amount.InexactFloat64(), rec.Currency, rec.Cash, rec.User}
	if err := f.SetSheetRow(xlsxSheet, cell, &row); err != nil {
		return fmt.Errorf("repository: xlsx write row: %w", err)
	}
	if err := f.SaveAs(l.path); err != nil {
		return fmt.Errorf("repository: xlsx save: %w", err)
	}

	l.logger.Info("ledger.xlsx.append", "token", token, "row", len(rows)+1)
	return nil
}

// open loads the workbook, creating it with a header row on first use.
func (l *XLSXLedger) open() (*excelize.File, error) {
	if _, err := os.Stat(l.path); err == nil {
		f, err := excelize.OpenFile(l.path)
		if err != nil {
			return nil, fmt.Errorf("repository: xlsx open: %w", err)
		}
		if idx, _ := f.GetSheetIndex(xlsxSheet); idx == -1 {
			_ = f.Close()
			return nil, fmt.Errorf("repository: xlsx sheet %q not found in %s", xlsxSheet, l.path)
		}
		return f, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("repository: xlsx stat: %w", err)
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("repository: xlsx new sheet: %w", err)
	}
	header := append([]any(nil), xlsxHeaders...)
	if err := f.SetSheetRow(xlsxSheet, "A1", &header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("repository: xlsx header: %w", err)
	}
	_ = f.SetColWidth(xlsxSheet, "A", "A", 12) // date
	_ = f.SetColWidth(xlsxSheet, "B", "B", 40) // description
	return f, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"expense-bot/internal/domain"

	// Import sqlite driver
	_ "modernc.org/sqlite"
)

// SQLiteLedger is a local append-only ledger. Rows are keyed by the pending
// token so a retried confirmation never produces a second row.
type SQLiteLedger struct {
	conn *sql.DB
}

// NewSQLiteLedger opens the database at path and runs migrations.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("repository: sqlite path must not be empty")
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repository: open sqlite: %w", err)
	}
	// One writer keeps appends ordered and avoids SQLITE_BUSY.
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("repository: ping sqlite: %w", err)
	}

	l := &SQLiteLedger{conn: conn}
	if err := l.migrate(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLedger) migrate() error {
	_, err := l.conn.Exec(`CREATE TABLE IF NOT EXISTS expenses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		token TEXT NOT NULL UNIQUE,
		date TEXT NOT NULL,
		description TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		cash BOOLEAN NOT NULL,
		user TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("repository: migrate sqlite: %w", err)
	}
	return nil
}

// Append inserts one row; a repeated token is a no-op.
func (l *SQLiteLedger) Append(ctx context.Context, token string, rec domain.ExpenseRecord) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("repository: ledger token must not be empty")
	}
	_, err := l.conn.ExecContext(ctx,
		`INSERT INTO expenses (token, date, description, amount, currency, cash, user)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(token) DO NOTHING`,
		token, rec.Date, rec.Description, rec.Amount.String(), rec.Currency, rec.Cash, rec.User,
	)
	if err != nil {
		return fmt.Errorf("repository: sqlite append: %w", err)
	}
	return nil
}

// List returns every ledger row in insertion order.
func (l *SQLiteLedger) List(ctx context.Context) ([]domain.ExpenseRecord, error) {
	rows, err := l.conn.QueryContext(ctx,
		`SELECT date, description, amount, currency, cash, user FROM expenses ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("repository: sqlite list: %w", err)
	}
	defer rows.Close()

	var out []domain.ExpenseRecord
	for rows.Next() {
		var rec domain.ExpenseRecord
		var amount string
		if err := rows.Scan(&rec.Date, &rec.Description, &amount, &rec.Currency, &rec.Cash, &rec.User); err != nil {
			return nil, fmt.Errorf("repository: sqlite scan: %w", err)
		}
		if rec.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("repository: sqlite amount %q: %w", amount, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) Close() error {
	return l.conn.Close()
}

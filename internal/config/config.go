package config

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	BackendSheets = "sheets"
	BackendXLSX   = "xlsx"
	BackendSQLite = "sqlite"

	defaultModel          = "gpt-4o-mini"
	defaultLedgerRange    = "Expenses!A:F"
	defaultExtractTimeout = 30
	defaultLedgerTimeout  = 15

	secretRefPrefix = "ssm:"
)

// SecretResolver resolves ssm:<name> references. *paramstore.Client
// satisfies it.
type SecretResolver interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretFunc adapts a function to SecretResolver.
type SecretFunc func(ctx context.Context, name string) (string, error)

func (f SecretFunc) GetSecret(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}

type Config struct {
	TelegramToken string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	LedgerBackend     string
	SheetsID          string
	GoogleCredentials string
	LedgerRange       string
	LedgerPath        string

	// AllowedUsers maps a Telegram user id to the label written to the
	// ledger's user column.
	AllowedUsers map[int64]string

	StateTable    string
	WebhookSecret string

	Location       *time.Location
	ExtractTimeout time.Duration
	LedgerTimeout  time.Duration

	TraceProject string
}

// UserLabels returns the configured labels in no particular order.
func (c Config) UserLabels() []string {
	out := make([]string, 0, len(c.AllowedUsers))
	for _, l := range c.AllowedUsers {
		out = append(out, l)
	}
	return out
}

// Load reads configuration through getenv and resolves secret references.
// All problems are reported together.
func Load(ctx context.Context, getenv func(string) string, secrets SecretResolver) (Config, error) {
	l := loader{ctx: ctx, getenv: getenv, secrets: secrets}

	cfg := Config{
		TelegramToken: l.secret("TELEGRAM_TOKEN", true),
		OpenAIAPIKey:  l.secret("OPENAI_API_KEY", true),
		OpenAIModel:   l.str("OPENAI_MODEL", defaultModel),
		OpenAIBaseURL: l.str("OPENAI_BASE_URL", ""),
		LedgerBackend: strings.ToLower(l.str("LEDGER_BACKEND", BackendSheets)),
		LedgerRange:   l.str("LEDGER_RANGE", defaultLedgerRange),
		LedgerPath:    l.str("LEDGER_PATH", ""),
		StateTable:    l.str("STATE_TABLE", ""),
		WebhookSecret: l.secret("WEBHOOK_SECRET", false),
		TraceProject:  l.str("TRACE_PROJECT", ""),
	}

	switch cfg.LedgerBackend {
	case BackendSheets:
		cfg.SheetsID = l.str("GOOGLE_SHEETS_ID", "")
		cfg.GoogleCredentials = l.secret("GOOGLE_CREDENTIALS", true)
		if cfg.SheetsID == "" {
			l.fail("GOOGLE_SHEETS_ID is required for the sheets ledger")
		}
	case BackendXLSX, BackendSQLite:
		if cfg.LedgerPath == "" {
			l.fail("LEDGER_PATH is required for the " + cfg.LedgerBackend + " ledger")
		}
	default:
		l.fail(fmt.Sprintf("LEDGER_BACKEND %q is not one of sheets, xlsx, sqlite", cfg.LedgerBackend))
	}

	users, err := ParseAllowedUsers(l.str("ALLOWED_USERS", ""))
	if err != nil {
		l.fail(err.Error())
	}
	cfg.AllowedUsers = users

	loc, err := time.LoadLocation(l.str("TIMEZONE", "UTC"))
	if err != nil {
		l.fail(fmt.Sprintf("TIMEZONE: %v", err))
		loc = time.UTC
	}
	cfg.Location = loc

	cfg.ExtractTimeout = l.seconds("EXTRACT_TIMEOUT_SECONDS", defaultExtractTimeout)
	cfg.LedgerTimeout = l.seconds("LEDGER_TIMEOUT_SECONDS", defaultLedgerTimeout)

	if len(l.problems) > 0 {
		return Config{}, fmt.Errorf("config: %s", strings.Join(l.problems, "; "))
	}
	return cfg, nil
}

// RequireWebhook checks the keys only the webhook deployment needs.
func (c Config) RequireWebhook() error {
	var missing []string
	if c.StateTable == "" {
		missing = append(missing, "STATE_TABLE")
	}
	if c.WebhookSecret == "" {
		missing = append(missing, "WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: %s required for the webhook deployment", strings.Join(missing, ", "))
	}
	return nil
}

// ParseAllowedUsers parses "id:Label,id:Label". Labels must be distinct.
func ParseAllowedUsers(raw string) (map[int64]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("ALLOWED_USERS is required")
	}
	users := make(map[int64]string)
	labels := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idStr, label, ok := strings.Cut(part, ":")
		label = strings.TrimSpace(label)
		if !ok || label == "" {
			return nil, fmt.Errorf("ALLOWED_USERS entry %q is not id:Label", part)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ALLOWED_USERS entry %q has a non-numeric id", part)
		}
		if _, dup := users[id]; dup {
			return nil, fmt.Errorf("ALLOWED_USERS lists id %d twice", id)
		}
		key := strings.ToLower(label)
		if labels[key] {
			return nil, fmt.Errorf("ALLOWED_USERS lists label %q twice", label)
		}
		labels[key] = true
		users[id] = label
	}
	if len(users) == 0 {
		return nil, errors.New("ALLOWED_USERS is required")
	}
	return users, nil
}

type loader struct {
	ctx      context.Context
	getenv   func(string) string
	secrets  SecretResolver
	problems []string
}

func (l *loader) fail(msg string) {
	l.problems = append(l.problems, msg)
}

func (l *loader) str(key, def string) string {
	if v := strings.TrimSpace(l.getenv(key)); v != "" {
		return v
	}
	return def
}

func (l *loader) secret(key string, required bool) string {
	v := l.str(key, "")
	if v == "" {
		if required {
			l.fail(key + " is required")
		}
		return ""
	}
	name, ok := strings.CutPrefix(v, secretRefPrefix)
	if !ok {
		return v
	}
	if l.secrets == nil {
		l.fail(key + " references a parameter but no parameter store is configured")
		return ""
	}
	resolved, err := l.secrets.GetSecret(l.ctx, name)
	if err != nil {
		l.fail(fmt.Sprintf("%s: %v", key, err))
		return ""
	}
	return resolved
}

func (l *loader) seconds(key string, def int) time.Duration {
	v := l.str(key, "")
	if v == "" {
		return time.Duration(def) * time.Second
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		l.fail(fmt.Sprintf("%s must be a positive number of seconds, got %q", key, v))
		return time.Duration(def) * time.Second
	}
	return time.Duration(n) * time.Second
}

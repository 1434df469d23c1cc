package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"expense-bot/internal/integrations/telegram"
)

const (
	defaultPollTimeout = 25 * time.Second
	minBackoff         = time.Second
	maxBackoff         = 30 * time.Second
)

// ChannelError is a fatal failure of the chat channel. The process should
// exit so a supervisor can restart or alert.
type ChannelError struct {
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel error: %v", e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// UpdateSource is the long-polling side of the Telegram client.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
}

// UpdateHandler handles a single update.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, u telegram.Update) error
}

// Poller long-polls the Bot API and hands updates to a handler. Updates of
// one chat are handled in arrival order; different chats run concurrently.
type Poller struct {
	source  UpdateSource
	handler UpdateHandler
	timeout time.Duration
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

type PollerOption func(*Poller)

func WithPollTimeout(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithPollerLogger(logger *slog.Logger) PollerOption {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewPoller(source UpdateSource, handler UpdateHandler, opts ...PollerOption) (*Poller, error) {
	if source == nil {
		return nil, errors.New("bot: update source must not be nil")
	}
	if handler == nil {
		return nil, errors.New("bot: update handler must not be nil")
	}
	p := &Poller{
		source:  source,
		handler: handler,
		timeout: defaultPollTimeout,
		logger:  slog.Default(),
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run polls until ctx is cancelled or the channel fails fatally. A conflict
// with another instance is returned as a *ChannelError.
func (p *Poller) Run(ctx context.Context) error {
	var offset int64
	backoff := minBackoff
	p.logger.Info("bot.poller.started", "poll_timeout_s", int(p.timeout.Seconds()))

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		updates, err := p.source.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, telegram.ErrConflict) {
				return &ChannelError{Err: err}
			}
			p.logger.Warn("bot.poller.get_updates_failed", "err", err, "backoff", backoff.String())
			if err := p.sleep(ctx, backoff); err != nil {
				return nil
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
		}
		p.dispatch(ctx, updates)
	}
}

// dispatch runs one batch, one goroutine per chat, and waits for all.
func (p *Poller) dispatch(ctx context.Context, updates []telegram.Update) {
	byChat := make(map[int64][]telegram.Update)
	var order []int64
	for _, u := range updates {
		id, ok := chatOf(u)
		if !ok {
			continue
		}
		if _, seen := byChat[id]; !seen {
			order = append(order, id)
		}
		byChat[id] = append(byChat[id], u)
	}

	var wg sync.WaitGroup
	for _, id := range order {
		batch := byChat[id]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, u := range batch {
				if err := p.handler.HandleUpdate(ctx, u); err != nil {
					p.logger.Error("bot.update.failed", "update_id", u.UpdateID, "err", err)
				}
			}
		}()
	}
	wg.Wait()
}

func chatOf(u telegram.Update) (int64, bool) {
	switch {
	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil:
		return u.CallbackQuery.Message.Chat.ID, true
	case u.Message != nil:
		return u.Message.Chat.ID, true
	default:
		return 0, false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

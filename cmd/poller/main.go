package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"expense-bot/internal/app"
	"expense-bot/internal/bot"
	"expense-bot/internal/config"
	"expense-bot/internal/integrations/paramstore"
	"expense-bot/internal/repository"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(ctx, os.Getenv, lazySSM())
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := app.NewLogger(os.Stdout, cfg)
	slog.SetDefault(logger)

	// ---- Wiring ----
	a, err := app.New(ctx, cfg, repository.NewMemoryPendingStore(), logger)
	if err != nil {
		slog.Error("failed to wire bot", "err", err)
		os.Exit(1)
	}

	poller, err := bot.NewPoller(a.Telegram, a.Dispatcher, bot.WithPollerLogger(logger))
	if err != nil {
		_ = a.Close()
		slog.Error("failed to create poller", "err", err)
		os.Exit(1)
	}

	runErr := poller.Run(ctx)
	if err := a.Close(); err != nil {
		slog.Error("failed to close ledger", "err", err)
	}
	var chErr *bot.ChannelError
	if errors.As(runErr, &chErr) {
		slog.Error("chat channel failed, exiting", "err", runErr)
		os.Exit(1)
	}
	if runErr != nil {
		slog.Error("poller stopped", "err", runErr)
		os.Exit(1)
	}
	slog.Info("poller stopped")
}

// lazySSM only loads AWS config when a value actually references SSM, so a
// local run needs no AWS credentials.
func lazySSM() config.SecretFunc {
	var (
		once   sync.Once
		client *paramstore.Client
		err    error
	)
	return func(ctx context.Context, name string) (string, error) {
		once.Do(func() {
			awsCfg, loadErr := awsconfig.LoadDefaultConfig(ctx)
			if loadErr != nil {
				err = loadErr
				return
			}
			client, err = paramstore.New(awsssm.NewFromConfig(awsCfg))
		})
		if err != nil {
			return "", err
		}
		return client.GetSecret(ctx, strings.TrimSpace(name))
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/deskbotio/deskbot/internal/config"
	"github.com/deskbotio/deskbot/internal/conversation"
	"github.com/deskbotio/deskbot/internal/db"
	"github.com/deskbotio/deskbot/internal/handlers"
	"github.com/deskbotio/deskbot/internal/logger"
	"github.com/deskbotio/deskbot/internal/mailer"
	mailgunadapter "github.com/deskbotio/deskbot/internal/mailer/adapters/mailgun"
	smtpadapter "github.com/deskbotio/deskbot/internal/mailer/adapters/smtp"
	"github.com/deskbotio/deskbot/internal/mediagroup"
	"github.com/deskbotio/deskbot/internal/prune"
	"github.com/deskbotio/deskbot/internal/render"
	"github.com/deskbotio/deskbot/internal/server"
	"github.com/deskbotio/deskbot/internal/session"
	"github.com/deskbotio/deskbot/internal/store"
	"github.com/deskbotio/deskbot/internal/telegram"
	"github.com/deskbotio/deskbot/internal/ticket"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideUI,
			provideLogger,
			provideDBConn,
			store.New,
			session.NewStore,
			render.New,
			provideAggregator,
			provideMailSender,
			provideBot,
			provideNotifier,
			provideDispatcher,
			provideRouter,
			providePruner,
			provideServer,
		),
		fx.Invoke(
			startBot,
			startSweeper,
			startPruner,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideUI() (*config.UI, error) {
	ui, err := config.LoadUI(os.Getenv("UI_CONFIG_PATH"))
	if err != nil {
		return nil, fmt.Errorf("load ui config: %w", err)
	}
	return &ui, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideAggregator(log *slog.Logger, cfg config.Config) *mediagroup.Aggregator {
	idle := time.Duration(cfg.Limits.GroupIdleSeconds) * time.Second
	return mediagroup.New(log, idle, nil)
}

func provideMailSender(log *slog.Logger, cfg config.Config) (mailer.Sender, error) {
	registry := mailer.NewRegistry()
	registry.Register(smtpadapter.New(log, cfg.Mail.From, cfg.Mail.SMTP))
	registry.Register(mailgunadapter.New(log, cfg.Mail.From, cfg.Mail.Mailgun))
	return registry.Get(mailer.ProviderName(cfg.Mail.Provider))
}

func provideBot(log *slog.Logger, cfg config.Config) (*telegram.Bot, error) {
	return telegram.New(log, cfg.Telegram.BotToken)
}

func provideNotifier(log *slog.Logger, bot *telegram.Bot, sessions *session.Store) *conversation.CompletionNotifier {
	return conversation.NewCompletionNotifier(log, bot, sessions)
}

func provideDispatcher(log *slog.Logger, renderer *render.Renderer, bot *telegram.Bot, notifier *conversation.CompletionNotifier, sender mailer.Sender, cfg config.Config) *ticket.Dispatcher {
	return ticket.NewDispatcher(log, renderer, bot, bot, notifier, sender, cfg.Support.ChatID, cfg.Support.Email)
}

func provideRouter(log *slog.Logger, users *store.Store, sessions *session.Store, groups *mediagroup.Aggregator, dispatcher *ticket.Dispatcher, bot *telegram.Bot, ui *config.UI, cfg config.Config) *conversation.Router {
	router := conversation.NewRouter(log, users, sessions, groups, dispatcher, bot, ui, cfg.Limits, cfg.Telegram.RootAdminID)
	groups.SetFlush(router.FlushGroup)
	return router
}

func providePruner(log *slog.Logger, sessions *session.Store, cfg config.Config) *prune.Pruner {
	maxIdle := time.Duration(cfg.Prune.SessionIdleHours) * time.Hour
	return prune.New(log, sessions, cfg.Prune.Schedule, maxIdle)
}

func provideServer(log *slog.Logger, cfg config.Config, conn *pgxpool.Pool) *server.Server {
	return server.NewServer(log, cfg.Server.Addr,
		handlers.NewPingHandler(log),
		handlers.NewHealthHandler(log, conn),
	)
}

func startBot(lc fx.Lifecycle, bot *telegram.Bot, router *conversation.Router) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go bot.Run(ctx, router.Handle)
			return nil
		},
		OnStop: func(_ context.Context) error { cancel(); return nil },
	})
}

func startSweeper(lc fx.Lifecycle, groups *mediagroup.Aggregator) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go groups.Run(ctx)
			return nil
		},
		OnStop: func(_ context.Context) error { cancel(); return nil },
	})
}

func startPruner(lc fx.Lifecycle, pruner *prune.Pruner) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { return pruner.Start() },
		OnStop:  func(_ context.Context) error { pruner.Stop(); return nil },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}

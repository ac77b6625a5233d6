// Package app wires the reminder dialogue, the scheduler and their
// observers onto the Telegram runtime.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jmhodges/clock"

	corebootstrap "github.com/m3rciful/remindbot/core/bootstrap"
	corecmd "github.com/m3rciful/remindbot/core/cmd"
	"github.com/m3rciful/remindbot/core/journal"
	"github.com/m3rciful/remindbot/core/logger"
	"github.com/m3rciful/remindbot/core/metrics"
	"github.com/m3rciful/remindbot/core/reminder"
	"github.com/m3rciful/remindbot/core/state"
	coretelegram "github.com/m3rciful/remindbot/core/telegram"
	tghelpers "github.com/m3rciful/remindbot/core/telegram/helpers"
	"github.com/m3rciful/remindbot/core/telegram/router"

	tele "gopkg.in/telebot.v4"
)

var errBotNotReady = errors.New("app: bot is not running")

// Deps carries optional collaborators; zero values select production defaults.
type Deps struct {
	Clock   clock.Clock
	Journal journal.Execer
	Deliver reminder.DeliverFunc
}

// App owns the reminder components for the lifetime of the process.
type App struct {
	cfg *Config

	boot      *corebootstrap.Result
	metrics   *metrics.Metrics
	journal   *journal.Recorder
	sessions  state.Manager
	tasks     *reminder.Registry
	scheduler *reminder.Scheduler
	dialogue  *reminder.Dialogue
	registry  *coretelegram.Registry

	bot atomic.Pointer[tele.Bot]
}

// Bootstrap is the cmd.Options.Bootstrap hook: it initializes logging and the
// optional database, then builds the App.
func Bootstrap(ctx context.Context, carrier corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
	cfg, ok := carrier.(*Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("app: unexpected config type %T", carrier)
	}

	res, err := corebootstrap.Run(ctx, corebootstrap.Options{
		Config:        &cfg.Config,
		Database:      cfg.Database,
		Migrations:    journal.Migrations,
		MigrationsDir: journal.MigrationsDir,
	})
	if err != nil {
		return nil, err
	}

	deps := Deps{}
	if res.DB != nil {
		deps.Journal = res.DB
	}
	a, err := New(cfg, deps)
	if err != nil {
		_ = res.Close()
		return nil, err
	}
	a.boot = res
	return a, nil
}

// New builds the reminder components from cfg.
func New(cfg *Config, deps Deps) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: nil config")
	}
	a := &App{cfg: cfg, tasks: reminder.NewRegistry()}

	sessions, err := state.NewMemoryManager(state.MemoryOptions{
		MaxSessions: cfg.Dialogue.MaxSessions,
		OnEvict: func(chatID int64, conv state.Conversation) {
			logger.Info(logger.WithChat(context.Background(), chatID), "reminder.dialogue", "session.evicted",
				slog.String("state", string(conv.State)),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("app: session store: %w", err)
	}
	a.sessions = sessions

	recorders := reminder.Recorders{}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
		recorders = append(recorders, a.metrics)
	}
	if deps.Journal != nil {
		a.journal = journal.NewRecorder(deps.Journal, nil)
		recorders = append(recorders, a.journal)
	}

	deliver := deps.Deliver
	if deliver == nil {
		deliver = a.sendReminder
	}
	a.scheduler = reminder.NewScheduler(reminder.SchedulerOptions{
		Clock:       deps.Clock,
		Deliver:     deliver,
		Recorder:    recorders,
		SendTimeout: time.Duration(cfg.Dialogue.SendTimeoutSeconds) * time.Second,
	})

	a.dialogue, err = reminder.NewDialogue(reminder.DialogueOptions{
		Sessions:  a.sessions,
		Tasks:     a.tasks,
		Scheduler: a.scheduler,
		Clock:     deps.Clock,
		Messages:  cfg.Dialogue.Messages,
	})
	if err != nil {
		return nil, err
	}

	if a.metrics != nil {
		a.metrics.Track(a.scheduler.Pending, a.sessions.Len)
	}
	a.registry = a.buildRegistry()
	return a, nil
}

// sendReminder is the scheduler's delivery function.
func (a *App) sendReminder(ctx context.Context, p reminder.Payload) error {
	bot := a.bot.Load()
	if bot == nil {
		return errBotNotReady
	}
	return tghelpers.SendTo(ctx, bot, p.ConversationID, a.dialogue.Messages().RenderReminder(p.Task))
}

// TelegramRunOptions assembles middlewares, routes and lifecycle hooks.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	core := a.cfg.CoreConfig()

	dispatcherOpts := coretelegram.DispatcherOptionsFrom(core)
	if a.metrics != nil {
		dispatcherOpts.OnResult = a.metrics.ObserveSend
	}

	routes := router.CommandRoutes(a.registry, router.CommandRouteOptions{AdminID: core.Telegram.AdminID})
	routes = append(routes, router.TextRoutes(conversationFSM{a}, a.registry)...)
	routes = append(routes, router.CallbackRoute(a.registry, router.CallbackOptions{}))

	return coretelegram.RunOptions{
		Config:            core,
		Registry:          a.registry,
		DispatcherOptions: dispatcherOpts,
		Middlewares:       coretelegram.DefaultMiddlewares(core, a.onRateLimited),
		Routes:            routes,
		OnStart: func(ctx context.Context, rt coretelegram.Runtime) error {
			a.bot.Store(rt.Bot)
			if a.metrics != nil {
				router.SetObserver(a.metrics.ObserveHandler)
			}
			logger.Info(ctx, "app", "reminders.ready",
				slog.Int("max_sessions", a.cfg.Dialogue.MaxSessions),
				slog.Bool("journal", a.journal != nil),
				slog.Bool("metrics", a.metrics != nil),
			)
			return nil
		},
		OnStop: func(ctx context.Context, _ coretelegram.Runtime) error {
			a.scheduler.Close()
			router.SetObserver(nil)
			a.bot.Store(nil)
			return nil
		},
	}, nil
}

// Services returns the background services that run next to the bot.
func (a *App) Services() []corecmd.Service {
	if a.metrics == nil {
		return nil
	}
	return []corecmd.Service{{
		Name: "metrics",
		Run: func(ctx context.Context) error {
			return a.metrics.Serve(ctx, a.cfg.Metrics.Listen, a.cfg.Metrics.Path)
		},
	}}
}

// Close stops the scheduler, flushes the journal and releases the database.
func (a *App) Close() error {
	a.scheduler.Close()
	if a.journal != nil {
		a.journal.Close()
	}
	return a.boot.Close()
}

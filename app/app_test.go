package app

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/remindbot/core/config"
	"github.com/m3rciful/remindbot/core/reminder"
	"github.com/m3rciful/remindbot/core/telegram/teletest"

	tele "gopkg.in/telebot.v4"
)

const chatID int64 = 4242

type deliveries struct {
	mu  sync.Mutex
	got []reminder.Payload
	ch  chan reminder.Payload
}

func newDeliveries() *deliveries {
	return &deliveries{ch: make(chan reminder.Payload, 4)}
}

func (d *deliveries) deliver(_ context.Context, p reminder.Payload) error {
	d.mu.Lock()
	d.got = append(d.got, p)
	d.mu.Unlock()
	d.ch <- p
	return nil
}

func testConfig() *Config {
	cfg := &Config{Config: coreconfig.Config{Telegram: coreconfig.TelegramConfig{Token: "123:abc"}}}
	if err := cfg.Normalize(); err != nil {
		panic(err)
	}
	return cfg
}

func newTestApp(t *testing.T, cfg *Config) (*App, clock.FakeClock, *deliveries) {
	t.Helper()
	clk := clock.NewFake()
	clk.Set(time.Date(2024, 5, 14, 8, 0, 0, 0, time.Local))
	sink := newDeliveries()
	a, err := New(cfg, Deps{Clock: clk, Deliver: sink.deliver})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, clk, sink
}

func lastText(t *testing.T, c *teletest.Context) (string, *tele.SendOptions) {
	t.Helper()
	sent := c.SentMessages()
	require.NotEmpty(t, sent)
	last := sent[len(sent)-1]
	text, ok := last.What.(string)
	require.True(t, ok)
	var opts *tele.SendOptions
	if len(last.Options) > 0 {
		opts, _ = last.Options[0].(*tele.SendOptions)
	}
	return text, opts
}

func TestDialogueOverTelegramHandlers(t *testing.T) {
	a, clk, sink := newTestApp(t, testConfig())
	msgs := reminder.DefaultMessages()
	fsm := conversationFSM{a}

	start := teletest.NewMessage(1, chatID, "/start")
	require.NoError(t, a.registry.Commands()["/start"].Handler(start))
	text, opts := lastText(t, start)
	assert.Equal(t, msgs.AskTask, text)
	require.NotNil(t, opts)
	assert.NotNil(t, opts.ReplyMarkup, "prompt carries the cancel button")
	assert.True(t, fsm.InProgress(chatID))

	task := teletest.NewMessage(2, chatID, "water plants")
	require.NoError(t, fsm.ManagerHandler(task))
	text, _ = lastText(t, task)
	assert.Equal(t, msgs.AskTime, text)

	at := teletest.NewMessage(3, chatID, "09:15")
	require.NoError(t, fsm.ManagerHandler(at))
	text, opts = lastText(t, at)
	assert.Equal(t, `Done! I will remind you about "water plants" at 09:15.`, text)
	assert.Nil(t, opts.ReplyMarkup)
	assert.False(t, fsm.InProgress(chatID))

	entry, ok := a.tasks.Get(chatID)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 5, 14, 9, 15, 0, 0, time.Local), entry.DeliverAt)

	require.Eventually(t, func() bool { return a.scheduler.Pending() == 1 }, time.Second, 5*time.Millisecond)
	clk.Add(75 * time.Minute)
	select {
	case p := <-sink.ch:
		assert.Equal(t, reminder.Payload{ConversationID: chatID, Task: "water plants"}, p)
	case <-time.After(2 * time.Second):
		t.Fatal("reminder was not delivered")
	}
}

func TestCancelButtonResetsConversation(t *testing.T) {
	a, _, _ := newTestApp(t, testConfig())
	require.NoError(t, a.registry.Commands()["/start"].Handler(teletest.NewMessage(1, chatID, "/start")))

	cb := teletest.NewCallback(2, chatID, CallbackCancel)
	h, ok := a.registry.GetCallback(CallbackCancel)
	require.True(t, ok)
	require.NoError(t, h(cb))

	text, _ := lastText(t, cb)
	assert.Equal(t, reminder.DefaultMessages().Cancelled, text)
	assert.False(t, a.sessions.InProgress(chatID))
	assert.Zero(t, a.tasks.Len())
}

func TestIdleTextIsNotRouted(t *testing.T) {
	a, _, _ := newTestApp(t, testConfig())
	c := teletest.NewMessage(1, chatID, "hello")

	assert.False(t, conversationFSM{a}.InProgress(chatID))
	require.NoError(t, a.handle(c, reminder.Event{Kind: reminder.EventText, Text: "hello"}))
	assert.Empty(t, c.SentMessages())
}

func TestListCommandFlags(t *testing.T) {
	a, _, _ := newTestApp(t, testConfig())
	list := a.registry.Commands()["/list"]
	assert.True(t, list.Hidden)
	assert.False(t, list.AdminOnly)

	cfg := testConfig()
	cfg.Telegram.AdminID = 7
	b, _, _ := newTestApp(t, cfg)
	assert.True(t, b.registry.Commands()["/list"].AdminOnly)
}

func TestSendReminderWithoutBot(t *testing.T) {
	cfg := testConfig()
	a, err := New(cfg, Deps{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	err = a.sendReminder(t.Context(), reminder.Payload{ConversationID: chatID, Task: "x"})
	assert.ErrorIs(t, err, errBotNotReady)
}

func TestServicesFollowMetricsFlag(t *testing.T) {
	a, _, _ := newTestApp(t, testConfig())
	assert.Empty(t, a.Services())

	cfg := testConfig()
	cfg.Metrics.Enabled = true
	require.NoError(t, cfg.Normalize())
	b, _, _ := newTestApp(t, cfg)
	services := b.Services()
	require.Len(t, services, 1)
	assert.Equal(t, "metrics", services[0].Name)
}

func TestTelegramRunOptions(t *testing.T) {
	a, _, _ := newTestApp(t, testConfig())
	opts, err := a.TelegramRunOptions()
	require.NoError(t, err)
	assert.Same(t, a.registry, opts.Registry)
	assert.NotEmpty(t, opts.Routes)
	assert.NotNil(t, opts.OnStart)
	assert.NotNil(t, opts.OnStop)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`telegram:
  token: "from-file"
  run_mode: polling
metrics:
  enabled: true
dialogue:
  max_sessions: 50
  messages:
    cancelled: "Stopped."
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	t.Setenv("BOT_TOKEN", "from-env")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Telegram.Token)
	assert.Equal(t, coreconfig.RunModeLongpoll, cfg.Telegram.RunMode)
	assert.Equal(t, ":9090", cfg.Metrics.Listen)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, 50, cfg.Dialogue.MaxSessions)
	assert.Equal(t, "Stopped.", cfg.Dialogue.Messages.Cancelled)
	assert.Equal(t, reminder.DefaultMessages().AskTask, cfg.Dialogue.Messages.AskTask)
	assert.Same(t, &cfg.Config, cfg.CoreConfig())
}

func TestLoadConfigRejectsBadDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("telegram:\n  token: t\ndatabase:\n  enabled: true\n")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	_, err := LoadConfig(path)
	require.ErrorContains(t, err, "database.host")
}

// stalledExecer holds every journal write until release is closed.
type stalledExecer struct {
	release chan struct{}
}

func (s *stalledExecer) NamedExecContext(ctx context.Context, _ string, _ any) (sql.Result, error) {
	select {
	case <-s.release:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestSlowJournalDoesNotStallConversations(t *testing.T) {
	clk := clock.NewFake()
	clk.Set(time.Date(2024, 5, 14, 8, 0, 0, 0, time.Local))
	db := &stalledExecer{release: make(chan struct{})}
	a, err := New(testConfig(), Deps{Clock: clk, Deliver: newDeliveries().deliver, Journal: db})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	t.Cleanup(func() { close(db.release) })

	start := a.registry.Commands()["/start"].Handler
	fsm := conversationFSM{a}
	require.NoError(t, start(teletest.NewMessage(1, chatID, "/start")))
	require.NoError(t, fsm.ManagerHandler(teletest.NewMessage(2, chatID, "water plants")))

	began := time.Now()
	confirm := teletest.NewMessage(3, chatID, "09:15")
	require.NoError(t, fsm.ManagerHandler(confirm))
	other := teletest.NewMessage(4, chatID+1, "/start")
	require.NoError(t, start(other))
	assert.Less(t, time.Since(began), 500*time.Millisecond)

	text, _ := lastText(t, other)
	assert.Equal(t, reminder.DefaultMessages().AskTask, text)
	assert.Equal(t, 1, a.scheduler.Pending())
}

func TestRateLimitedUpdatesGetAnAnswer(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.IntervalMS = 60_000
	a, _, _ := newTestApp(t, cfg)
	opts, err := a.TelegramRunOptions()
	require.NoError(t, err)
	require.Equal(t, "rate_limit", opts.Middlewares[0].Name)

	var handled int
	h := opts.Middlewares[0].Use(func(tele.Context) error { handled++; return nil })

	require.NoError(t, h(teletest.NewMessage(1, chatID, "water plants")))
	second := teletest.NewMessage(2, chatID, "09:15")
	require.NoError(t, h(second))

	assert.Equal(t, 1, handled)
	text, _ := lastText(t, second)
	assert.Equal(t, reminder.DefaultMessages().RateLimited, text)

	cb := teletest.NewCallback(3, chatID, CallbackCancel)
	require.NoError(t, h(cb))
	assert.Equal(t, 1, cb.Responded())
	assert.Empty(t, cb.SentMessages())
}

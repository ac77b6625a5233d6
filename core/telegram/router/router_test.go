package router

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tg "github.com/m3rciful/remindbot/core/telegram"
	"github.com/m3rciful/remindbot/core/telegram/commands"
	"github.com/m3rciful/remindbot/core/telegram/teletest"

	tele "gopkg.in/telebot.v4"
)

type fakeFSM struct {
	active  map[int64]bool
	handled []string
}

func (f *fakeFSM) InProgress(chatID int64) bool { return f.active[chatID] }

func (f *fakeFSM) ManagerHandler(c tele.Context) error {
	f.handled = append(f.handled, c.Text())
	return nil
}

type observed struct {
	mu       sync.Mutex
	handlers []string
	outcomes []string
}

func (o *observed) observe(handler, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers = append(o.handlers, handler)
	o.outcomes = append(o.outcomes, outcome)
}

func withObserver(t *testing.T) *observed {
	t.Helper()
	o := &observed{}
	SetObserver(o.observe)
	t.Cleanup(func() { SetObserver(nil) })
	return o
}

func TestTextRoutesSendsActiveConversationToFSM(t *testing.T) {
	obs := withObserver(t)
	fsm := &fakeFSM{active: map[int64]bool{1: true}}
	routes := TextRoutes(fsm, tg.NewRegistry())
	require.Len(t, routes, 1)
	assert.Equal(t, tele.OnText, routes[0].Endpoint)

	require.NoError(t, routes[0].Handler(teletest.NewMessage(1, 1, "buy milk")))
	require.NoError(t, routes[0].Handler(teletest.NewMessage(2, 2, "14:30")))

	assert.Equal(t, []string{"buy milk"}, fsm.handled)
	assert.Equal(t, []string{"fsm", "unknown_text"}, obs.handlers)
	assert.Equal(t, []string{"ok", "ignored"}, obs.outcomes)
}

func TestTextRoutesResolvesAliases(t *testing.T) {
	reg := tg.NewRegistry()
	var cancelled int
	reg.RegisterCommand("/cancel", commands.Command{
		Handler:     func(tele.Context) error { cancelled++; return nil },
		Description: "Cancel",
		Aliases:     []string{"stop"},
	})
	fsm := &fakeFSM{active: map[int64]bool{1: true}}
	h := TextRoutes(fsm, reg)[0].Handler

	require.NoError(t, h(teletest.NewMessage(1, 1, "/stop")))
	assert.Equal(t, 1, cancelled)
	assert.Empty(t, fsm.handled)
}

func TestTextRoutesConvertsPanics(t *testing.T) {
	fsm := &panicFSM{}
	h := TextRoutes(fsm, nil)[0].Handler
	err := h(teletest.NewMessage(1, 1, "x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler panic")
}

type panicFSM struct{}

func (panicFSM) InProgress(int64) bool            { return true }
func (panicFSM) ManagerHandler(tele.Context) error { panic("broken state") }

func TestCommandRoutesAdminOnly(t *testing.T) {
	obs := withObserver(t)
	reg := tg.NewRegistry()
	var listed, rejected int
	reg.RegisterCommand("/list", commands.Command{
		Handler:     func(tele.Context) error { listed++; return nil },
		Description: "List reminders",
		AdminOnly:   true,
		Hidden:      true,
	})
	routes := CommandRoutes(reg, CommandRouteOptions{
		AdminID:       100,
		OnAdminReject: func(tele.Context) error { rejected++; return nil },
	})
	require.Len(t, routes, 1)
	assert.Equal(t, "/list", routes[0].Endpoint)

	require.NoError(t, routes[0].Handler(teletest.NewMessage(1, 100, "/list")))
	require.NoError(t, routes[0].Handler(teletest.NewMessage(2, 7, "/list")))
	assert.Equal(t, 1, listed)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, []string{"list"}, obs.handlers)
}

func TestCommandRoutesRegistersAliases(t *testing.T) {
	reg := tg.NewRegistry()
	reg.RegisterCommand("/cancel", commands.Command{Handler: func(tele.Context) error { return nil }, Description: "Cancel", Aliases: []string{"stop"}})
	routes := CommandRoutes(reg, CommandRouteOptions{})
	endpoints := []any{}
	for _, r := range routes {
		endpoints = append(endpoints, r.Endpoint)
	}
	assert.ElementsMatch(t, []any{"/cancel", "/stop"}, endpoints)
}

func TestCallbackRoute(t *testing.T) {
	obs := withObserver(t)
	reg := tg.NewRegistry()
	var cancels int
	require.NoError(t, reg.RegisterCallback("reminder_cancel", func(tele.Context) error {
		cancels++
		return nil
	}))
	route := CallbackRoute(reg, CallbackOptions{})
	assert.Equal(t, tele.OnCallback, route.Endpoint)

	c := teletest.NewCallback(1, 5, "")
	c.Upd.Callback.Data = "\freminder_cancel|"
	require.NoError(t, route.Handler(c))
	assert.Equal(t, 1, cancels)
	assert.Equal(t, 1, c.Responded())

	unknown := teletest.NewCallback(2, 5, "something_else")
	reg.SetCallbackNotFound(func(c tele.Context) error { return c.Respond() })
	require.NoError(t, route.Handler(unknown))
	assert.Equal(t, 1, cancels)
	assert.Equal(t, []string{"callback.reminder_cancel", "callback.something_else"}, obs.handlers)
}

func TestNormalizeHandlerName(t *testing.T) {
	assert.Equal(t, "start", normalizeHandlerName("/Start"))
	assert.Equal(t, "unknown", normalizeHandlerName(" "))
	assert.Equal(t, "a_b", normalizeHandlerName("a b"))
}

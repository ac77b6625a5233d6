package router

import (
	"time"

	tg "github.com/m3rciful/remindbot/core/telegram"
	tghelpers "github.com/m3rciful/remindbot/core/telegram/helpers"
	"github.com/m3rciful/remindbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// FSM is the conversation engine text is routed to.
type FSM interface {
	InProgress(chatID int64) bool
	ManagerHandler(c tele.Context) error
}

// TextRoutes routes free text: command aliases first, then the conversation
// in progress. Text outside a conversation is ignored.
func TextRoutes(fsm FSM, reg *tg.Registry) []tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()

		if reg != nil {
			if key, cmd, ok := reg.LookupCommand(c.Text()); ok && cmd.Handler != nil && !cmd.AdminOnly {
				return handleWithSummary(c, normalizeHandlerName(key), start, func() error {
					return cmd.Handler(c)
				})
			}
		}

		if fsm != nil && fsm.InProgress(tghelpers.ChatID(c)) {
			return handleWithSummary(c, "fsm", start, func() error {
				return fsm.ManagerHandler(c)
			})
		}

		logHandlerSummary(c, "unknown_text", start, "ignored", nil)
		return nil
	}

	return []tg.Route{{
		Endpoint: tele.OnText,
		Handler:  middleware.LoggerMiddleware(middleware.RecoverMiddleware(handler)),
	}}
}

package helpers

import (
	"context"
	"sync/atomic"

	"github.com/m3rciful/remindbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

var globalDispatcher atomic.Pointer[sender.Dispatcher]

// SetDispatcher wires the asynchronous sender used by helper functions.
func SetDispatcher(d *sender.Dispatcher) {
	globalDispatcher.Store(d)
}

// Dispatcher returns the sender installed by SetDispatcher, or nil.
func Dispatcher() *sender.Dispatcher {
	return globalDispatcher.Load()
}

// SendText replies to the current chat with plain text and waits until the
// send finished, so replies to one chat keep their order. Replies go through
// the dispatcher when one is installed; markup may be nil.
func SendText(c tele.Context, text string, markup *tele.ReplyMarkup) error {
	opts := &tele.SendOptions{ReplyMarkup: markup, DisableWebPagePreview: true}
	return Dispatcher().Do(BuildContext(c), "send.reply", func(context.Context) error {
		return c.Send(text, opts)
	})
}

// SendTo delivers text to an arbitrary chat outside of an update and waits
// for the result; ctx bounds the wait and the send.
func SendTo(ctx context.Context, bot *tele.Bot, chatID int64, text string) error {
	opts := &tele.SendOptions{DisableWebPagePreview: true}
	return Dispatcher().Do(ctx, "send.reminder", func(context.Context) error {
		_, err := bot.Send(tele.ChatID(chatID), text, opts)
		return err
	})
}

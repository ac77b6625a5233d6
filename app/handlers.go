package app

import (
	"github.com/m3rciful/remindbot/core/reminder"
	coretelegram "github.com/m3rciful/remindbot/core/telegram"
	"github.com/m3rciful/remindbot/core/telegram/commands"
	tghelpers "github.com/m3rciful/remindbot/core/telegram/helpers"
	"github.com/m3rciful/remindbot/core/telegram/keyboard"

	tele "gopkg.in/telebot.v4"
)

// CallbackCancel is the unique of the inline cancel button.
const CallbackCancel = "reminder_cancel"

func (a *App) buildRegistry() *coretelegram.Registry {
	reg := coretelegram.NewRegistry()
	reg.RegisterCommand("/start", commands.Command{
		Handler:     a.command(reminder.CommandStart),
		Description: "Create a reminder",
	})
	reg.RegisterCommand("/cancel", commands.Command{
		Handler:     a.command(reminder.CommandCancel),
		Description: "Cancel the current reminder",
	})
	reg.RegisterCommand("/list", commands.Command{
		Handler:     a.command(reminder.CommandList),
		Description: "List registered reminders",
		AdminOnly:   a.cfg.Telegram.AdminID != 0,
		Hidden:      true,
	})
	_ = reg.RegisterCallback(CallbackCancel, a.command(reminder.CommandCancel))
	return reg
}

func (a *App) command(name string) tele.HandlerFunc {
	return func(c tele.Context) error {
		return a.handle(c, reminder.Event{Kind: reminder.EventCommand, Command: name})
	}
}

// handle feeds one update to the dialogue and sends its reply, if any.
func (a *App) handle(c tele.Context, ev reminder.Event) error {
	ev.ConversationID = tghelpers.ChatID(c)
	reply, ok := a.dialogue.Handle(tghelpers.BuildContext(c), ev)
	if !ok {
		return nil
	}
	var markup *tele.ReplyMarkup
	if reply.Cancelable {
		markup = keyboard.SingleCancelMarkup(CallbackCancel, a.cfg.Dialogue.CancelButton)
	}
	return tghelpers.SendText(c, reply.Text, markup)
}

// onRateLimited tells the user the update was not processed, so an answer
// swallowed mid-dialogue can be sent again.
func (a *App) onRateLimited(c tele.Context) error {
	text := a.dialogue.Messages().RateLimited
	if c.Callback() != nil {
		return c.Respond(&tele.CallbackResponse{Text: text})
	}
	return tghelpers.SendText(c, text, nil)
}

// conversationFSM routes free text to the dialogue while a conversation is open.
type conversationFSM struct {
	app *App
}

func (f conversationFSM) InProgress(chatID int64) bool {
	return f.app.sessions.InProgress(chatID)
}

func (f conversationFSM) ManagerHandler(c tele.Context) error {
	return f.app.handle(c, reminder.Event{Kind: reminder.EventText, Text: c.Text()})
}

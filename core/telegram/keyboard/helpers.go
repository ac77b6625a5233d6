package keyboard

import tele "gopkg.in/telebot.v4"

// DefaultCancelText labels the inline cancel button.
const DefaultCancelText = "❌ Cancel"

// CancelButton returns an inline button that fires the callback unique.
// An empty text falls back to DefaultCancelText.
func CancelButton(markup *tele.ReplyMarkup, unique, text string) tele.Btn {
	if text == "" {
		text = DefaultCancelText
	}
	return markup.Data(text, unique)
}

// SingleCancelMarkup creates an inline keyboard with a single cancel button.
func SingleCancelMarkup(unique, text string) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	markup.Inline(markup.Row(CancelButton(markup, unique, text)))
	return markup
}

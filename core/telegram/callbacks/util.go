package callbacks

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// ParseCallbackData splits Telebot's "\f<unique>|<payload>" encoding.
func ParseCallbackData(data string) (unique, payload string) {
	raw := strings.TrimPrefix(data, "\f")
	raw = strings.TrimPrefix(raw, "\\f")
	unique, payload, _ = strings.Cut(raw, "|")
	return strings.TrimSpace(unique), payload
}

// Parse returns the callback key and payload. When telebot already decoded
// the unique part, Data holds only the payload.
func Parse(cb *tele.Callback) (string, string) {
	if cb == nil {
		return "", ""
	}
	if cb.Unique != "" {
		return cb.Unique, cb.Data
	}
	return ParseCallbackData(cb.Data)
}

// CallbackKey returns the key of the callback carried by c, if any.
func CallbackKey(c tele.Context) string {
	key, _ := Parse(c.Callback())
	return key
}

// CallbackPayload returns the payload after '|'.
func CallbackPayload(c tele.Context) string {
	_, payload := Parse(c.Callback())
	return payload
}

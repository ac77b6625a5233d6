// Package teletest provides an in-memory tele.Context for handler tests.
package teletest

import (
	"sync"

	tele "gopkg.in/telebot.v4"
)

// Sent is one message captured by Context.Send.
type Sent struct {
	What    any
	Options []any
}

// Context implements the parts of tele.Context the bot handlers touch.
// Calling any other method panics through the nil embedded interface.
type Context struct {
	tele.Context

	Upd tele.Update

	mu        sync.Mutex
	store     map[string]any
	sent      []Sent
	responded int
	SendErr   error
}

// NewMessage returns a context for a private text message.
func NewMessage(updateID int, chatID int64, text string) *Context {
	user := &tele.User{ID: chatID, Username: "tester"}
	return &Context{Upd: tele.Update{
		ID: updateID,
		Message: &tele.Message{
			Text:   text,
			Sender: user,
			Chat:   &tele.Chat{ID: chatID, Type: tele.ChatPrivate},
		},
	}}
}

// NewCallback returns a context for an inline button press.
func NewCallback(updateID int, chatID int64, unique string) *Context {
	user := &tele.User{ID: chatID}
	return &Context{Upd: tele.Update{
		ID: updateID,
		Callback: &tele.Callback{
			Unique: unique,
			Sender: user,
			Message: &tele.Message{
				Sender: user,
				Chat:   &tele.Chat{ID: chatID, Type: tele.ChatPrivate},
			},
		},
	}}
}

func (c *Context) Update() tele.Update { return c.Upd }

func (c *Context) Message() *tele.Message {
	switch {
	case c.Upd.Message != nil:
		return c.Upd.Message
	case c.Upd.Callback != nil:
		return c.Upd.Callback.Message
	}
	return nil
}

func (c *Context) Callback() *tele.Callback { return c.Upd.Callback }

func (c *Context) Sender() *tele.User {
	switch {
	case c.Upd.Callback != nil:
		return c.Upd.Callback.Sender
	case c.Upd.Message != nil:
		return c.Upd.Message.Sender
	}
	return nil
}

func (c *Context) Chat() *tele.Chat {
	if m := c.Message(); m != nil {
		return m.Chat
	}
	return nil
}

func (c *Context) Text() string {
	if m := c.Message(); m != nil {
		return m.Text
	}
	return ""
}

func (c *Context) Get(key string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store[key]
}

func (c *Context) Set(key string, val any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		c.store = make(map[string]any)
	}
	c.store[key] = val
}

func (c *Context) Send(what any, opts ...any) error {
	if c.SendErr != nil {
		return c.SendErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, Sent{What: what, Options: opts})
	return nil
}

func (c *Context) Respond(...*tele.CallbackResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responded++
	return nil
}

// SentMessages returns a copy of everything sent so far.
func (c *Context) SentMessages() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// Responded returns how many times the callback was answered.
func (c *Context) Responded() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responded
}

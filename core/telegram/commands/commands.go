package commands

import (
	tele "gopkg.in/telebot.v4"
)

// Command represents a bot command with its handler, description, and metadata.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
	// AdminOnly commands are rejected for everyone except telegram.admin_id.
	AdminOnly bool
	// Hidden commands stay out of the published command menu.
	Hidden  bool
	Aliases []string
}

// Visible reports whether the command belongs in the public menu.
func (c Command) Visible() bool {
	return !c.Hidden && !c.AdminOnly
}

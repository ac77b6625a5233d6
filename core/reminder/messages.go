package reminder

import "fmt"

// Messages holds every text the dialogue sends. Empty fields fall back to
// DefaultMessages. Confirm is formatted with the task and the HH:MM time;
// Reminder with the task alone. RateLimited answers updates dropped by the
// rate limiter.
type Messages struct {
	AskTask     string `yaml:"ask_task"`
	AskTime     string `yaml:"ask_time"`
	BadTime     string `yaml:"bad_time"`
	Confirm     string `yaml:"confirm"`
	Cancelled   string `yaml:"cancelled"`
	ListEmpty   string `yaml:"list_empty"`
	Reminder    string `yaml:"reminder"`
	RateLimited string `yaml:"rate_limited"`
}

// DefaultMessages returns the built-in English texts.
func DefaultMessages() Messages {
	return Messages{
		AskTask:   "Hi! I am a reminder bot. Send me the task you want to be reminded about.",
		AskTime:   "Great! When should I remind you? Send the time as HH:MM (for example, 14:30).",
		BadTime:   "The time is not in a valid format. Please use HH:MM.",
		Confirm:   "Done! I will remind you about \"%s\" at %s.",
		Cancelled: "Operation cancelled.",
		ListEmpty: "No reminders registered yet.",
		Reminder:  "Reminder: %s",

		RateLimited: "You are sending messages too fast. Please send that again in a moment.",
	}
}

// WithDefaults fills empty fields from DefaultMessages.
func (m Messages) WithDefaults() Messages {
	def := DefaultMessages()
	fill := func(dst *string, fallback string) {
		if *dst == "" {
			*dst = fallback
		}
	}
	fill(&m.AskTask, def.AskTask)
	fill(&m.AskTime, def.AskTime)
	fill(&m.BadTime, def.BadTime)
	fill(&m.Confirm, def.Confirm)
	fill(&m.Cancelled, def.Cancelled)
	fill(&m.ListEmpty, def.ListEmpty)
	fill(&m.Reminder, def.Reminder)
	fill(&m.RateLimited, def.RateLimited)
	return m
}

// RenderReminder returns the text delivered when a reminder fires.
func (m Messages) RenderReminder(task string) string {
	return fmt.Sprintf(m.Reminder, task)
}

func (m Messages) renderConfirm(task string, at ClockTime) string {
	return fmt.Sprintf(m.Confirm, task, at)
}

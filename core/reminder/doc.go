// Package reminder implements the reminder dialogue, the task registry and the
// one-shot delivery scheduler. It knows nothing about Telegram: inbound events
// arrive as Event values and replies leave as Reply values.
package reminder

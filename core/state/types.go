package state

// State identifies a finite-state-machine step used in conversations.
type State string

const (
	// StateIdle indicates there is no active conversation with the user.
	StateIdle State = "idle"
	// StateAwaitingTask waits for the reminder text.
	StateAwaitingTask State = "awaiting_task"
	// StateAwaitingTime waits for an HH:MM delivery time.
	StateAwaitingTime State = "awaiting_time"
)

// Conversation is the record kept for one chat.
type Conversation struct {
	State       State
	PendingTask string
}

// Manager stores conversations keyed by chat id.
type Manager interface {
	// Get returns the stored conversation or an idle one for unknown ids.
	Get(chatID int64) Conversation
	Set(chatID int64, conv Conversation)
	// Reset returns the conversation to idle and drops its pending data.
	Reset(chatID int64)
	InProgress(chatID int64) bool
	Len() int
}

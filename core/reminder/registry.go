package reminder

import (
	"sort"
	"sync"
	"time"
)

// Entry is the latest reminder registered for a conversation.
type Entry struct {
	ConversationID int64
	Task           string
	DeliverAt      time.Time
}

// Registry maps a conversation to its most recent reminder.
// Entries are never removed, so fired reminders keep being listed.
type Registry struct {
	mu      sync.RWMutex
	entries map[int64]Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[int64]Entry)}
}

// Put stores the reminder for id, replacing any previous one.
func (r *Registry) Put(id int64, task string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = Entry{ConversationID: id, Task: task, DeliverAt: at}
}

// Get returns the reminder registered for id.
func (r *Registry) Get(id int64) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// List returns a snapshot of all entries ordered by conversation id.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ConversationID < out[j].ConversationID })
	return out
}

// Len returns the number of conversations that ever registered a reminder.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

package state

import (
	"context"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/m3rciful/remindbot/core/logger"
)

// DefaultMaxSessions bounds the number of conversations kept mid-dialogue.
const DefaultMaxSessions = 10000

// MemoryOptions configures NewMemoryManager.
type MemoryOptions struct {
	// MaxSessions caps stored conversations; the least recently touched one is evicted.
	MaxSessions int
	// OnEvict runs after a conversation is pushed out by the cap.
	OnEvict func(chatID int64, conv Conversation)
}

// memoryManager keeps only non-idle conversations; idle is the implicit default.
type memoryManager struct {
	mu       sync.Mutex
	size     int
	onEvict  func(chatID int64, conv Conversation)
	sessions *lru.Cache[int64, Conversation]
}

// NewMemoryManager constructs an in-memory Manager bounded by an LRU.
func NewMemoryManager(opts MemoryOptions) (Manager, error) {
	size := opts.MaxSessions
	if size <= 0 {
		size = DefaultMaxSessions
	}
	cache, err := lru.New[int64, Conversation](size)
	if err != nil {
		return nil, err
	}
	return &memoryManager{size: size, onEvict: opts.OnEvict, sessions: cache}, nil
}

// Get returns the session for a chat if it exists, otherwise an idle conversation.
func (m *memoryManager) Get(chatID int64) Conversation {
	if conv, ok := m.sessions.Get(chatID); ok {
		return conv
	}
	return Conversation{State: StateIdle}
}

// Set stores conv; an idle conversation is dropped instead of stored.
func (m *memoryManager) Set(chatID int64, conv Conversation) {
	if conv.State == "" || conv.State == StateIdle {
		m.sessions.Remove(chatID)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.sessions.Contains(chatID) && m.sessions.Len() >= m.size {
		if oldID, old, ok := m.sessions.RemoveOldest(); ok {
			logger.Debug(context.Background(), "state", "session.evicted",
				slog.Int64("chat_id", oldID),
				slog.String("state", string(old.State)),
			)
			if m.onEvict != nil {
				m.onEvict(oldID, old)
			}
		}
	}
	m.sessions.Add(chatID, conv)
}

// Reset returns the chat to idle.
func (m *memoryManager) Reset(chatID int64) {
	m.sessions.Remove(chatID)
}

// InProgress reports whether the chat currently has an active FSM state.
func (m *memoryManager) InProgress(chatID int64) bool {
	conv, ok := m.sessions.Peek(chatID)
	return ok && conv.State != StateIdle
}

// Len returns the number of conversations mid-dialogue.
func (m *memoryManager) Len() int {
	return m.sessions.Len()
}

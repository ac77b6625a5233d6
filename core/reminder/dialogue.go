package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jmhodges/clock"

	"github.com/m3rciful/remindbot/core/logger"
	"github.com/m3rciful/remindbot/core/state"
)

const componentDialogue = "reminder.dialogue"

// Commands understood by the dialogue.
const (
	CommandStart  = "start"
	CommandCancel = "cancel"
	CommandList   = "list"
)

// EventKind tells commands apart from free text.
type EventKind int

const (
	EventText EventKind = iota + 1
	EventCommand
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventCommand:
		return "command"
	default:
		return "unknown"
	}
}

// Event is one inbound user action addressed to a conversation.
type Event struct {
	ConversationID int64
	Kind           EventKind
	// Command is set for EventCommand, without the leading slash.
	Command string
	Text    string
}

// Reply is the message the dialogue wants sent back to the conversation.
type Reply struct {
	Text string
	// Cancelable marks prompts that wait for further input.
	Cancelable bool
}

// TaskStore is the part of Registry the dialogue writes to.
type TaskStore interface {
	Put(id int64, task string, at time.Time)
	List() []Entry
}

// DeliveryScheduler is the part of Scheduler the dialogue uses.
type DeliveryScheduler interface {
	Schedule(delay time.Duration, p Payload) *Delivery
}

// DialogueOptions configures NewDialogue. Sessions, Tasks and Scheduler are required.
type DialogueOptions struct {
	Sessions  state.Manager
	Tasks     TaskStore
	Scheduler DeliveryScheduler
	Clock     clock.Clock
	Messages  Messages
}

type textHandler func(ctx context.Context, ev Event, conv state.Conversation) Reply

// Dialogue drives the per-conversation state machine. Handle calls are
// serialised, so events are processed one at a time.
type Dialogue struct {
	mu        sync.Mutex
	sessions  state.Manager
	tasks     TaskStore
	scheduler DeliveryScheduler
	clk       clock.Clock
	msgs      Messages
	onText    map[state.State]textHandler
}

// NewDialogue wires the state machine to its collaborators.
func NewDialogue(opts DialogueOptions) (*Dialogue, error) {
	if opts.Sessions == nil || opts.Tasks == nil || opts.Scheduler == nil {
		return nil, fmt.Errorf("reminder: dialogue needs sessions, tasks and scheduler")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	d := &Dialogue{
		sessions:  opts.Sessions,
		tasks:     opts.Tasks,
		scheduler: opts.Scheduler,
		clk:       clk,
		msgs:      opts.Messages.WithDefaults(),
	}
	d.onText = map[state.State]textHandler{
		state.StateAwaitingTask: d.acceptTask,
		state.StateAwaitingTime: d.acceptTime,
	}
	return d, nil
}

// Messages returns the texts in use, defaults applied.
func (d *Dialogue) Messages() Messages {
	return d.msgs
}

// Handle feeds ev to the state machine. The boolean is false when the event
// has no handler in the current state and was ignored.
func (d *Dialogue) Handle(ctx context.Context, ev Event) (Reply, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx = logger.WithChat(ctx, ev.ConversationID)
	switch ev.Kind {
	case EventCommand:
		switch strings.ToLower(ev.Command) {
		case CommandStart:
			return d.start(ctx, ev), true
		case CommandCancel:
			return d.cancel(ctx, ev), true
		case CommandList:
			return d.list(), true
		}
	case EventText:
		conv := d.sessions.Get(ev.ConversationID)
		if h, ok := d.onText[conv.State]; ok {
			return h(ctx, ev, conv), true
		}
	}

	logger.Debug(ctx, componentDialogue, "dialogue.ignored",
		slog.String("kind", ev.Kind.String()),
		slog.String("command", ev.Command),
		slog.String("outcome", "ignored"),
	)
	return Reply{}, false
}

func (d *Dialogue) start(ctx context.Context, ev Event) Reply {
	prev := d.sessions.Get(ev.ConversationID).State
	d.sessions.Set(ev.ConversationID, state.Conversation{State: state.StateAwaitingTask})
	d.logTransition(ctx, prev, state.StateAwaitingTask)
	return Reply{Text: d.msgs.AskTask, Cancelable: true}
}

func (d *Dialogue) cancel(ctx context.Context, ev Event) Reply {
	prev := d.sessions.Get(ev.ConversationID).State
	d.sessions.Reset(ev.ConversationID)
	d.logTransition(ctx, prev, state.StateIdle, slog.String("outcome", "cancelled"))
	return Reply{Text: d.msgs.Cancelled}
}

func (d *Dialogue) acceptTask(ctx context.Context, ev Event, _ state.Conversation) Reply {
	d.sessions.Set(ev.ConversationID, state.Conversation{
		State:       state.StateAwaitingTime,
		PendingTask: ev.Text,
	})
	d.logTransition(ctx, state.StateAwaitingTask, state.StateAwaitingTime,
		slog.String("task", logger.SanitizeLimit(ev.Text, 64)),
	)
	return Reply{Text: d.msgs.AskTime, Cancelable: true}
}

func (d *Dialogue) acceptTime(ctx context.Context, ev Event, conv state.Conversation) Reply {
	at, err := ParseClock(ev.Text)
	if err != nil {
		logger.Info(ctx, componentDialogue, "dialogue.bad_time",
			slog.String("state", string(state.StateAwaitingTime)),
			slog.String("input", logger.SanitizeLimit(ev.Text, 32)),
			slog.String("outcome", "skip"),
		)
		return Reply{Text: d.msgs.BadTime, Cancelable: true}
	}

	now := d.clk.Now()
	instant := NextOccurrence(now, at)
	d.tasks.Put(ev.ConversationID, conv.PendingTask, instant)
	d.scheduler.Schedule(instant.Sub(now), Payload{
		ConversationID: ev.ConversationID,
		Task:           conv.PendingTask,
	})
	d.sessions.Reset(ev.ConversationID)

	d.logTransition(ctx, state.StateAwaitingTime, state.StateIdle,
		slog.Time("fire_at", instant),
		slog.String("outcome", "ok"),
	)
	return Reply{Text: d.msgs.renderConfirm(conv.PendingTask, at)}
}

func (d *Dialogue) list() Reply {
	entries := d.tasks.List()
	if len(entries) == 0 {
		return Reply{Text: d.msgs.ListEmpty}
	}
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d / %s / %s", e.ConversationID, e.DeliverAt.Format("2006-01-02 15:04"), e.Task)
	}
	return Reply{Text: b.String()}
}

func (d *Dialogue) logTransition(ctx context.Context, from, to state.State, attrs ...slog.Attr) {
	attrs = append([]slog.Attr{
		slog.String("state", string(from)),
		slog.String("next_state", string(to)),
	}, attrs...)
	logger.Info(ctx, componentDialogue, "dialogue.transition", attrs...)
}

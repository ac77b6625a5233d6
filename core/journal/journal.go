// Package journal keeps a write-only audit trail of reminder deliveries in
// Postgres. Nothing here is read back at startup.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/remindbot/core/logger"
	"github.com/m3rciful/remindbot/core/reminder"
)

const component = "reminder.journal"

// MigrationsDir is the directory inside Migrations holding the schema.
const MigrationsDir = "migrations"

// Migrations embeds the journal schema for golang-migrate's iofs source.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// Delivery statuses stored in reminder_deliveries.status.
const (
	StatusScheduled = "scheduled"
	StatusFired     = "fired"
	StatusFailed    = "failed"
	StatusDropped   = "dropped"
)

const (
	insertDelivery = `INSERT INTO reminder_deliveries (id, chat_id, task, fire_at, scheduled_at, status)
VALUES (:id, :chat_id, :task, :fire_at, :scheduled_at, :status)
ON CONFLICT (id) DO NOTHING`

	updateDelivery = `UPDATE reminder_deliveries
SET status = :status, fired_at = :fired_at, error = :error
WHERE id = :id`
)

// Execer is the subset of *sqlx.DB used by the journal.
type Execer interface {
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
}

type row struct {
	ID          string         `db:"id"`
	ChatID      int64          `db:"chat_id"`
	Task        string         `db:"task"`
	FireAt      time.Time      `db:"fire_at"`
	ScheduledAt time.Time      `db:"scheduled_at"`
	Status      string         `db:"status"`
	FiredAt     sql.NullTime   `db:"fired_at"`
	Error       sql.NullString `db:"error"`
}

// DefaultQueueSize bounds the writes waiting for the database.
const DefaultQueueSize = 1024

type write struct {
	ctx   context.Context
	event string
	query string
	row   row
}

// Recorder writes scheduler events to the journal table from a single
// background worker, so callers never wait for the database. Writes keep
// their submission order. When the queue is full the write is dropped and
// logged; failures are logged and swallowed.
type Recorder struct {
	db      Execer
	now     func() time.Time
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan write
	done   chan struct{}
	once   sync.Once
}

// NewRecorder wraps db and starts the writer. now defaults to time.Now.
// Close must be called to flush pending writes.
func NewRecorder(db Execer, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	r := &Recorder{
		db:      db,
		now:     now,
		timeout: 5 * time.Second,
		queue:   make(chan write, DefaultQueueSize),
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Recorder) Scheduled(ctx context.Context, d *reminder.Delivery) {
	r.exec(ctx, "journal.insert", insertDelivery, row{
		ID:          d.ID,
		ChatID:      d.Payload.ConversationID,
		Task:        d.Payload.Task,
		FireAt:      d.FireAt,
		ScheduledAt: d.ScheduledAt,
		Status:      StatusScheduled,
	})
}

func (r *Recorder) Fired(ctx context.Context, d *reminder.Delivery, err error) {
	rec := row{
		ID:      d.ID,
		Status:  StatusFired,
		FiredAt: sql.NullTime{Time: r.now(), Valid: true},
	}
	if err != nil {
		rec.Status = StatusFailed
		rec.Error = sql.NullString{String: logger.SanitizeLimit(err.Error(), 512), Valid: true}
	}
	r.exec(ctx, "journal.update", updateDelivery, rec)
}

func (r *Recorder) Dropped(ctx context.Context, d *reminder.Delivery) {
	r.exec(ctx, "journal.update", updateDelivery, row{ID: d.ID, Status: StatusDropped})
}

// Close stops accepting writes and waits until the queued ones are done.
func (r *Recorder) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
		<-r.done
	})
}

func (r *Recorder) exec(ctx context.Context, event, query string, arg row) {
	w := write{ctx: context.WithoutCancel(ctx), event: event, query: query, row: arg}

	r.mu.RLock()
	defer r.mu.RUnlock()
	cause := "closed"
	if !r.closed {
		select {
		case r.queue <- w:
			return
		default:
			cause = "queue_full"
		}
	}
	logger.Warn(ctx, component, event,
		slog.String("delivery_id", arg.ID),
		slog.String("status", arg.Status),
		slog.String("outcome", "dropped"),
		slog.String("cause", cause),
	)
}

func (r *Recorder) loop() {
	defer close(r.done)
	for w := range r.queue {
		r.write(w.ctx, w.event, w.query, w.row)
	}
}

func (r *Recorder) write(ctx context.Context, event, query string, arg row) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	_, err := r.db.NamedExecContext(ctx, query, arg)
	attrs := []slog.Attr{
		slog.String("delivery_id", arg.ID),
		slog.String("status", arg.Status),
		slog.Duration("duration", logger.Took(start)),
	}
	if err != nil {
		logger.Warn(ctx, component, event, append(attrs,
			slog.String("outcome", "fail"),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)...)
		return
	}
	logger.Debug(ctx, component, event, attrs...)
}

var _ reminder.Recorder = (*Recorder)(nil)

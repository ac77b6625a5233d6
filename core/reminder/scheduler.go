package reminder

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmhodges/clock"

	"github.com/m3rciful/remindbot/core/logger"
)

const (
	componentScheduler = "reminder.scheduler"

	defaultSendTimeout = 30 * time.Second
)

// Payload is copied into a delivery when it is scheduled.
type Payload struct {
	ConversationID int64
	Task           string
}

// DeliverFunc performs the outbound send of a fired reminder.
type DeliverFunc func(ctx context.Context, p Payload) error

// Delivery is the handle of one scheduled reminder. It exposes no cancel
// operation; only the scheduler can stop it, and only at shutdown.
type Delivery struct {
	ID          string
	Payload     Payload
	ScheduledAt time.Time
	FireAt      time.Time

	timer *clock.Timer
	done  chan struct{}
}

// Done is closed once the delivery fired or was dropped.
func (d *Delivery) Done() <-chan struct{} {
	return d.done
}

func (d *Delivery) stop() {
	if d.timer != nil {
		d.timer.Stop()
	}
}

// SchedulerOptions configures NewScheduler.
type SchedulerOptions struct {
	Clock    clock.Clock
	Deliver  DeliverFunc
	Recorder Recorder
	// SendTimeout bounds a single call to Deliver.
	SendTimeout time.Duration
}

// Scheduler runs every scheduled delivery in its own goroutine.
// Deliveries are fire-and-forget: a failed send is logged and never retried.
type Scheduler struct {
	clk         clock.Clock
	deliver     DeliverFunc
	rec         Recorder
	sendTimeout time.Duration

	mu      sync.Mutex
	closed  bool
	pending map[string]*Delivery
	wg      sync.WaitGroup
	quit    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// NewScheduler builds a scheduler. Deliver is required.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	rec := opts.Recorder
	if rec == nil {
		rec = NopRecorder{}
	}
	timeout := opts.SendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &Scheduler{
		clk:         clk,
		deliver:     opts.Deliver,
		rec:         rec,
		sendTimeout: timeout,
		pending:     make(map[string]*Delivery),
		quit:        make(chan struct{}),
	}
}

// Schedule arranges for p to be delivered once, no earlier than delay from now.
// A zero or negative delay fires right away.
func (s *Scheduler) Schedule(delay time.Duration, p Payload) *Delivery {
	now := s.clk.Now()
	d := &Delivery{
		ID:          uuid.NewString(),
		Payload:     p,
		ScheduledAt: now,
		FireAt:      now,
		done:        make(chan struct{}),
	}
	if delay > 0 {
		d.FireAt = now.Add(delay)
		d.timer = s.clk.NewTimer(delay)
	}
	ctx := logger.WithChat(context.Background(), p.ConversationID)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		d.stop()
		close(d.done)
		s.dropped.Add(1)
		s.rec.Scheduled(ctx, d)
		s.rec.Dropped(ctx, d)
		logger.Warn(ctx, componentScheduler, "delivery.dropped",
			slog.String("delivery_id", d.ID),
			slog.String("cause", "scheduler_closed"),
		)
		return d
	}
	s.pending[d.ID] = d
	s.wg.Add(1)
	s.mu.Unlock()

	s.rec.Scheduled(ctx, d)
	logger.Info(ctx, componentScheduler, "delivery.scheduled",
		slog.String("delivery_id", d.ID),
		slog.Time("fire_at", d.FireAt),
		slog.Duration("delay", max(delay, 0)),
	)

	go s.run(ctx, d)
	return d
}

func (s *Scheduler) run(ctx context.Context, d *Delivery) {
	defer s.wg.Done()
	defer close(d.done)
	defer s.forget(d.ID)

	if d.timer != nil {
		select {
		case <-d.timer.C:
		case <-s.quit:
			d.stop()
			s.dropped.Add(1)
			s.rec.Dropped(ctx, d)
			logger.Debug(ctx, componentScheduler, "delivery.dropped",
				slog.String("delivery_id", d.ID),
				slog.Time("fire_at", d.FireAt),
				slog.String("outcome", "dropped"),
			)
			return
		}
	}
	s.fire(ctx, d)
}

func (s *Scheduler) fire(ctx context.Context, d *Delivery) {
	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	start := time.Now()
	var err error
	if s.deliver != nil {
		err = s.deliver(sendCtx, d.Payload)
	}
	s.rec.Fired(ctx, d, err)

	attrs := []slog.Attr{
		slog.String("delivery_id", d.ID),
		slog.String("outcome", logger.Status(err)),
		slog.Duration("duration", logger.Took(start)),
	}
	if err != nil {
		logger.Error(ctx, componentScheduler, "delivery.fail",
			append(attrs, slog.String("err", err.Error()))...)
		return
	}
	logger.Info(ctx, componentScheduler, "delivery.fired", attrs...)
}

func (s *Scheduler) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}

// Pending returns the number of deliveries that have not fired yet.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close drops every delivery still waiting and waits for in-flight sends.
// Nothing survives a restart, so dropped reminders are only logged.
func (s *Scheduler) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.quit)
		s.wg.Wait()
		logger.Info(context.Background(), componentScheduler, "scheduler.closed",
			slog.Int64("dropped", s.dropped.Load()),
		)
	})
}

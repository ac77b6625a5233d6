package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type deliverySink struct {
	mu    sync.Mutex
	calls []Payload
	err   error
}

func (s *deliverySink) deliver(_ context.Context, p Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, p)
	return s.err
}

func (s *deliverySink) payloads() []Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Payload(nil), s.calls...)
}

type countingRecorder struct {
	mu        sync.Mutex
	scheduled int
	fired     int
	failed    int
	dropped   int
}

func (r *countingRecorder) Scheduled(context.Context, *Delivery) {
	r.mu.Lock()
	r.scheduled++
	r.mu.Unlock()
}

func (r *countingRecorder) Fired(_ context.Context, _ *Delivery, err error) {
	r.mu.Lock()
	r.fired++
	if err != nil {
		r.failed++
	}
	r.mu.Unlock()
}

func (r *countingRecorder) Dropped(context.Context, *Delivery) {
	r.mu.Lock()
	r.dropped++
	r.mu.Unlock()
}

func (r *countingRecorder) snapshot() (scheduled, fired, failed, dropped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scheduled, r.fired, r.failed, r.dropped
}

func newTestScheduler(t *testing.T, sink *deliverySink, rec Recorder) (*Scheduler, clock.FakeClock) {
	t.Helper()
	fc := clock.NewFake()
	fc.Set(time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC))
	s := NewScheduler(SchedulerOptions{Clock: fc, Deliver: sink.deliver, Recorder: rec})
	t.Cleanup(s.Close)
	return s, fc
}

func waitDone(t *testing.T, d *Delivery) {
	t.Helper()
	select {
	case <-d.Done():
	case <-time.After(waitFor):
		t.Fatalf("delivery %s did not finish", d.ID)
	}
}

func TestScheduleNonPositiveDelayFiresImmediately(t *testing.T) {
	sink := &deliverySink{}
	s, fc := newTestScheduler(t, sink, nil)

	d1 := s.Schedule(0, Payload{ConversationID: 1, Task: "now"})
	d2 := s.Schedule(-time.Minute, Payload{ConversationID: 2, Task: "late"})
	waitDone(t, d1)
	waitDone(t, d2)

	assert.ElementsMatch(t, []Payload{{1, "now"}, {2, "late"}}, sink.payloads())
	assert.Equal(t, fc.Now(), d1.FireAt)
	assert.Equal(t, 0, s.Pending())
}

func TestScheduleWaitsForClock(t *testing.T) {
	sink := &deliverySink{}
	s, fc := newTestScheduler(t, sink, nil)

	d := s.Schedule(75*time.Minute, Payload{ConversationID: 42, Task: "buy milk"})
	assert.Equal(t, fc.Now().Add(75*time.Minute), d.FireAt)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, 1, s.Pending())

	fc.Add(74 * time.Minute)
	select {
	case <-d.Done():
		t.Fatal("delivery fired before its delay elapsed")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, sink.payloads())

	fc.Add(time.Minute)
	waitDone(t, d)
	assert.Equal(t, []Payload{{ConversationID: 42, Task: "buy milk"}}, sink.payloads())
	assert.Equal(t, 0, s.Pending())
}

func TestScheduleTwoDeliveriesForSameConversationBothFire(t *testing.T) {
	sink := &deliverySink{}
	s, fc := newTestScheduler(t, sink, nil)

	d1 := s.Schedule(time.Hour, Payload{ConversationID: 5, Task: "first"})
	d2 := s.Schedule(2*time.Hour, Payload{ConversationID: 5, Task: "second"})
	assert.NotEqual(t, d1.ID, d2.ID)

	fc.Add(2 * time.Hour)
	waitDone(t, d1)
	waitDone(t, d2)
	assert.ElementsMatch(t, []Payload{{5, "first"}, {5, "second"}}, sink.payloads())
}

func TestScheduleDeliveryErrorIsNotRetried(t *testing.T) {
	sink := &deliverySink{err: errors.New("network down")}
	rec := &countingRecorder{}
	s, fc := newTestScheduler(t, sink, rec)

	d := s.Schedule(time.Second, Payload{ConversationID: 3, Task: "t"})
	fc.Add(time.Second)
	waitDone(t, d)
	fc.Add(time.Hour)

	assert.Len(t, sink.payloads(), 1)
	scheduled, fired, failed, dropped := rec.snapshot()
	assert.Equal(t, 1, scheduled)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, failed)
	assert.Zero(t, dropped)
}

func TestCloseDropsPendingDeliveries(t *testing.T) {
	sink := &deliverySink{}
	rec := &countingRecorder{}
	fc := clock.NewFake()
	s := NewScheduler(SchedulerOptions{Clock: fc, Deliver: sink.deliver, Recorder: rec})

	d := s.Schedule(time.Hour, Payload{ConversationID: 9, Task: "never"})
	s.Close()
	waitDone(t, d)

	fc.Add(2 * time.Hour)
	assert.Empty(t, sink.payloads())
	assert.Equal(t, 0, s.Pending())

	late := s.Schedule(time.Minute, Payload{ConversationID: 9, Task: "after close"})
	waitDone(t, late)

	scheduled, fired, _, dropped := rec.snapshot()
	assert.Equal(t, 2, scheduled, "a delivery is recorded as scheduled before it is dropped")
	assert.Zero(t, fired)
	assert.Equal(t, 2, dropped)

	// Close is idempotent.
	require.NotPanics(t, s.Close)
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(ev string, d *Delivery) {
	l.mu.Lock()
	l.events = append(l.events, ev+":"+d.ID)
	l.mu.Unlock()
}

func (l *eventLog) Scheduled(_ context.Context, d *Delivery)      { l.add("scheduled", d) }
func (l *eventLog) Fired(_ context.Context, d *Delivery, _ error) { l.add("fired", d) }
func (l *eventLog) Dropped(_ context.Context, d *Delivery)        { l.add("dropped", d) }

func TestScheduleAfterCloseRecordsScheduledThenDropped(t *testing.T) {
	log := &eventLog{}
	s := NewScheduler(SchedulerOptions{Clock: clock.NewFake(), Deliver: (&deliverySink{}).deliver, Recorder: log})
	s.Close()

	d := s.Schedule(time.Minute, Payload{ConversationID: 3, Task: "late"})
	waitDone(t, d)

	log.mu.Lock()
	defer log.mu.Unlock()
	assert.Equal(t, []string{"scheduled:" + d.ID, "dropped:" + d.ID}, log.events)
}

func TestRecordersFanOut(t *testing.T) {
	a, b := &countingRecorder{}, &countingRecorder{}
	rs := Recorders{a, NopRecorder{}, b}
	d := &Delivery{ID: "x"}

	rs.Scheduled(context.Background(), d)
	rs.Fired(context.Background(), d, errors.New("boom"))
	rs.Dropped(context.Background(), d)

	for _, r := range []*countingRecorder{a, b} {
		scheduled, fired, failed, dropped := r.snapshot()
		assert.Equal(t, []int{1, 1, 1, 1}, []int{scheduled, fired, failed, dropped})
	}
}

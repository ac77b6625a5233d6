package sender

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

type results struct {
	mu   sync.Mutex
	errs []error
}

func (r *results) record(_ string, err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *results) all() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func TestDispatcherRetriesTransientErrors(t *testing.T) {
	res := &results{}
	d := NewDispatcher(Options{Workers: 1, MaxRetries: 2, RetryBackoff: time.Millisecond, OnResult: res.record})

	var calls atomic.Int32
	require.NoError(t, d.Enqueue(context.Background(), "send.reminder", func(context.Context) error {
		if calls.Add(1) < 3 {
			return fmt.Errorf("post: %w", timeoutErr{})
		}
		return nil
	}))
	d.Close()

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []error{nil}, res.all())
	assert.Equal(t, uint64(1), d.SentCount())
	assert.Zero(t, d.ErrorCount())
}

func TestDispatcherDoesNotRetryPermanentErrors(t *testing.T) {
	res := &results{}
	d := NewDispatcher(Options{Workers: 1, MaxRetries: 5, RetryBackoff: time.Millisecond, OnResult: res.record})

	boom := errors.New("chat not found")
	var calls atomic.Int32
	require.NoError(t, d.Enqueue(context.Background(), "send.reminder", func(context.Context) error {
		calls.Add(1)
		return boom
	}))
	d.Close()

	assert.Equal(t, int32(1), calls.Load())
	require.Len(t, res.all(), 1)
	assert.ErrorIs(t, res.all()[0], boom)
	assert.Equal(t, uint64(1), d.ErrorCount())
}

func TestDispatcherGivesUpAfterMaxRetries(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, MaxRetries: 1, RetryBackoff: time.Millisecond})
	var calls atomic.Int32
	require.NoError(t, d.Enqueue(context.Background(), "send.reply", func(context.Context) error {
		calls.Add(1)
		return timeoutErr{}
	}))
	d.Close()

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, uint64(1), d.ErrorCount())
}

func TestDispatcherQueueFullAndClosed(t *testing.T) {
	d := NewDispatcher(Options{QueueSize: 1, Workers: 1})
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, d.Enqueue(context.Background(), "block", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	require.NoError(t, d.Enqueue(context.Background(), "queued", func(context.Context) error { return nil }))
	assert.ErrorIs(t, d.Enqueue(context.Background(), "overflow", func(context.Context) error { return nil }), ErrQueueFull)

	var ran bool
	require.NoError(t, d.Do(context.Background(), "fallback", func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran, "Do must run synchronously when the queue is full")

	close(release)
	d.Close()
	assert.ErrorIs(t, d.Enqueue(context.Background(), "late", func(context.Context) error { return nil }), ErrQueueClosed)
	assert.NotPanics(t, d.Close)
}

func TestDispatcherDoKeepsPerChatOrder(t *testing.T) {
	d := NewDispatcher(Options{Workers: 4})
	defer d.Close()

	var mu sync.Mutex
	var delivered []string
	send := func(text string, latency time.Duration) func(context.Context) error {
		return func(context.Context) error {
			time.Sleep(latency)
			mu.Lock()
			delivered = append(delivered, text)
			mu.Unlock()
			return nil
		}
	}

	require.NoError(t, d.Do(context.Background(), "send.reply", send("AskTask", 30*time.Millisecond)))
	require.NoError(t, d.Do(context.Background(), "send.reply", send("AskTime", time.Millisecond)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"AskTask", "AskTime"}, delivered)
}

func TestDispatcherDoReturnsJobError(t *testing.T) {
	d := NewDispatcher(Options{Workers: 2})
	defer d.Close()

	boom := errors.New("bot was blocked by the user")
	err := d.Do(context.Background(), "send.reminder", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(1), d.ErrorCount())
}

func TestDispatcherDoHonoursCallerContext(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1})
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Do(ctx, "send.reply", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSanitizeErrorMessageRedactsToken(t *testing.T) {
	err := errors.New(`Post "https://api.telegram.org/bot123456:AAH-secret_token/sendMessage": timeout`)
	msg := sanitizeErrorMessage(err)
	assert.NotContains(t, msg, "AAH-secret_token")
	assert.Contains(t, msg, "bot<redacted>")
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "", classifyError(nil))
	assert.Equal(t, "timeout", classifyError(context.DeadlineExceeded))
	assert.Equal(t, "timeout", classifyError(timeoutErr{}))
	assert.Equal(t, "unknown", classifyError(errors.New("x")))
}

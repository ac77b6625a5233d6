// Package metrics exposes Prometheus collectors for the reminder bot.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m3rciful/remindbot/core/logger"
	"github.com/m3rciful/remindbot/core/reminder"
)

const (
	namespace = "remindbot"
	component = "metrics"

	// DefaultPath is where Serve mounts the handler when no path is given.
	DefaultPath = "/metrics"
)

// Metrics groups the bot's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	updates   *prometheus.CounterVec
	handling  *prometheus.HistogramVec
	scheduled prometheus.Counter
	fired     *prometheus.CounterVec
	dropped   prometheus.Counter
	sends     *prometheus.CounterVec

	pending  atomic.Pointer[func() int]
	sessions atomic.Pointer[func() int]
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.updates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "telegram",
		Name:      "updates_total",
		Help:      "Routed Telegram updates by handler and outcome.",
	}, []string{"handler", "outcome"})
	m.handling = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "telegram",
		Name:      "handler_duration_seconds",
		Help:      "Time spent handling an update.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"handler"})
	m.scheduled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reminders",
		Name:      "scheduled_total",
		Help:      "Reminders handed to the scheduler.",
	})
	m.fired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reminders",
		Name:      "fired_total",
		Help:      "Reminders whose timer elapsed, by delivery outcome.",
	}, []string{"outcome"})
	m.dropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reminders",
		Name:      "dropped_total",
		Help:      "Reminders discarded at shutdown before they fired.",
	})
	m.sends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sender",
		Name:      "jobs_total",
		Help:      "Outbound Telegram calls by action and outcome.",
	}, []string{"action", "outcome"})

	pending := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "reminders",
		Name:      "pending",
		Help:      "Reminders waiting for their delivery time.",
	}, func() float64 { return read(&m.pending) })
	sessions := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "dialogue",
		Name:      "active_conversations",
		Help:      "Conversations in the middle of a dialogue.",
	}, func() float64 { return read(&m.sessions) })

	m.registry.MustRegister(
		m.updates, m.handling, m.scheduled, m.fired, m.dropped, m.sends,
		pending, sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func read(p *atomic.Pointer[func() int]) float64 {
	fn := p.Load()
	if fn == nil {
		return 0
	}
	return float64((*fn)())
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Track sets the sources of the pending and active-conversation gauges.
func (m *Metrics) Track(pending, sessions func() int) {
	if pending != nil {
		m.pending.Store(&pending)
	}
	if sessions != nil {
		m.sessions.Store(&sessions)
	}
}

// ObserveHandler matches router.Observer.
func (m *Metrics) ObserveHandler(handler, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(handler, outcome).Inc()
	m.handling.WithLabelValues(handler).Observe(elapsed.Seconds())
}

// ObserveSend matches the dispatcher's OnResult hook.
func (m *Metrics) ObserveSend(action string, err error) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(action, logger.Status(err)).Inc()
}

func (m *Metrics) Scheduled(context.Context, *reminder.Delivery) {
	m.scheduled.Inc()
}

func (m *Metrics) Fired(_ context.Context, _ *reminder.Delivery, err error) {
	m.fired.WithLabelValues(logger.Status(err)).Inc()
}

func (m *Metrics) Dropped(context.Context, *reminder.Delivery) {
	m.dropped.Inc()
}

var _ reminder.Recorder = (*Metrics)(nil)

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes Handler on listen until ctx is done.
func (m *Metrics) Serve(ctx context.Context, listen, path string) error {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info(ctx, component, "metrics.listen",
		slog.String("listen", listen),
		slog.String("path", path),
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info(shutdownCtx, component, "metrics.stopped")
	return nil
}

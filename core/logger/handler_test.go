package logger

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"log/slog"
)

func newTestHandler(format logFormat) (*bytes.Buffer, *asyncWriter, *slog.Logger) {
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	handler := newStructuredHandler(handlerConfig{
		level:    slog.LevelDebug,
		writer:   aw,
		format:   format,
		keyOrder: append([]string(nil), defaultKeyOrder...),
	})
	return buf, aw, slog.New(handler)
}

func closeAndRead(t *testing.T, buf *bytes.Buffer, aw *asyncWriter) string {
	t.Helper()
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return strings.TrimSpace(buf.String())
}

func TestStructuredHandlerKVOrder(t *testing.T) {
	buf, aw, log := newTestHandler(formatKV)
	ctx := WithRID(Background(), "rid-123")
	ctx = WithUpdateMeta(ctx, 42, 7, 9)

	LogEvent(ctx, log.With("component", "reminder.dialogue"), slog.LevelInfo, "dialogue.transition",
		slog.String("status", "OK"),
		slog.String("state", "awaiting_time"),
	)

	line := closeAndRead(t, buf, aw)
	tokens := strings.Split(line, " ")
	expected := []string{"ts=", "level=INFO", "component=reminder.dialogue", "event=dialogue.transition", "status=ok", "rid=rid-123"}
	if len(tokens) < len(expected) {
		t.Fatalf("unexpected token count: %d (%s)", len(tokens), line)
	}
	for i, prefix := range expected {
		if !strings.HasPrefix(tokens[i], prefix) {
			t.Fatalf("token %d = %s, expected prefix %s", i, tokens[i], prefix)
		}
	}
	if !strings.Contains(line, "chat_id=9") || !strings.Contains(line, "user_id=7") {
		t.Fatalf("expected update meta from context, got %s", line)
	}
}

func TestStructuredHandlerJSONOrder(t *testing.T) {
	buf, aw, log := newTestHandler(formatJSON)
	ctx := WithRID(Background(), "rid-json")

	LogEvent(ctx, log.With("component", "reminder.scheduler"), slog.LevelError, "delivery.fail",
		slog.String("status", "fail"),
		slog.String("err", "boom"),
	)

	line := closeAndRead(t, buf, aw)
	prefixes := []string{`{"ts":`, `"level":"ERROR"`, `"component":"reminder.scheduler"`, `"event":"delivery.fail"`, `"status":"fail"`, `"rid":"rid-json"`}
	pos := -1
	for _, pref := range prefixes {
		idx := strings.Index(line, pref)
		if idx == -1 || idx < pos {
			t.Fatalf("prefix %s not found in order within %s", pref, line)
		}
		pos = idx
	}
	if !strings.Contains(line, `"ts_unix_nano"`) {
		t.Fatalf("expected ts_unix_nano in JSON output, got %s", line)
	}
}

func TestStructuredHandlerCompactRID(t *testing.T) {
	rawRID := "123:456:789"

	buf, aw, log := newTestHandler(formatKV)
	LogEvent(WithRID(Background(), rawRID), log, slog.LevelInfo, "rid.test")
	line := closeAndRead(t, buf, aw)
	if !strings.Contains(line, "rid="+CompactRID(rawRID)) {
		t.Fatalf("expected compact rid, got %s", line)
	}
	if strings.Contains(line, "rid_full=") {
		t.Fatalf("rid_full should be omitted in KV output, got %s", line)
	}

	buf, aw, log = newTestHandler(formatJSON)
	LogEvent(WithRID(Background(), rawRID), log, slog.LevelInfo, "rid.test")
	line = closeAndRead(t, buf, aw)
	if !strings.Contains(line, `"rid_full":"`+rawRID+`"`) {
		t.Fatalf("expected rid_full in JSON output, got %s", line)
	}
}

func TestStructuredHandlerDurationsAndOutcome(t *testing.T) {
	buf, aw, log := newTestHandler(formatKV)
	LogEvent(Background(), log, slog.LevelInfo, "delivery.scheduled",
		slog.Duration("delay", 1500*time.Millisecond),
		slog.Duration("duration", 20*time.Millisecond),
		slog.String("outcome", "bogus"),
	)
	line := closeAndRead(t, buf, aw)
	if !strings.Contains(line, "delay_ms=1500") {
		t.Fatalf("expected delay_ms, got %s", line)
	}
	if !strings.Contains(line, "duration_ms=20") {
		t.Fatalf("expected duration_ms, got %s", line)
	}
	if strings.Contains(line, "outcome=") {
		t.Fatalf("unknown outcome should be dropped, got %s", line)
	}
}

func TestAsyncWriterRejectsAfterClose(t *testing.T) {
	aw := newAsyncWriter([]io.Writer{io.Discard}, 16)
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := aw.Write([]byte("late\n")); err != errWriterClosed {
		t.Fatalf("expected errWriterClosed, got %v", err)
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestRatioSampler(t *testing.T) {
	s := newRatioSampler(1, 3)
	got := []bool{s.Allow(), s.Allow(), s.Allow(), s.Allow()}
	want := []bool{true, false, false, true}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("allow[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	s.Set(0, 0)
	if !s.Allow() {
		t.Fatal("disabled sampler must allow everything")
	}
	if n, d := parseRatioSpec("10"); n != 1 || d != 10 {
		t.Fatalf("parseRatioSpec(10) = %d/%d", n, d)
	}
	if n, d := parseRatioSpec("2/5"); n != 2 || d != 5 {
		t.Fatalf("parseRatioSpec(2/5) = %d/%d", n, d)
	}
}

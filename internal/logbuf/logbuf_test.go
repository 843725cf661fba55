package logbuf

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func entry(level, msg string) Entry {
	return Entry{Time: time.Now(), Level: level, Message: msg}
}

func TestTailNewestFirst(t *testing.T) {
	b := New(10)
	b.Append(entry("INFO", "first"))
	b.Append(entry("INFO", "second"))
	b.Append(entry("INFO", "third"))

	got := b.Tail(slog.LevelDebug, 0)
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Message != "third" || got[2].Message != "first" {
		t.Errorf("order = %q, %q, %q", got[0].Message, got[1].Message, got[2].Message)
	}
}

func TestRingEviction(t *testing.T) {
	b := New(3)
	for _, m := range []string{"a", "b", "c", "d", "e"} {
		b.Append(entry("INFO", m))
	}
	if b.Len() != 3 {
		t.Fatalf("Len = %d", b.Len())
	}

	got := b.Tail(slog.LevelDebug, 0)
	if got[0].Message != "e" || got[2].Message != "c" {
		t.Errorf("kept = %q, %q, %q", got[0].Message, got[1].Message, got[2].Message)
	}
}

func TestTailLevelFilterAndLimit(t *testing.T) {
	b := New(10)
	b.Append(entry("DEBUG", "noise"))
	b.Append(entry("ERROR", "bad one"))
	b.Append(entry("INFO", "fine"))
	b.Append(entry("ERROR", "bad two"))

	errs := b.Tail(slog.LevelError, 0)
	if len(errs) != 2 || errs[0].Message != "bad two" {
		t.Fatalf("errors = %+v", errs)
	}

	limited := b.Tail(slog.LevelDebug, 2)
	if len(limited) != 2 || limited[0].Message != "bad two" || limited[1].Message != "fine" {
		t.Errorf("limited = %+v", limited)
	}
}

func TestHandlerCapturesBelowInnerLevel(t *testing.T) {
	var out bytes.Buffer
	inner := slog.NewJSONHandler(&out, &slog.HandlerOptions{Level: slog.LevelInfo})
	buf := New(10)
	logger := slog.New(NewHandler(inner, buf))

	logger.Debug("quiet detail", "k", "v")
	logger.Info("normal line")

	if out.Len() == 0 {
		t.Error("inner handler received nothing")
	}
	if bytes.Contains(out.Bytes(), []byte("quiet detail")) {
		t.Error("inner handler must keep its level filter")
	}

	got := buf.Tail(slog.LevelDebug, 0)
	if len(got) != 2 {
		t.Fatalf("captured = %d", len(got))
	}
	if got[1].Message != "quiet detail" || got[1].Attrs["k"] != "v" {
		t.Errorf("debug entry = %+v", got[1])
	}
}

func TestHandlerGroupsAndErrors(t *testing.T) {
	buf := New(10)
	inner := slog.NewJSONHandler(bytes.NewBuffer(nil), nil)
	logger := slog.New(NewHandler(inner, buf)).With("component", "api").WithGroup("req")

	logger.Error("request failed", "error", errors.New("boom"), "path", "/api/health")

	got := buf.Tail(slog.LevelError, 1)
	if len(got) != 1 {
		t.Fatalf("captured = %d", len(got))
	}
	if got[0].Attrs["component"] != "api" {
		t.Errorf("bound attr = %v", got[0].Attrs["component"])
	}
	if got[0].Attrs["req.error"] != "boom" {
		t.Errorf("error attr = %v, want flattened string", got[0].Attrs["req.error"])
	}
	if got[0].Attrs["req.path"] != "/api/health" {
		t.Errorf("grouped attr = %v", got[0].Attrs["req.path"])
	}
}

func TestHandleAlwaysEnabled(t *testing.T) {
	h := NewHandler(slog.NewJSONHandler(bytes.NewBuffer(nil), &slog.HandlerOptions{Level: slog.LevelError}), New(1))
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("handler must accept all levels for capture")
	}
}

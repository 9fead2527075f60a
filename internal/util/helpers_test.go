package util

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestBoolValue(t *testing.T) {
	if got := BoolValue(nil, true); got != true {
		t.Fatalf("BoolValue(nil, true) = %v, want true", got)
	}
	if got := BoolValue(nil, false); got != false {
		t.Fatalf("BoolValue(nil, false) = %v, want false", got)
	}
	val := true
	if got := BoolValue(&val, false); got != true {
		t.Fatalf("BoolValue(true, false) = %v, want true", got)
	}
	val = false
	if got := BoolValue(&val, true); got != false {
		t.Fatalf("BoolValue(false, true) = %v, want false", got)
	}
}

func TestClampFloat(t *testing.T) {
	if got := ClampFloat(120, 0, 95); got != 95 {
		t.Fatalf("ClampFloat(120) = %v, want 95", got)
	}
	if got := ClampFloat(-3, 0, 95); got != 0 {
		t.Fatalf("ClampFloat(-3) = %v, want 0", got)
	}
	if got := ClampFloat(42, 0, 95); got != 42 {
		t.Fatalf("ClampFloat(42) = %v, want 42", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerWithJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWith(&buf, "info", LogFormatJSON)
	logger.Info("run finished", "run_id", "abc")
	out := buf.String()
	if !strings.Contains(out, `"msg":"run finished"`) || !strings.Contains(out, `"run_id":"abc"`) {
		t.Fatalf("unexpected json log line: %s", out)
	}
}

func TestRFC5424Handler(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWith(&buf, "debug", LogFormatRFC5424)
	logger.With("component", "diag").Warn("probe failed", "key", "nmap")
	out := buf.String()
	if !strings.HasPrefix(out, "<12>1 ") {
		t.Fatalf("expected user.warning priority prefix, got %q", out)
	}
	for _, want := range []string{"netgauge", "probe failed", `component="diag"`, `key="nmap"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("rfc5424 frame missing %q: %s", want, out)
		}
	}
}

func TestRFC5424HandlerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWith(&buf, "error", LogFormatRFC5424)
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info record to be filtered, got %q", buf.String())
	}
}

package util

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
)

type Logger = *slog.Logger

const (
	LogFormatText    = "text"
	LogFormatJSON    = "json"
	LogFormatRFC5424 = "rfc5424"
)

func NewLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// NewLoggerWith builds a logger for the configured level and format.
// Unknown levels fall back to info, unknown formats to text.
func NewLoggerWith(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case LogFormatJSON:
		return slog.New(slog.NewJSONHandler(w, opts))
	case LogFormatRFC5424:
		return slog.New(NewRFC5424Handler(w, "netgauge", opts.Level))
	default:
		return slog.New(slog.NewTextHandler(w, opts))
	}
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RFC5424Handler writes each record as one RFC 5424 syslog frame.
// Attributes are carried as structured data under the "meta@1" SD-ID.
type RFC5424Handler struct {
	mu       *sync.Mutex
	w        io.Writer
	level    slog.Leveler
	appName  string
	hostname string
	pid      string
	attrs    []slog.Attr
	group    string
}

func NewRFC5424Handler(w io.Writer, appName string, level slog.Leveler) *RFC5424Handler {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	if level == nil {
		level = slog.LevelInfo
	}
	return &RFC5424Handler{
		mu:       &sync.Mutex{},
		w:        w,
		level:    level,
		appName:  appName,
		hostname: hostname,
		pid:      strconv.Itoa(os.Getpid()),
	}
}

func (h *RFC5424Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *RFC5424Handler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := &rfc5424.Message{
		Priority:  rfc5424.User | severity(r.Level),
		Timestamp: ts.UTC(),
		Hostname:  h.hostname,
		AppName:   h.appName,
		ProcessID: h.pid,
		MessageID: "-",
		Message:   []byte(r.Message),
	}
	for _, attr := range h.attrs {
		h.addDatum(msg, attr)
	}
	r.Attrs(func(attr slog.Attr) bool {
		h.addDatum(msg, attr)
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := msg.WriteTo(h.w); err != nil {
		return err
	}
	_, err := io.WriteString(h.w, "\n")
	return err
}

func (h *RFC5424Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

func (h *RFC5424Handler) WithGroup(name string) slog.Handler {
	next := *h
	if next.group != "" {
		next.group += "." + name
	} else {
		next.group = name
	}
	return &next
}

func (h *RFC5424Handler) addDatum(msg *rfc5424.Message, attr slog.Attr) {
	key := attr.Key
	if h.group != "" {
		key = h.group + "." + key
	}
	msg.AddDatum("meta@1", key, fmt.Sprint(attr.Value.Resolve().Any()))
}

func severity(level slog.Level) rfc5424.Priority {
	switch {
	case level >= slog.LevelError:
		return rfc5424.Error
	case level >= slog.LevelWarn:
		return rfc5424.Warning
	case level >= slog.LevelInfo:
		return rfc5424.Info
	default:
		return rfc5424.Debug
	}
}

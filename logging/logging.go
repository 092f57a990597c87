// Package logging provides the bracket-style slog handler used across the
// downloader: [{LEVEL}][{datetime}][{context}] {msg} key=value ...
package logging

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"log/slog"
)

// Levels beyond slog's built-ins. TRACE gates per-item dumps; CRITICAL marks
// errors that end the run.
const (
	LevelTrace    = slog.Level(-8)
	LevelDebug    = slog.LevelDebug
	LevelInfo     = slog.LevelInfo
	LevelWarning  = slog.LevelWarn
	LevelError    = slog.LevelError
	LevelCritical = slog.Level(12)
)

// ContextKey is the attr key whose value extends the bracket context instead
// of rendering as key=value. Loggers derive per-video contexts with
// logger.With(logging.ContextKey, videoID).
const ContextKey = "ctx"

const timeFormat = "2006-01-02 15:04:05"

// ParseLevel maps an upper-case level name to its slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch name {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "CRITICAL":
		return LevelCritical, nil
	}
	return 0, fmt.Errorf("unrecognized log level %q", name)
}

// LevelName renders a level as the name ParseLevel accepts. Levels between
// the named ones round down to the nearest named level.
func LevelName(l slog.Level) string {
	switch {
	case l >= LevelCritical:
		return "CRITICAL"
	case l >= LevelError:
		return "ERROR"
	case l >= LevelWarning:
		return "WARNING"
	case l >= LevelInfo:
		return "INFO"
	case l >= LevelDebug:
		return "DEBUG"
	default:
		return "TRACE"
	}
}

// Handler is a slog.Handler that writes one bracket-formatted line per
// record. Safe for concurrent use; With* clones share the write mutex.
type Handler struct {
	mu      *sync.Mutex
	w       io.Writer
	level   slog.Leveler
	context string
	prefix  string
	attrs   []slog.Attr
	now     func() time.Time
}

// HandlerOptions configures NewHandler.
type HandlerOptions struct {
	// Level is the minimum record level to emit. Nil means LevelInfo.
	Level slog.Leveler
	// Context seeds the bracket context (--log_base_context).
	Context string
}

// NewHandler returns a bracket handler writing to w.
func NewHandler(w io.Writer, opts *HandlerOptions) *Handler {
	h := &Handler{
		mu:    &sync.Mutex{},
		w:     w,
		level: LevelInfo,
		now:   time.Now,
	}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.context = opts.Context
	}
	return h
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	t := r.Time
	if t.IsZero() {
		t = h.now()
	}

	// Collect attrs first: a ContextKey attr on the record still has to land
	// inside the bracket, ahead of the message.
	context := h.context
	var attrs strings.Builder
	for _, a := range h.attrs {
		h.appendAttr(&attrs, a, &context)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(&attrs, a, &context)
		return true
	})

	var line strings.Builder
	line.WriteByte('[')
	line.WriteString(LevelName(r.Level))
	line.WriteString("][")
	line.WriteString(t.Format(timeFormat))
	line.WriteByte(']')
	if context != "" {
		line.WriteByte('[')
		line.WriteString(context)
		line.WriteByte(']')
	}
	line.WriteByte(' ')
	line.WriteString(r.Message)
	line.WriteString(attrs.String())
	line.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, line.String())
	return err
}

func (h *Handler) appendAttr(b *strings.Builder, a slog.Attr, context *string) {
	a.Value = a.Value.Resolve()
	if a.Key == ContextKey && h.prefix == "" {
		*context += valueString(a.Value)
		return
	}
	if a.Equal(slog.Attr{}) {
		return
	}
	fmt.Fprintf(b, " %s%s=%v", h.prefix, a.Key, a.Value)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := h.clone()
	for _, a := range attrs {
		a.Value = a.Value.Resolve()
		if a.Key == ContextKey && h.prefix == "" {
			h2.context += valueString(a.Value)
			continue
		}
		h2.attrs = append(h2.attrs, a)
	}
	return h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := h.clone()
	h2.prefix = h.prefix + name + "."
	return h2
}

func (h *Handler) clone() *Handler {
	h2 := *h
	h2.attrs = append([]slog.Attr(nil), h.attrs...)
	return &h2
}

func valueString(v slog.Value) string {
	if v.Kind() == slog.KindString {
		return v.String()
	}
	return fmt.Sprint(v.Any())
}

package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"time"
)

// LogLevel represents a logging level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
}

// ParseLogLevel parses a level name. Unknown names map to LevelInfo.
func ParseLogLevel(s string) LogLevel {
	for l, name := range levelNames {
		if name == s {
			return LogLevel(l)
		}
	}
	return LevelInfo
}

func (l LogLevel) String() string {
	if l < LevelDebug || l > LevelError {
		return levelNames[LevelInfo]
	}
	return levelNames[l]
}

// sink serializes whole lines onto a shared writer.
type sink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *sink) write(line []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.w.Write(line)
}

// jsonLogger writes one JSON object per line. Loggers derived with
// WithEvent share the parent's sink.
type jsonLogger struct {
	level LogLevel
	out   *sink
	event []Field
}

// NewLogger creates a JSON logger writing to stderr.
func NewLogger(level string) Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter creates a JSON logger writing to w.
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	if w == nil {
		w = io.Discard
	}
	return &jsonLogger{level: ParseLogLevel(level), out: &sink{w: w}}
}

// WithEvent returns a logger that stamps every line with event.name and,
// when set, cache.version.
func (l *jsonLogger) WithEvent(meta EventMeta) Logger {
	event := []Field{{Key: "event.name", Value: meta.Name}}
	if meta.Version != "" {
		event = append(event, Field{Key: "cache.version", Value: meta.Version})
	}
	return &jsonLogger{level: l.level, out: l.out, event: event}
}

func (l *jsonLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.write(LevelDebug, msg, fields)
}

func (l *jsonLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.write(LevelInfo, msg, fields)
}

func (l *jsonLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.write(LevelWarn, msg, fields)
}

func (l *jsonLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.write(LevelError, msg, fields)
}

func (l *jsonLogger) write(level LogLevel, msg string, fields []Field) {
	if level < l.level {
		return
	}

	entry := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"level":     level.String(),
		"msg":       msg,
	}
	for _, f := range l.event {
		entry[f.Key] = f.Value
	}
	for _, f := range fields {
		entry[f.Key] = renderValue(f)
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(entry); err != nil {
		return
	}
	l.out.write(buf.Bytes())
}

// renderValue redacts credential-bearing keys and flattens values that do
// not marshal usefully.
func renderValue(f Field) any {
	if slices.Contains(RedactedFields, strings.ToLower(f.Key)) {
		return "[REDACTED]"
	}
	switch v := f.Value.(type) {
	case error:
		if v != nil {
			return v.Error()
		}
	case time.Duration:
		return v.String()
	}
	return f.Value
}

var _ Logger = (*jsonLogger)(nil)

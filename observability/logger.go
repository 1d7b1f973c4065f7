// Package observability provides logging, metrics and tracing for the prefetcher.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/willibrandon/mtlog"
	"github.com/willibrandon/mtlog/core"
	"github.com/willibrandon/mtlog/sinks"
)

// Logger is the structured logger used across the prefetcher.
// Messages are mtlog message templates ("Fetching {Url}").
type Logger interface {
	Verbose(messageTemplate string, args ...any)
	VerboseContext(ctx context.Context, messageTemplate string, args ...any)

	Debug(messageTemplate string, args ...any)
	DebugContext(ctx context.Context, messageTemplate string, args ...any)

	Info(messageTemplate string, args ...any)
	InfoContext(ctx context.Context, messageTemplate string, args ...any)

	Warn(messageTemplate string, args ...any)
	WarnContext(ctx context.Context, messageTemplate string, args ...any)

	Error(messageTemplate string, args ...any)
	ErrorContext(ctx context.Context, messageTemplate string, args ...any)

	// ForContext creates a child logger carrying an extra property
	ForContext(key string, value any) Logger
}

type mtlogAdapter struct {
	logger core.Logger
}

// NewLogger creates a console logger writing to output at the given minimum level.
func NewLogger(output io.Writer, level LogLevel) Logger {
	opts := []mtlog.Option{
		mtlog.WithSink(sinks.NewConsoleSinkWithWriter(output)),
		mtlog.WithTimestamp(),
	}

	switch level {
	case VerboseLevel:
		opts = append(opts, mtlog.Verbose())
	case DebugLevel:
		opts = append(opts, mtlog.Debug())
	case InfoLevel:
		opts = append(opts, mtlog.Information())
	case WarnLevel:
		opts = append(opts, mtlog.Warning())
	case ErrorLevel:
		opts = append(opts, mtlog.Error())
	}

	return &mtlogAdapter{logger: mtlog.New(opts...)}
}

// NewDefaultLogger logs Info and above to stderr.
func NewDefaultLogger() Logger {
	return NewLogger(os.Stderr, InfoLevel)
}

func (a *mtlogAdapter) Verbose(messageTemplate string, args ...any) {
	a.logger.Verbose(messageTemplate, args...)
}

func (a *mtlogAdapter) VerboseContext(ctx context.Context, messageTemplate string, args ...any) {
	a.logger.VerboseContext(ctx, messageTemplate, args...)
}

func (a *mtlogAdapter) Debug(messageTemplate string, args ...any) {
	a.logger.Debug(messageTemplate, args...)
}

func (a *mtlogAdapter) DebugContext(ctx context.Context, messageTemplate string, args ...any) {
	a.logger.DebugContext(ctx, messageTemplate, args...)
}

func (a *mtlogAdapter) Info(messageTemplate string, args ...any) {
	a.logger.Info(messageTemplate, args...)
}

func (a *mtlogAdapter) InfoContext(ctx context.Context, messageTemplate string, args ...any) {
	a.logger.InfoContext(ctx, messageTemplate, args...)
}

func (a *mtlogAdapter) Warn(messageTemplate string, args ...any) {
	a.logger.Warn(messageTemplate, args...)
}

func (a *mtlogAdapter) WarnContext(ctx context.Context, messageTemplate string, args ...any) {
	a.logger.WarnContext(ctx, messageTemplate, args...)
}

func (a *mtlogAdapter) Error(messageTemplate string, args ...any) {
	a.logger.Error(messageTemplate, args...)
}

func (a *mtlogAdapter) ErrorContext(ctx context.Context, messageTemplate string, args ...any) {
	a.logger.ErrorContext(ctx, messageTemplate, args...)
}

func (a *mtlogAdapter) ForContext(key string, value any) Logger {
	return &mtlogAdapter{logger: a.logger.ForContext(key, value)}
}

// LogLevel represents log verbosity level
type LogLevel int

const (
	VerboseLevel LogLevel = iota
	DebugLevel
	InfoLevel
	WarnLevel
	ErrorLevel
)

// ParseLevel maps a CLI verbosity name to a LogLevel.
// Unknown names fall back to InfoLevel.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "q", "quiet", "error":
		return ErrorLevel
	case "warn", "warning", "minimal", "m":
		return WarnLevel
	case "d", "detailed", "debug", "-vv":
		return DebugLevel
	case "diag", "diagnostic", "verbose", "-vvv":
		return VerboseLevel
	default:
		return InfoLevel
	}
}

type nullLogger struct{}

// NewNullLogger creates a logger that discards all output
func NewNullLogger() Logger {
	return &nullLogger{}
}

func (n *nullLogger) Verbose(string, ...any)                         {}
func (n *nullLogger) VerboseContext(context.Context, string, ...any) {}
func (n *nullLogger) Debug(string, ...any)                           {}
func (n *nullLogger) DebugContext(context.Context, string, ...any)   {}
func (n *nullLogger) Info(string, ...any)                            {}
func (n *nullLogger) InfoContext(context.Context, string, ...any)    {}
func (n *nullLogger) Warn(string, ...any)                            {}
func (n *nullLogger) WarnContext(context.Context, string, ...any)    {}
func (n *nullLogger) Error(string, ...any)                           {}
func (n *nullLogger) ErrorContext(context.Context, string, ...any)   {}
func (n *nullLogger) ForContext(string, any) Logger                  { return n }

// Entry is one call captured by a RecordingLogger.
type Entry struct {
	Level    LogLevel
	Template string
	Args     []any
	Message  string
}

// RecordingLogger keeps every log call in memory. Tests use it to assert on
// what was logged without parsing console output.
type RecordingLogger struct {
	store *recordingStore
}

type recordingStore struct {
	mu      sync.Mutex
	entries []Entry
}

// NewRecordingLogger creates an empty RecordingLogger.
func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{store: &recordingStore{}}
}

// Entries returns a copy of the captured entries.
func (r *RecordingLogger) Entries() []Entry {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]Entry, len(r.store.entries))
	copy(out, r.store.entries)
	return out
}

// Messages returns the rendered messages logged at the given level.
func (r *RecordingLogger) Messages(level LogLevel) []string {
	var out []string
	for _, e := range r.Entries() {
		if e.Level == level {
			out = append(out, e.Message)
		}
	}
	return out
}

func (r *RecordingLogger) record(level LogLevel, tmpl string, args []any) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.entries = append(r.store.entries, Entry{
		Level:    level,
		Template: tmpl,
		Args:     args,
		Message:  RenderTemplate(tmpl, args...),
	})
}

func (r *RecordingLogger) Verbose(t string, a ...any) { r.record(VerboseLevel, t, a) }
func (r *RecordingLogger) VerboseContext(_ context.Context, t string, a ...any) {
	r.record(VerboseLevel, t, a)
}
func (r *RecordingLogger) Debug(t string, a ...any) { r.record(DebugLevel, t, a) }
func (r *RecordingLogger) DebugContext(_ context.Context, t string, a ...any) {
	r.record(DebugLevel, t, a)
}
func (r *RecordingLogger) Info(t string, a ...any) { r.record(InfoLevel, t, a) }
func (r *RecordingLogger) InfoContext(_ context.Context, t string, a ...any) {
	r.record(InfoLevel, t, a)
}
func (r *RecordingLogger) Warn(t string, a ...any) { r.record(WarnLevel, t, a) }
func (r *RecordingLogger) WarnContext(_ context.Context, t string, a ...any) {
	r.record(WarnLevel, t, a)
}
func (r *RecordingLogger) Error(t string, a ...any) { r.record(ErrorLevel, t, a) }
func (r *RecordingLogger) ErrorContext(_ context.Context, t string, a ...any) {
	r.record(ErrorLevel, t, a)
}

// ForContext shares the entry list with the parent.
func (r *RecordingLogger) ForContext(string, any) Logger {
	return r
}

// RenderTemplate substitutes {Property} holes in order with args.
// Holes without a matching argument are left as written.
func RenderTemplate(tmpl string, args ...any) string {
	var b strings.Builder
	next := 0
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] == '{' {
			if end := strings.IndexByte(tmpl[i:], '}'); end > 0 && next < len(args) {
				b.WriteString(fmt.Sprint(args[next]))
				next++
				i += end
				continue
			}
		}
		b.WriteByte(tmpl[i])
	}
	return b.String()
}

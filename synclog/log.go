// Package synclog is the structured logger used throughout the
// synchronization core. It mirrors the teacher's log package: a thin
// wrapper over log/slog with a colorized terminal handler for
// interactive use, level-gated output, and call-site attribution on
// errors and above.
package synclog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Level mirrors slog.Level with names matching the teacher's log
// package rather than Go's generic Debug/Info/Warn/Error set.
type Level = slog.Level

const (
	LevelTrace Level = slog.Level(-8)
	LevelDebug Level = slog.LevelDebug
	LevelInfo  Level = slog.LevelInfo
	LevelWarn  Level = slog.LevelWarn
	LevelError Level = slog.LevelError
	LevelCrit  Level = slog.Level(12)
)

// Logger is the interface every component in the module logs through.
type Logger interface {
	Trace(msg string, ctx ...any)
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	Crit(msg string, ctx ...any)
	With(ctx ...any) Logger
}

type logger struct {
	h    *terminalHandler
	attr []any
}

// New creates a Logger that prefixes every record with ctx key/value
// pairs, writing to the process-wide default handler.
func New(ctx ...any) Logger {
	mu.RLock()
	defer mu.RUnlock()
	return &logger{h: defaultHandler, attr: ctx}
}

func (l *logger) write(level Level, msg string, ctx []any) {
	all := make([]any, 0, len(l.attr)+len(ctx))
	all = append(all, l.attr...)
	all = append(all, ctx...)
	l.h.log(level, msg, all)
}

func (l *logger) Trace(msg string, ctx ...any) { l.write(LevelTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...any) { l.write(LevelDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...any)  { l.write(LevelInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...any)  { l.write(LevelWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...any) { l.write(LevelError, msg, ctx) }
func (l *logger) Crit(msg string, ctx ...any)  { l.write(LevelCrit, msg, ctx) }

func (l *logger) With(ctx ...any) Logger {
	all := make([]any, 0, len(l.attr)+len(ctx))
	all = append(all, l.attr...)
	all = append(all, ctx...)
	return &logger{h: l.h, attr: all}
}

var (
	mu             sync.RWMutex
	defaultHandler = newTerminalHandler(os.Stderr, LevelInfo)
)

// SetLevel adjusts the process-wide verbosity threshold.
func SetLevel(lvl Level) {
	mu.Lock()
	defer mu.Unlock()
	defaultHandler.level = lvl
}

// SetOutput redirects the process-wide log output, re-detecting color
// support for the new writer. Loggers created by New before the call
// keep writing to the previous output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	defaultHandler = newTerminalHandler(w, defaultHandler.level)
}

type terminalHandler struct {
	mu      sync.Mutex
	out     io.Writer
	level   Level
	useColor bool
}

func newTerminalHandler(w io.Writer, level Level) *terminalHandler {
	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd())
		w = colorable.NewColorable(f)
	}
	return &terminalHandler{out: w, level: level, useColor: useColor}
}

var levelNames = map[Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelCrit:  "CRIT",
}

var levelColor = map[Level]color.Attribute{
	LevelTrace: color.FgHiBlack,
	LevelDebug: color.FgBlue,
	LevelInfo:  color.FgGreen,
	LevelWarn:  color.FgYellow,
	LevelError: color.FgRed,
	LevelCrit:  color.FgMagenta,
}

func (h *terminalHandler) log(level Level, msg string, ctx []any) {
	if level < h.level {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	name := levelNames[level]
	ts := time.Now().Format("01-02|15:04:05.000")

	var b strings.Builder
	if h.useColor {
		b.WriteString(color.New(levelColor[level]).Sprintf("%-5s", name))
	} else {
		fmt.Fprintf(&b, "%-5s", name)
	}
	fmt.Fprintf(&b, " [%s] %s", ts, msg)

	for i := 0; i+1 < len(ctx); i += 2 {
		fmt.Fprintf(&b, " %v=%v", ctx[i], ctx[i+1])
	}
	if (level == LevelError || level == LevelCrit) {
		if call, ok := callerFrame(); ok {
			fmt.Fprintf(&b, " caller=%s", call)
		}
	}
	b.WriteString("\n")
	io.WriteString(h.out, b.String())
}

func callerFrame() (string, bool) {
	cs := stack.Trace().TrimRuntime()
	for _, c := range cs {
		f := fmt.Sprintf("%+v", c)
		if !strings.Contains(f, "synclog") {
			return f, true
		}
	}
	return "", false
}

// Root returns the package-level default logger, for call sites that
// do not carry their own context fields.
func Root() Logger { return New() }

// ParseLevel maps a config/flag string onto a Level, defaulting to
// LevelInfo for anything unrecognized.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "crit", "critical":
		return LevelCrit
	default:
		return LevelInfo
	}
}

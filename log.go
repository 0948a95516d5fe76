package mssql

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is a logging severity level.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelOff
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelOff:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// Category identifies the area of the client a log entry comes from.
type Category string

const (
	CategoryConnection Category = "connection" // dial, handshake, TLS, login
	CategoryExecution  Category = "execution"  // query/execute/call/script
	CategoryPool       Category = "pool"       // borrow/release/validation/reaper
)

// Format specifies the output encoding.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Entry is one log record.
type Entry struct {
	Time     time.Time              `json:"time"`
	Level    Level                  `json:"level"`
	Category Category               `json:"category"`
	Message  string                 `json:"message"`
	Fields   map[string]interface{} `json:"fields,omitempty"`
	ErrorStr string                 `json:"error,omitempty"`
}

// Logger is a small structured logger, grounded on the teacher's own
// pkg/log.Logger but scoped to this module's three categories instead
// of its five.
type Logger struct {
	mu       sync.RWMutex
	levels   map[Category]Level
	output   io.Writer
	format   Format
	minLevel Level
}

// LogConfig configures a Logger. Loading these values from files/env is
// an explicit external-collaborator concern; this only holds
// already-resolved settings.
type LogConfig struct {
	DefaultLevel   Level
	CategoryLevels map[Category]Level
	Output         io.Writer
	Format         Format
}

// DefaultLogConfig returns sensible defaults: Info level, text format,
// stderr output.
func DefaultLogConfig() LogConfig {
	return LogConfig{DefaultLevel: LevelInfo, Output: os.Stderr, Format: FormatText}
}

// NewLogger creates a Logger from cfg.
func NewLogger(cfg LogConfig) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	l := &Logger{
		levels:   make(map[Category]Level),
		output:   cfg.Output,
		format:   cfg.Format,
		minLevel: cfg.DefaultLevel,
	}
	for _, cat := range []Category{CategoryConnection, CategoryExecution, CategoryPool} {
		l.levels[cat] = cfg.DefaultLevel
	}
	for cat, lvl := range cfg.CategoryLevels {
		l.levels[cat] = lvl
	}
	return l
}

// NopLogger returns a Logger that discards everything, used as the
// zero-config default so callers never need a nil check.
func NopLogger() *Logger {
	return NewLogger(LogConfig{DefaultLevel: LevelOff, Output: io.Discard})
}

// SetLevel sets the level for one category.
func (l *Logger) SetLevel(cat Category, level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.levels[cat] = level
}

func (l *Logger) log(level Level, cat Category, msg string, err error, fields ...interface{}) {
	l.mu.RLock()
	catLevel := l.levels[cat]
	output := l.output
	format := l.format
	l.mu.RUnlock()

	if level < catLevel {
		return
	}

	entry := &Entry{Time: time.Now(), Level: level, Category: cat, Message: msg}
	if err != nil {
		entry.ErrorStr = err.Error()
	}
	if len(fields) > 0 {
		entry.Fields = make(map[string]interface{}, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			if key, ok := fields[i].(string); ok {
				entry.Fields[key] = fields[i+1]
			}
		}
	}

	var line string
	switch format {
	case FormatJSON:
		data, _ := json.Marshal(entry)
		line = string(data) + "\n"
	default:
		line = formatText(entry)
	}
	output.Write([]byte(line))
}

func formatText(e *Entry) string {
	var buf strings.Builder
	buf.WriteString(e.Time.Format("2006-01-02 15:04:05.000"))
	buf.WriteString(" ")
	buf.WriteString(fmt.Sprintf("%-5s", e.Level.String()))
	buf.WriteString(" [")
	buf.WriteString(string(e.Category))
	buf.WriteString("] ")
	buf.WriteString(e.Message)
	if e.ErrorStr != "" {
		buf.WriteString(": ")
		buf.WriteString(e.ErrorStr)
	}
	for k, v := range e.Fields {
		fmt.Fprintf(&buf, " %s=%v", k, v)
	}
	buf.WriteString("\n")
	return buf.String()
}

// Debug/Info/Warn/Error log at the given category.
func (l *Logger) Debug(cat Category, msg string, fields ...interface{}) {
	l.log(LevelDebug, cat, msg, nil, fields...)
}
func (l *Logger) Info(cat Category, msg string, fields ...interface{}) {
	l.log(LevelInfo, cat, msg, nil, fields...)
}
func (l *Logger) Warn(cat Category, msg string, fields ...interface{}) {
	l.log(LevelWarn, cat, msg, nil, fields...)
}
func (l *Logger) Error(cat Category, msg string, err error, fields ...interface{}) {
	l.log(LevelError, cat, msg, err, fields...)
}

// CategoryLogger is a Logger bound to one category, so callers don't
// repeat the category at every call site.
type CategoryLogger struct {
	logger *Logger
	cat    Category
}

func (l *Logger) Connection() *CategoryLogger { return &CategoryLogger{l, CategoryConnection} }
func (l *Logger) Execution() *CategoryLogger  { return &CategoryLogger{l, CategoryExecution} }
func (l *Logger) Pool() *CategoryLogger       { return &CategoryLogger{l, CategoryPool} }

func (c *CategoryLogger) Debug(msg string, fields ...interface{}) { c.logger.Debug(c.cat, msg, fields...) }
func (c *CategoryLogger) Info(msg string, fields ...interface{})  { c.logger.Info(c.cat, msg, fields...) }
func (c *CategoryLogger) Warn(msg string, fields ...interface{})  { c.logger.Warn(c.cat, msg, fields...) }
func (c *CategoryLogger) Error(msg string, err error, fields ...interface{}) {
	c.logger.Error(c.cat, msg, err, fields...)
}

// Package telemetry provides the structured logger used across the host
// runtime. It deliberately has no third-party dependency: components,
// supervisors, and the host manager all log through this type the same way
// the reference runtime does.
package telemetry

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
	Fatal
)

var levelNames = map[Level]string{
	Debug: "DEBUG",
	Info:  "INFO",
	Warn:  "WARN",
	Error: "ERROR",
	Fatal: "FATAL",
}

var levelColors = map[Level]string{
	Debug: "\033[36m",
	Info:  "\033[32m",
	Warn:  "\033[33m",
	Error: "\033[31m",
	Fatal: "\033[35m",
}

const colorReset = "\033[0m"

// Logger is a minimal structured logger: component name, level, key/value
// fields. Safe for concurrent use.
type Logger struct {
	mu         sync.Mutex
	level      Level
	component  string
	output     io.Writer
	colorize   bool
	showCaller bool
	timeFormat string
}

// Config configures a Logger.
type Config struct {
	Level      Level
	Component  string
	Output     io.Writer
	Colorize   bool
	ShowCaller bool
	TimeFormat string
}

// New creates a Logger from Config, filling in defaults.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = "15:04:05.000"
	}
	return &Logger{
		level:      cfg.Level,
		component:  cfg.Component,
		output:     cfg.Output,
		colorize:   cfg.Colorize,
		showCaller: cfg.ShowCaller,
		timeFormat: cfg.TimeFormat,
	}
}

// Default returns a logger with sensible defaults for the given component.
func Default(component string) *Logger {
	return New(Config{
		Level:     Info,
		Component: component,
		Output:    os.Stdout,
		Colorize:  true,
	})
}

// With returns a derived logger scoped to a sub-component name.
func (l *Logger) With(component string) *Logger {
	name := component
	if l.component != "" {
		name = l.component + "." + component
	}
	return &Logger{
		level:      l.level,
		component:  name,
		output:     l.output,
		colorize:   l.colorize,
		showCaller: l.showCaller,
		timeFormat: l.timeFormat,
	}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(Debug, msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(Info, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(Warn, msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(Error, msg, fields...) }

// Fatal logs at Fatal and exits the process.
func (l *Logger) Fatal(msg string, fields ...Field) {
	l.log(Fatal, msg, fields...)
	os.Exit(1)
}

func (l *Logger) log(level Level, msg string, fields ...Field) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	var b strings.Builder
	if l.colorize {
		b.WriteString(levelColors[level])
	}
	b.WriteString("[")
	b.WriteString(time.Now().Format(l.timeFormat))
	b.WriteString("] [")
	b.WriteString(fmt.Sprintf("%-5s", levelNames[level]))
	b.WriteString("] ")
	if l.component != "" {
		b.WriteString("[")
		b.WriteString(l.component)
		b.WriteString("] ")
	}
	b.WriteString(msg)
	for _, f := range fields {
		b.WriteString(" ")
		b.WriteString(f.Key)
		b.WriteString("=")
		b.WriteString(f.format())
	}
	if l.showCaller {
		if _, file, line, ok := runtime.Caller(2); ok {
			parts := strings.Split(file, "/")
			b.WriteString(fmt.Sprintf(" (%s:%d)", parts[len(parts)-1], line))
		}
	}
	if l.colorize {
		b.WriteString(colorReset)
	}
	b.WriteString("\n")
	l.output.Write([]byte(b.String()))
}

// Field is a structured key/value pair attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

func (f Field) format() string {
	switch v := f.Value.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case error:
		return fmt.Sprintf("%q", v.Error())
	case time.Duration:
		return v.String()
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func String(key, value string) Field                 { return Field{key, value} }
func Int(key string, value int) Field                { return Field{key, value} }
func Int64(key string, value int64) Field            { return Field{key, value} }
func Uint64(key string, value uint64) Field          { return Field{key, value} }
func Float64(key string, value float64) Field        { return Field{key, value} }
func Bool(key string, value bool) Field              { return Field{key, value} }
func Err(err error) Field                            { return Field{"error", err} }
func Duration(key string, value time.Duration) Field { return Field{key, value} }
func Any(key string, value interface{}) Field        { return Field{key, value} }

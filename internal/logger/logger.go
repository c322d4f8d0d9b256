// Package logger provides structured, service-aware logging on top of logrus.
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Logger is the logging abstraction used across flotilla.
type Logger interface {
	Debug(message string, fields ...Field)
	Info(message string, fields ...Field)
	Warn(message string, fields ...Field)
	Error(message string, fields ...Field)

	// With returns a logger that attaches fields to every entry.
	With(fields ...Field) Logger

	// WithService returns a logger whose entries are prefixed with the
	// service name.
	WithService(service string) Logger
}

// Field is a structured logging field.
type Field struct {
	Key   string
	Value interface{}
}

// F creates a new field.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// serviceKey is the entry data key rendered as the bracketed prefix.
const serviceKey = "service"

// Options configures New.
type Options struct {
	// Level is a logrus level name. Unknown names fall back to info.
	Level string

	// File, when set, receives a copy of every entry.
	File string

	// Output defaults to os.Stderr.
	Output io.Writer

	// DisableColors turns colour codes off. Colours are also off when
	// Output is not a terminal (fatih/color checks this globally).
	DisableColors bool
}

type serviceLogger struct {
	entry *logrus.Entry
}

// New creates a logger. The returned closer releases the log file, if any.
func New(opts Options) (Logger, io.Closer, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	log.SetFormatter(&Formatter{
		TimestampFormat: "15:04:05",
		DisableColors:   opts.DisableColors || color.NoColor,
	})

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %q: %w", opts.File, err)
		}
		out = io.MultiWriter(out, file)
		closer = file
	}
	log.SetOutput(out)

	return &serviceLogger{entry: logrus.NewEntry(log)}, closer, nil
}

// NewWithOutput creates an uncoloured logger writing to output (for testing).
func NewWithOutput(output io.Writer, level string) Logger {
	l, _, _ := New(Options{Level: level, Output: output, DisableColors: true})
	return l
}

// Discard returns a logger that drops everything.
func Discard() Logger {
	return NewWithOutput(io.Discard, "panic")
}

func (l *serviceLogger) Debug(message string, fields ...Field) {
	l.entry.WithFields(convert(fields)).Debug(message)
}

func (l *serviceLogger) Info(message string, fields ...Field) {
	l.entry.WithFields(convert(fields)).Info(message)
}

func (l *serviceLogger) Warn(message string, fields ...Field) {
	l.entry.WithFields(convert(fields)).Warn(message)
}

func (l *serviceLogger) Error(message string, fields ...Field) {
	l.entry.WithFields(convert(fields)).Error(message)
}

func (l *serviceLogger) With(fields ...Field) Logger {
	return &serviceLogger{entry: l.entry.WithFields(convert(fields))}
}

func (l *serviceLogger) WithService(service string) Logger {
	return &serviceLogger{entry: l.entry.WithField(serviceKey, service)}
}

func convert(fields []Field) logrus.Fields {
	result := make(logrus.Fields, len(fields))
	for _, f := range fields {
		result[f.Key] = f.Value
	}
	return result
}

// Formatter renders "[15:04:05] LEVEL [service] message {k=v, ...}".
// Fields are printed in key order so output is stable.
type Formatter struct {
	TimestampFormat string
	DisableColors   bool
}

// Format implements logrus.Formatter.
func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	var levelColor *color.Color
	var levelText string

	switch entry.Level {
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		levelColor = color.New(color.FgRed, color.Bold)
		levelText = "ERROR"
	case logrus.WarnLevel:
		levelColor = color.New(color.FgYellow, color.Bold)
		levelText = "WARN"
	case logrus.InfoLevel:
		levelColor = color.New(color.FgCyan)
		levelText = "INFO"
	default:
		levelColor = color.New(color.FgWhite, color.Faint)
		levelText = "DEBUG"
	}

	paint := func(c *color.Color, s string) string {
		if f.DisableColors {
			return s
		}
		return c.Sprint(s)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s ", entry.Time.Format(f.TimestampFormat), paint(levelColor, fmt.Sprintf("%-5s", levelText)))

	if service, ok := entry.Data[serviceKey]; ok {
		fmt.Fprintf(&b, "[%s] ", paint(color.New(color.FgBlue), fmt.Sprint(service)))
	}
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k != serviceKey {
			keys = append(keys, k)
		}
	}
	if len(keys) > 0 {
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%v", k, entry.Data[k])
		}
		b.WriteString(" ")
		b.WriteString(paint(color.New(color.FgWhite, color.Faint), "{"+strings.Join(parts, ", ")+"}"))
	}

	b.WriteByte('\n')
	return []byte(b.String()), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

package logger

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Fields map[string]any

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
	CRITICAL
)

var levelNames = map[LogLevel]string{
	DEBUG:    "DEBUG",
	INFO:     "INFO",
	WARNING:  "WARNING",
	ERROR:    "ERROR",
	CRITICAL: "CRITICAL",
}

type Logger struct {
	mu      sync.RWMutex
	level   LogLevel
	out     *log.Logger
	service string
	closer  io.Closer
}

// New writes to w only.
func New(w io.Writer, service, level string) *Logger {
	return &Logger{
		level:   ParseLevel(level),
		out:     log.New(w, "", log.LstdFlags),
		service: service,
	}
}

// NewWithFile writes to stdout and to a rotating app.log under logDir.
func NewWithFile(logDir, service, level string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	fileWriter := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "app.log"),
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}

	l := New(io.MultiWriter(os.Stdout, fileWriter), service, level)
	l.closer = fileWriter
	return l, nil
}

func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	l.level = ParseLevel(level)
	l.mu.Unlock()
}

type ctxKey struct{}

// WithRequestID stores the request id picked up by WithFields entries.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (l *Logger) logWithFields(level LogLevel, ctx context.Context, msg string, fields Fields) {
	l.mu.RLock()
	currentLevel := l.level
	service := l.service
	l.mu.RUnlock()

	if level < currentLevel {
		return
	}

	prefix := fmt.Sprintf("[%s]", levelNames[level])
	if service != "" {
		prefix = fmt.Sprintf("[%s] [%s]", levelNames[level], service)
	}

	var fieldParts []string
	if id := RequestID(ctx); id != "" {
		fieldParts = append(fieldParts, "request_id="+id)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fieldParts = append(fieldParts, fmt.Sprintf("%s=%v", k, fields[k]))
	}

	if len(fieldParts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(fieldParts, " "))
	}

	_, file, line, ok := runtime.Caller(2)
	if !ok {
		file = "unknown"
	} else {
		file = filepath.Base(file)
	}

	l.out.Output(0, fmt.Sprintf("%s %s:%d %s", prefix, file, line, msg))
}

func (l *Logger) Debug(msg string)    { l.logWithFields(DEBUG, nil, msg, nil) }
func (l *Logger) Info(msg string)     { l.logWithFields(INFO, nil, msg, nil) }
func (l *Logger) Warn(msg string)     { l.logWithFields(WARNING, nil, msg, nil) }
func (l *Logger) Error(msg string)    { l.logWithFields(ERROR, nil, msg, nil) }
func (l *Logger) Critical(msg string) { l.logWithFields(CRITICAL, nil, msg, nil) }

func (l *Logger) Debugf(format string, args ...any) {
	l.logWithFields(DEBUG, nil, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Infof(format string, args ...any) {
	l.logWithFields(INFO, nil, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.logWithFields(WARNING, nil, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.logWithFields(ERROR, nil, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Criticalf(format string, args ...any) {
	l.logWithFields(CRITICAL, nil, fmt.Sprintf(format, args...), nil)
}

// Printf and Fatalf let the logger back goose's migration output.
func (l *Logger) Printf(format string, args ...any) {
	l.logWithFields(INFO, nil, strings.TrimSuffix(fmt.Sprintf(format, args...), "\n"), nil)
}

func (l *Logger) Fatalf(format string, args ...any) {
	l.logWithFields(CRITICAL, nil, fmt.Sprintf(format, args...), nil)
	os.Exit(1)
}

func (l *Logger) WithFields(ctx context.Context, fields Fields) *Entry {
	return &Entry{logger: l, ctx: ctx, fields: fields}
}

type Entry struct {
	logger *Logger
	ctx    context.Context
	fields Fields
}

func (e *Entry) Debug(msg string) { e.logger.logWithFields(DEBUG, e.ctx, msg, e.fields) }
func (e *Entry) Info(msg string)  { e.logger.logWithFields(INFO, e.ctx, msg, e.fields) }
func (e *Entry) Warn(msg string)  { e.logger.logWithFields(WARNING, e.ctx, msg, e.fields) }
func (e *Entry) Error(msg string) { e.logger.logWithFields(ERROR, e.ctx, msg, e.fields) }

func (e *Entry) Infof(format string, args ...any) {
	e.logger.logWithFields(INFO, e.ctx, fmt.Sprintf(format, args...), e.fields)
}

func (e *Entry) Warnf(format string, args ...any) {
	e.logger.logWithFields(WARNING, e.ctx, fmt.Sprintf(format, args...), e.fields)
}

func (e *Entry) Errorf(format string, args ...any) {
	e.logger.logWithFields(ERROR, e.ctx, fmt.Sprintf(format, args...), e.fields)
}

func (e *Entry) Criticalf(format string, args ...any) {
	e.logger.logWithFields(CRITICAL, e.ctx, fmt.Sprintf(format, args...), e.fields)
}

func ParseLevel(value string) LogLevel {
	switch strings.TrimSpace(strings.ToUpper(value)) {
	case "DEBUG":
		return DEBUG
	case "WARNING", "WARN":
		return WARNING
	case "ERROR":
		return ERROR
	case "CRITICAL":
		return CRITICAL
	default:
		return INFO
	}
}

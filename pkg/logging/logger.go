package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"
)

// EnvLevel names the variable read by DefaultLogger
const EnvLevel = "LOG_LEVEL"

// NewJSONLogger creates a logger writing to w at the given level
func NewJSONLogger(w io.Writer, level Level, opts ...Option) *JSONLogger {
	s := &sink{w: w, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	l := &JSONLogger{out: s}
	l.level.Store(int32(level))
	return l
}

// NewDefaultLogger creates an INFO logger on stderr, leaving stdout to command output
func NewDefaultLogger() *JSONLogger {
	return NewJSONLogger(os.Stderr, InfoLevel)
}

func (l *JSONLogger) enabled(level Level) bool {
	return level >= Level(l.level.Load())
}

func (l *JSONLogger) log(level Level, msg string, fields []Field) {
	if !l.enabled(level) {
		return
	}

	entry := LogEntry{
		Time:    l.out.now().UTC().Format(time.RFC3339Nano),
		Level:   level.String(),
		Message: msg,
	}
	if n := len(l.fields) + len(fields); n > 0 {
		entry.Fields = make(map[string]any, n)
		for _, f := range l.fields {
			entry.Fields[f.Key] = f.Value
		}
		// call-site fields shadow preset ones
		for _, f := range fields {
			entry.Fields[f.Key] = f.Value
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		data = fmt.Appendf(nil, `{"level":"ERROR","msg":"unencodable log entry","error":%q}`, err.Error())
	}
	data = append(data, '\n')

	l.out.mu.Lock()
	l.out.w.Write(data)
	l.out.mu.Unlock()
}

func (l *JSONLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields) }
func (l *JSONLogger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields) }
func (l *JSONLogger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields) }
func (l *JSONLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields) }

// With returns a child sharing the parent's writer. The child's level starts
// at the parent's and is adjusted independently afterwards.
func (l *JSONLogger) With(fields ...Field) Logger {
	child := &JSONLogger{
		out:    l.out,
		fields: append(l.fields[:len(l.fields):len(l.fields)], fields...),
	}
	child.level.Store(l.level.Load())
	return child
}

func (l *JSONLogger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

func (l *JSONLogger) GetLevel() Level {
	return Level(l.level.Load())
}

type loggerHolder struct{ Logger }

var defaultLogger atomic.Pointer[loggerHolder]

// DefaultLogger returns the process-wide logger, creating a stderr logger at
// the level named by LOG_LEVEL on first use
func DefaultLogger() Logger {
	if h := defaultLogger.Load(); h != nil {
		return h.Logger
	}
	l := NewDefaultLogger()
	if env := os.Getenv(EnvLevel); env != "" {
		l.SetLevel(ParseLevel(env))
	}
	fresh := &loggerHolder{l}
	if defaultLogger.CompareAndSwap(nil, fresh) {
		return fresh.Logger
	}
	return defaultLogger.Load().Logger
}

// SetDefaultLogger replaces the process-wide logger
func SetDefaultLogger(logger Logger) {
	defaultLogger.Store(&loggerHolder{logger})
}

func Debug(msg string, fields ...Field) { DefaultLogger().Debug(msg, fields...) }
func Info(msg string, fields ...Field)  { DefaultLogger().Info(msg, fields...) }
func Warn(msg string, fields ...Field)  { DefaultLogger().Warn(msg, fields...) }

// ErrorLog logs at ERROR on the default logger. Error is taken by the field constructor.
func ErrorLog(msg string, fields ...Field) { DefaultLogger().Error(msg, fields...) }

func With(fields ...Field) Logger {
	return DefaultLogger().With(fields...)
}

// StartTimer begins timing an operation
func StartTimer(logger Logger, msg string, fields ...Field) *TimedOperation {
	return &TimedOperation{
		logger: logger,
		msg:    msg,
		start:  time.Now(),
		fields: fields,
	}
}

func (t *TimedOperation) finish(extra ...Field) ([]Field, time.Duration) {
	elapsed := time.Since(t.start)
	fields := make([]Field, 0, len(t.fields)+1+len(extra))
	fields = append(fields, t.fields...)
	fields = append(fields, Latency(elapsed))
	return append(fields, extra...), elapsed
}

// End logs at INFO and returns the elapsed time
func (t *TimedOperation) End() time.Duration {
	fields, elapsed := t.finish()
	t.logger.Info(t.msg, fields...)
	return elapsed
}

// EndWithLevel logs msg at level instead of the message given to StartTimer
func (t *TimedOperation) EndWithLevel(level Level, msg string) time.Duration {
	fields, elapsed := t.finish()
	switch level {
	case DebugLevel:
		t.logger.Debug(msg, fields...)
	case WarnLevel:
		t.logger.Warn(msg, fields...)
	case ErrorLevel:
		t.logger.Error(msg, fields...)
	default:
		t.logger.Info(msg, fields...)
	}
	return elapsed
}

// EndSlow logs at WARN with slow=true when the operation took at least
// threshold, and at INFO otherwise
func (t *TimedOperation) EndSlow(threshold time.Duration) time.Duration {
	if time.Since(t.start) < threshold {
		return t.End()
	}
	fields, elapsed := t.finish(Bool("slow", true))
	t.logger.Warn(t.msg, fields...)
	return elapsed
}

// EndError logs at ERROR with err attached
func (t *TimedOperation) EndError(err error) time.Duration {
	fields, elapsed := t.finish(Error(err))
	t.logger.Error(t.msg, fields...)
	return elapsed
}

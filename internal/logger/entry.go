package logger

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Entry carries metric fields for a single log line. Pipeline stages use it
// for aggregatable values (duration_ms, count, size) while request scoped
// identifiers travel on the context logger.
// Example: logger.With(logger.Fields{logger.FieldCount: 4}).Since(start).Info(ctx, "Merged chunks")
type Entry struct {
	logger *Logger
	fields Fields
}

// With creates a new Entry with the given metric fields.
func With(fields Fields) *Entry {
	return &Entry{
		logger: getDefaultLogger(),
		fields: fields,
	}
}

// ForQueue starts an Entry for an overflow queue entry.
func ForQueue(queueID uint) *Entry {
	return With(Fields{FieldComponent: "queue", FieldQueueID: queueID})
}

// ForVideo starts an Entry for a video record.
func ForVideo(videoID uint) *Entry {
	return With(Fields{FieldVideoID: videoID})
}

// With returns a copy of e with fields merged in; e is not modified.
func (e *Entry) With(fields Fields) *Entry {
	merged := make(Fields, len(e.fields)+len(fields))
	for k, v := range e.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Entry{logger: e.logger, fields: merged}
}

// WithField adds a single field to the Entry.
func (e *Entry) WithField(key string, value interface{}) *Entry {
	return e.With(Fields{key: value})
}

// Since records the time elapsed from start as duration_ms.
func (e *Entry) Since(start time.Time) *Entry {
	return e.WithField(FieldDurationMs, time.Since(start).Milliseconds())
}

// WithStage tags the entry with a pipeline stage.
func (e *Entry) WithStage(stage string) *Entry {
	return e.WithField(FieldStage, stage)
}

// WithErr attaches err under logrus' error key. A nil err is ignored.
func (e *Entry) WithErr(err error) *Entry {
	if err == nil {
		return e
	}
	return e.WithField(logrus.ErrorKey, err)
}

func (e *Entry) log(ctx context.Context, level logrus.Level, format string, args ...interface{}) {
	l := e.logger
	if ctx != nil {
		l = FromContext(ctx)
	}
	l.WithFields(e.fields).Logf(level, format, args...)
}

// Debug logs at Debug level.
func (e *Entry) Debug(ctx context.Context, format string, args ...interface{}) {
	e.log(ctx, logrus.DebugLevel, format, args...)
}

// Info logs at Info level.
func (e *Entry) Info(ctx context.Context, format string, args ...interface{}) {
	e.log(ctx, logrus.InfoLevel, format, args...)
}

// Warn logs at Warn level.
func (e *Entry) Warn(ctx context.Context, format string, args ...interface{}) {
	e.log(ctx, logrus.WarnLevel, format, args...)
}

// Error logs at Error level.
func (e *Entry) Error(ctx context.Context, format string, args ...interface{}) {
	e.log(ctx, logrus.ErrorLevel, format, args...)
}

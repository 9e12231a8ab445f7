// Package logging defines the ServiceLogger contract shared by the facade and
// every adapter, plus bridges to slog, Watermill, zap and entry-style loggers.
package logging

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
)

// LogFields represents structured logging key/value pairs.
type LogFields map[string]any

// ServiceLogger is the minimal logging contract required by eventport. It is
// close to Watermill's LoggerAdapter so applications can adapt existing
// loggers without depending on slog.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Warn(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

// EntryLogger is the non-generic form of EntryLoggerAdapter.
type EntryLogger interface {
	EntryLoggerAdapter[EntryLogger]
}

// EntryLoggerAdapter captures what NewEntryServiceLogger needs. logrus.Entry
// satisfies it, as do loggers whose methods return their own concrete type.
type EntryLoggerAdapter[T any] interface {
	Error(args ...any)
	Warn(args ...any)
	Info(args ...any)
	Debug(args ...any)
	Trace(args ...any)
	WithError(err error) T
	WithField(key string, value any) T
}

// LevelTrace sits below slog.LevelDebug.
const LevelTrace = slog.LevelDebug - 4

// NewSlogServiceLogger wraps a slog.Logger.
func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("eventport: slog logger cannot be nil")
	}
	return &slogServiceLogger{log: log}
}

// NewWatermillServiceLogger wraps an existing Watermill LoggerAdapter.
// Watermill has no warn level, so Warn is logged at info with
// severity=warn.
func NewWatermillServiceLogger(logger watermill.LoggerAdapter) ServiceLogger {
	if logger == nil {
		panic("eventport: watermill logger cannot be nil")
	}
	return &watermillServiceLogger{inner: logger}
}

// NewEntryServiceLogger wraps an entry-style logger such as logrus.Entry.
func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	if any(entry) == nil {
		panic("eventport: entry logger cannot be nil")
	}
	return &entryServiceLogger[T]{entry: entry}
}

// Nop returns a logger that discards everything.
func Nop() ServiceLogger { return nopLogger{} }

type slogServiceLogger struct {
	log *slog.Logger
}

func (s *slogServiceLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return s
	}
	return &slogServiceLogger{log: s.log.With(toAttrs(fields)...)}
}

func (s *slogServiceLogger) Debug(msg string, fields LogFields) {
	s.log.Debug(msg, toAttrs(fields)...)
}

func (s *slogServiceLogger) Info(msg string, fields LogFields) {
	s.log.Info(msg, toAttrs(fields)...)
}

func (s *slogServiceLogger) Warn(msg string, fields LogFields) {
	s.log.Warn(msg, toAttrs(fields)...)
}

func (s *slogServiceLogger) Error(msg string, err error, fields LogFields) {
	args := toAttrs(fields)
	if err != nil {
		args = append(args, slog.Any("error", err))
	}
	s.log.Error(msg, args...)
}

func (s *slogServiceLogger) Trace(msg string, fields LogFields) {
	s.log.Log(context.Background(), LevelTrace, msg, toAttrs(fields)...)
}

func toAttrs(fields LogFields) []any {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields))
	for k, v := range fields {
		args = append(args, slog.Any(k, v))
	}
	return args
}

type watermillServiceLogger struct {
	inner watermill.LoggerAdapter
}

func (w *watermillServiceLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return w
	}
	return &watermillServiceLogger{inner: w.inner.With(toWatermillFields(fields))}
}

func (w *watermillServiceLogger) Debug(msg string, fields LogFields) {
	w.inner.Debug(msg, toWatermillFields(fields))
}

func (w *watermillServiceLogger) Info(msg string, fields LogFields) {
	w.inner.Info(msg, toWatermillFields(fields))
}

func (w *watermillServiceLogger) Warn(msg string, fields LogFields) {
	merged := make(watermill.LogFields, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	merged["severity"] = "warn"
	w.inner.Info(msg, merged)
}

func (w *watermillServiceLogger) Error(msg string, err error, fields LogFields) {
	w.inner.Error(msg, err, toWatermillFields(fields))
}

func (w *watermillServiceLogger) Trace(msg string, fields LogFields) {
	w.inner.Trace(msg, toWatermillFields(fields))
}

type entryServiceLogger[T EntryLoggerAdapter[T]] struct {
	entry T
}

func (e *entryServiceLogger[T]) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return e
	}
	return &entryServiceLogger[T]{entry: applyEntryFields(e.entry, fields)}
}

func (e *entryServiceLogger[T]) Debug(msg string, fields LogFields) {
	applyEntryFields(e.entry, fields).Debug(msg)
}

func (e *entryServiceLogger[T]) Info(msg string, fields LogFields) {
	applyEntryFields(e.entry, fields).Info(msg)
}

func (e *entryServiceLogger[T]) Warn(msg string, fields LogFields) {
	applyEntryFields(e.entry, fields).Warn(msg)
}

func (e *entryServiceLogger[T]) Error(msg string, err error, fields LogFields) {
	logger := applyEntryFields(e.entry, fields)
	if err != nil {
		logger = logger.WithError(err)
	}
	logger.Error(msg)
}

func (e *entryServiceLogger[T]) Trace(msg string, fields LogFields) {
	applyEntryFields(e.entry, fields).Trace(msg)
}

func applyEntryFields[T EntryLoggerAdapter[T]](entry T, fields LogFields) T {
	if len(fields) == 0 || any(entry) == nil {
		return entry
	}
	enriched := entry
	for key, value := range fields {
		enriched = enriched.WithField(key, value)
	}
	return enriched
}

type nopLogger struct{}

func (n nopLogger) With(LogFields) ServiceLogger { return n }
func (nopLogger) Debug(string, LogFields)        {}
func (nopLogger) Info(string, LogFields)         {}
func (nopLogger) Warn(string, LogFields)         {}
func (nopLogger) Error(string, error, LogFields) {}
func (nopLogger) Trace(string, LogFields)        {}

type serviceLoggerAdapter struct {
	base ServiceLogger
}

// NewWatermillAdapter converts a ServiceLogger into a Watermill LoggerAdapter
// for the Watermill-based publishers and the in-memory channel.
func NewWatermillAdapter(log ServiceLogger) watermill.LoggerAdapter {
	if log == nil {
		panic("eventport: ServiceLogger cannot be nil")
	}
	return &serviceLoggerAdapter{base: log}
}

func (s *serviceLoggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	s.base.Error(msg, err, fromWatermillFields(fields))
}

func (s *serviceLoggerAdapter) Info(msg string, fields watermill.LogFields) {
	s.base.Info(msg, fromWatermillFields(fields))
}

func (s *serviceLoggerAdapter) Debug(msg string, fields watermill.LogFields) {
	s.base.Debug(msg, fromWatermillFields(fields))
}

func (s *serviceLoggerAdapter) Trace(msg string, fields watermill.LogFields) {
	s.base.Trace(msg, fromWatermillFields(fields))
}

func (s *serviceLoggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &serviceLoggerAdapter{base: s.base.With(fromWatermillFields(fields))}
}

func toWatermillFields(fields LogFields) watermill.LogFields {
	if len(fields) == 0 {
		return nil
	}
	return watermill.LogFields(fields)
}

func fromWatermillFields(fields watermill.LogFields) LogFields {
	if len(fields) == 0 {
		return nil
	}
	return LogFields(fields)
}

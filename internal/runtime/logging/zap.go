package logging

import (
	"go.uber.org/zap"
)

// NewZapServiceLogger wraps a zap.Logger. zap has no trace level, so Trace
// is logged at debug with trace=true.
func NewZapServiceLogger(log *zap.Logger) ServiceLogger {
	if log == nil {
		panic("eventport: zap logger cannot be nil")
	}
	return &zapServiceLogger{log: log}
}

type zapServiceLogger struct {
	log *zap.Logger
}

func (z *zapServiceLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return z
	}
	return &zapServiceLogger{log: z.log.With(toZapFields(fields)...)}
}

func (z *zapServiceLogger) Debug(msg string, fields LogFields) {
	z.log.Debug(msg, toZapFields(fields)...)
}

func (z *zapServiceLogger) Info(msg string, fields LogFields) {
	z.log.Info(msg, toZapFields(fields)...)
}

func (z *zapServiceLogger) Warn(msg string, fields LogFields) {
	z.log.Warn(msg, toZapFields(fields)...)
}

func (z *zapServiceLogger) Error(msg string, err error, fields LogFields) {
	zf := toZapFields(fields)
	if err != nil {
		zf = append(zf, zap.Error(err))
	}
	z.log.Error(msg, zf...)
}

func (z *zapServiceLogger) Trace(msg string, fields LogFields) {
	z.log.Debug(msg, append(toZapFields(fields), zap.Bool("trace", true))...)
}

func toZapFields(fields LogFields) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

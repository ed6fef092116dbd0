package publish

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/GabrielCarpr/eventcore/log"
)

// Logger routes watermill's logging through the log package.
type Logger struct {
	fields watermill.LogFields
}

var _ watermill.LoggerAdapter = Logger{}

func NewLogger() Logger {
	return Logger{}
}

func (l Logger) f(fields watermill.LogFields) log.F {
	out := make(log.F, len(l.fields)+len(fields))
	for k, v := range l.fields {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func (l Logger) Error(msg string, err error, fields watermill.LogFields) {
	f := l.f(fields)
	f["error"] = err
	log.Error(context.Background(), msg, f)
}

func (l Logger) Info(msg string, fields watermill.LogFields) {
	log.Info(context.Background(), msg, l.f(fields))
}

func (l Logger) Debug(msg string, fields watermill.LogFields) {
	log.Debug(context.Background(), msg, l.f(fields))
}

func (l Logger) Trace(msg string, fields watermill.LogFields) {
	log.Debug(context.Background(), msg, l.f(fields))
}

func (l Logger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return Logger{fields: watermill.LogFields(l.f(fields))}
}

package composables

import (
	"context"

	"github.com/sirupsen/logrus"
)

type loggerKey struct{}

func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFromContext returns the logger stored by WithLogger, if any.
func LoggerFromContext(ctx context.Context) (*logrus.Entry, bool) {
	if ctx == nil {
		return nil, false
	}
	switch typed := ctx.Value(loggerKey{}).(type) {
	case *logrus.Entry:
		return typed, typed != nil
	case *logrus.Logger:
		if typed != nil {
			return logrus.NewEntry(typed), true
		}
	}
	return nil, false
}

// UseLogger returns the logger carried by ctx, falling back to the standard logger.
func UseLogger(ctx context.Context) *logrus.Entry {
	if l, ok := LoggerFromContext(ctx); ok {
		return l
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

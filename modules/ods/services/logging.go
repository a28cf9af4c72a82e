package services

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/ods/pkg/composables"
)

// loggerFor prefers the logger carried by ctx, then fallback.
func loggerFor(ctx context.Context, fallback *logrus.Entry) *logrus.Entry {
	if l, ok := composables.LoggerFromContext(ctx); ok {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return composables.UseLogger(ctx)
}

func componentLogger(log *logrus.Entry, component string) *logrus.Entry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return log.WithField("component", component)
}

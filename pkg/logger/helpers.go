package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ForComponent returns the global logger tagged with a component name
func ForComponent(component string) Logger {
	return GetLogger().WithField("component", component)
}

// LogPageCommit logs a committed page of one topic scan
func LogPageCommit(l Logger, topic, account string, page, seen, stored int, cursor string) {
	l.DebugWithFields("Page committed", map[string]interface{}{
		"topic":   topic,
		"account": account,
		"page":    page,
		"seen":    seen,
		"stored":  stored,
		"cursor":  cursor,
	})
}

// LogRateLimit logs a throttled account. Rate limits are expected, so this
// stays at warn and never error.
func LogRateLimit(l Logger, topic, account string, cooldown time.Duration) {
	l.WithFields(map[string]interface{}{
		"topic":    topic,
		"account":  account,
		"cooldown": cooldown,
		"action":   "rate_limited",
	}).Warn("Account rate limited, deferring topic")
}

// LogComponentStart logs when a component starts
func LogComponentStart(l Logger, component string, config map[string]interface{}) {
	l = l.WithField("component", component)
	if len(config) > 0 {
		l = l.WithFields(config)
	}
	l.Info("Component started")
}

// LogComponentStop logs when a component stops
func LogComponentStop(l Logger, component string, reason string) {
	l.WithFields(map[string]interface{}{
		"component": component,
		"reason":    reason,
	}).Info("Component stopped")
}

// LogMetrics logs aggregated counters for an operation
func LogMetrics(l Logger, operation string, metrics map[string]interface{}) {
	fields := map[string]interface{}{
		"operation": operation,
		"type":      "metrics",
	}
	for k, v := range metrics {
		fields[k] = v
	}
	l.InfoWithFields("Run metrics", fields)
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) Fatal(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                     { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger {
	nop := zerolog.Nop()
	return &nop
}

// Package logger provides the structured logging interface used across the
// harvester.
//
// It wraps zerolog behind the Logger interface so components can attach
// fields (topic, account, run_id) without depending on zerolog directly.
// Console output is colourised; when a log file is configured, JSON lines
// are appended to it as well.
//
// Basic Usage:
//
//	if err := logger.Initialize(&cfg.Logging); err != nil {
//	    return err
//	}
//	log := logger.ForComponent("worker").WithField("topic", "inflation")
//	log.Info("Scan started")
//
// Tests use NewTestLogger to capture messages, or NewNopLogger to discard
// them.
package logger

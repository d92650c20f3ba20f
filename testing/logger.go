// Copyright 2020 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"fmt"
	"sync"

	"github.com/juju/loggo/v2"
)

// CheckLog is an interface that can be used to log messages to a
// *testing.T or *check.C.
type CheckLog interface {
	Logf(string, ...any)
}

// CheckLogger is a logger that logs to a *testing.T or *check.C.
type CheckLogger struct {
	Log CheckLog
}

// NewCheckLogger returns a CheckLogger that logs to the given CheckLog.
func NewCheckLogger(log CheckLog) CheckLogger {
	return CheckLogger{Log: log}
}

func (c CheckLogger) Errorf(msg string, args ...any) {
	c.Log.Logf(fmt.Sprintf("ERROR: %s", msg), args...)
}
func (c CheckLogger) Warningf(msg string, args ...any) {
	c.Log.Logf(fmt.Sprintf("WARNING: %s", msg), args...)
}
func (c CheckLogger) Infof(msg string, args ...any) {
	c.Log.Logf(fmt.Sprintf("INFO: %s", msg), args...)
}
func (c CheckLogger) Debugf(msg string, args ...any) {
	c.Log.Logf(fmt.Sprintf("DEBUG: %s", msg), args...)
}

// RecordingLogger keeps every formatted message, so tests can assert on
// what was logged. It is safe for concurrent use.
type RecordingLogger struct {
	mu       sync.Mutex
	Messages []RecordedMessage
}

// RecordedMessage is a single message held by a RecordingLogger.
type RecordedMessage struct {
	Level   loggo.Level
	Message string
}

func (r *RecordingLogger) record(level loggo.Level, msg string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, RecordedMessage{Level: level, Message: fmt.Sprintf(msg, args...)})
}

func (r *RecordingLogger) Errorf(msg string, args ...any)   { r.record(loggo.ERROR, msg, args...) }
func (r *RecordingLogger) Warningf(msg string, args ...any) { r.record(loggo.WARNING, msg, args...) }
func (r *RecordingLogger) Infof(msg string, args ...any)    { r.record(loggo.INFO, msg, args...) }
func (r *RecordingLogger) Debugf(msg string, args ...any)   { r.record(loggo.DEBUG, msg, args...) }

// Levels returns the messages logged at the given level.
func (r *RecordingLogger) Levels(level loggo.Level) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.Messages {
		if m.Level == level {
			out = append(out, m.Message)
		}
	}
	return out
}

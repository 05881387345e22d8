// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package h2

import (
	"log"
	"os"
)

// Logger is the logging sink collaborator. NO_ERROR shutdowns are logged at
// info; any non-zero error is logged at warn, since the peer may have been
// the cause (spec §7).
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

// defaultLogger mirrors the teacher's process-wide Printf/DebugLevel()
// convention, scoped to one *log.Logger per Connection instead of a global.
// Debug output is only written when level >= 2, matching the "DebugLevel()
// >= 2" gate used throughout the teacher's own frame-tracing Printf calls.
type defaultLogger struct {
	level int
	std   *log.Logger
}

func newDefaultLogger(level int) *defaultLogger {
	return &defaultLogger{level: level, std: log.New(os.Stderr, "h2: ", log.LstdFlags)}
}

func (l *defaultLogger) Debugf(format string, args ...any) {
	if l.level >= 2 {
		l.std.Printf(format, args...)
	}
}

func (l *defaultLogger) Infof(format string, args ...any) {
	if l.level >= 1 {
		l.std.Printf(format, args...)
	}
}

func (l *defaultLogger) Warnf(format string, args ...any) {
	l.std.Printf(format, args...)
}

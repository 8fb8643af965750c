// Copyright 2017 David Lazar. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package plog provides structured logging for the shuffle round.
package plog

import (
	"fmt"
	"os"
	"time"
)

type Logger struct {
	EntryHandler
	Level Level

	fields Fields
}

type Entry struct {
	Fields  Fields
	Time    time.Time
	Level   Level
	Message string
}

type EntryHandler interface {
	Fire(*Entry)
}

type Fields map[string]interface{}

func (l *Logger) WithFields(fields Fields) *Logger {
	ll := &Logger{
		EntryHandler: l.EntryHandler,
		Level:        l.Level,
		fields:       make(Fields, len(l.fields)+len(fields)),
	}
	for k, v := range l.fields {
		ll.fields[k] = v
	}
	for k, v := range fields {
		ll.fields[k] = v
	}
	return ll
}

func (l *Logger) Info(args ...interface{}) {
	if l.Level >= InfoLevel {
		l.fire(InfoLevel, fmt.Sprint(args...))
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	if l.Level >= InfoLevel {
		l.fire(InfoLevel, fmt.Sprintf(format, args...))
	}
}

func (l *Logger) Fatal(args ...interface{}) {
	if l.Level >= FatalLevel {
		l.fire(FatalLevel, fmt.Sprint(args...))
	}
	os.Exit(1)
}

func (l *Logger) Fatalf(format string, args ...interface{}) {
	if l.Level >= FatalLevel {
		l.fire(FatalLevel, fmt.Sprintf(format, args...))
	}
	os.Exit(1)
}

func (l *Logger) Error(args ...interface{}) {
	if l.Level >= ErrorLevel {
		l.fire(ErrorLevel, fmt.Sprint(args...))
	}
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	if l.Level >= ErrorLevel {
		l.fire(ErrorLevel, fmt.Sprintf(format, args...))
	}
}

func (l *Logger) Warn(args ...interface{}) {
	if l.Level >= WarnLevel {
		l.fire(WarnLevel, fmt.Sprint(args...))
	}
}

func (l *Logger) Debug(args ...interface{}) {
	if l.Level >= DebugLevel {
		l.fire(DebugLevel, fmt.Sprint(args...))
	}
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.Level >= DebugLevel {
		l.fire(DebugLevel, fmt.Sprintf(format, args...))
	}
}

func (l *Logger) fire(level Level, msg string) {
	if l.EntryHandler != nil {
		entry := &Entry{
			Fields:  l.fields,
			Time:    time.Now(),
			Level:   level,
			Message: msg,
		}
		l.Fire(entry)
	}
}

// Level mirrors logrus's levels, matching the house convention used
// throughout the rest of this project's ambient logging.
type Level uint32

const (
	FatalLevel Level = iota
	ErrorLevel
	WarnLevel
	InfoLevel
	DebugLevel
)

func (level Level) String() string {
	switch level {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warning"
	case ErrorLevel:
		return "error"
	case FatalLevel:
		return "fatal"
	}
	return "unknown"
}

// textHandler writes entries as a single line of key=value pairs to
// os.Stderr; the Out field is not used.
type textHandler struct {
	Out os.File
}

func (h *textHandler) Fire(e *Entry) {
	fmt.Fprintf(os.Stderr, "%s [%s] %s", e.Time.Format(time.RFC3339), e.Level, e.Message)
	for k, v := range e.Fields {
		fmt.Fprintf(os.Stderr, " %s=%v", k, v)
	}
	fmt.Fprintln(os.Stderr)
}

var StdLogger = &Logger{
	EntryHandler: &textHandler{},
	Level:        InfoLevel,
}

func WithFields(fields Fields) *Logger              { return StdLogger.WithFields(fields) }
func Info(args ...interface{})                      { StdLogger.Info(args...) }
func Error(args ...interface{})                     { StdLogger.Error(args...) }
func Warn(args ...interface{})                      { StdLogger.Warn(args...) }
func Debug(args ...interface{})                     { StdLogger.Debug(args...) }
func Fatal(args ...interface{})                     { StdLogger.Fatal(args...) }
func Fatalf(format string, args ...interface{})     { StdLogger.Fatalf(format, args...) }

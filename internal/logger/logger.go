// Copyright (C) 2014 Jakob Borg and Contributors (see the CONTRIBUTORS file).
//
// This program is free software: you can redistribute it and/or modify it
// under the terms of the GNU General Public License as published by the Free
// Software Foundation, either version 3 of the License, or (at your option)
// any later version.
//
// This program is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE. See the GNU General Public License for
// more details.
//
// You should have received a copy of the GNU General Public License along
// with this program. If not, see <http://www.gnu.org/licenses/>.

// Package logger implements a level-based logger with pluggable handlers,
// used throughout the sync core instead of raw calls to the standard
// library's log package.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelOK
)

type MessageHandler func(l LogLevel, msg string)

// Logger wraps a standard library logger and fans every formatted message
// out to zero or more registered handlers, in addition to writing it to
// the underlying log.Logger.
type Logger struct {
	logger   *log.Logger
	handlers map[LogLevel][]MessageHandler
	mut      sync.Mutex
}

// DefaultLogger is the logger used by packages that don't construct their
// own; it is what "l.Debugln(...)" refers to by convention throughout this
// codebase.
var DefaultLogger = New()

func New() *Logger {
	return &Logger{
		logger:   log.New(os.Stdout, "", log.Ltime),
		handlers: make(map[LogLevel][]MessageHandler),
	}
}

func (l *Logger) AddHandler(level LogLevel, h MessageHandler) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.handlers[level] = append(l.handlers[level], h)
}

func (l *Logger) SetFlags(flag int) {
	l.logger.SetFlags(flag)
}

func (l *Logger) SetPrefix(prefix string) {
	l.logger.SetPrefix(prefix)
}

func (l *Logger) callHandlers(level LogLevel, s string) {
	s = strings.TrimRight(s, "\n")
	for _, h := range l.handlers[level] {
		h(level, s)
	}
}

func (l *Logger) Debugf(format string, vals ...interface{}) {
	l.mut.Lock()
	defer l.mut.Unlock()
	s := fmt.Sprintf("DEBUG: "+format, vals...)
	l.logger.Output(2, s)
	l.callHandlers(LevelDebug, s)
}

func (l *Logger) Debugln(vals ...interface{}) {
	l.mut.Lock()
	defer l.mut.Unlock()
	s := "DEBUG: " + fmt.Sprintln(vals...)
	l.logger.Output(2, s)
	l.callHandlers(LevelDebug, s)
}

func (l *Logger) Infof(format string, vals ...interface{}) {
	l.mut.Lock()
	defer l.mut.Unlock()
	s := fmt.Sprintf(format, vals...)
	l.logger.Output(2, s)
	l.callHandlers(LevelInfo, s)
}

func (l *Logger) Infoln(vals ...interface{}) {
	l.mut.Lock()
	defer l.mut.Unlock()
	s := fmt.Sprintln(vals...)
	l.logger.Output(2, s)
	l.callHandlers(LevelInfo, s)
}

func (l *Logger) Warnf(format string, vals ...interface{}) {
	l.mut.Lock()
	defer l.mut.Unlock()
	s := fmt.Sprintf("WARNING: "+format, vals...)
	l.logger.Output(2, s)
	l.callHandlers(LevelWarn, s)
}

func (l *Logger) Warnln(vals ...interface{}) {
	l.mut.Lock()
	defer l.mut.Unlock()
	s := "WARNING: " + fmt.Sprintln(vals...)
	l.logger.Output(2, s)
	l.callHandlers(LevelWarn, s)
}

func (l *Logger) Okf(format string, vals ...interface{}) {
	l.mut.Lock()
	defer l.mut.Unlock()
	s := fmt.Sprintf(format, vals...)
	l.logger.Output(2, s)
	l.callHandlers(LevelOK, s)
}

func (l *Logger) Okln(vals ...interface{}) {
	l.mut.Lock()
	defer l.mut.Unlock()
	s := fmt.Sprintln(vals...)
	l.logger.Output(2, s)
	l.callHandlers(LevelOK, s)
}

func (l *Logger) Fatalln(vals ...interface{}) {
	l.Warnln(vals...)
	os.Exit(3)
}

func (l *Logger) Fatalf(format string, vals ...interface{}) {
	l.Warnf(format, vals...)
	os.Exit(3)
}

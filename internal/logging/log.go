// internal/logging/log.go
// Package logging is a small leveled wrapper over the standard logger.
//
// A nil *Log is valid and discards everything, so components can take an
// optional logger without guarding every call.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Level int32

const (
	LError Level = iota
	LInfo
	LDebug
)

const (
	FlagsService int = log.LstdFlags | log.Lshortfile
	FlagsTest    int = log.Lmicroseconds | log.Lshortfile
)

// ParseLevel accepts "error", "info", "debug". Empty means info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return LInfo, nil
	case "error":
		return LError, nil
	case "debug":
		return LDebug, nil
	}
	return LInfo, fmt.Errorf("logging: unknown level %q", s)
}

type Log struct {
	l      *log.Logger
	level  int32
	w      io.Writer
	fatalf func(format string, args ...interface{})
}

func New(w io.Writer, level Level) *Log {
	if w == io.Discard {
		return nil
	}
	return &Log{
		l:     log.New(w, "", FlagsService),
		level: int32(level),
		w:     w,
	}
}

func NewStderr(level Level) *Log { return New(os.Stderr, level) }

// FileConfig selects rotating file output.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewFile logs to a size-rotated file. Stderr is used when Path is empty.
func NewFile(fc FileConfig, level Level) *Log {
	if fc.Path == "" {
		return NewStderr(level)
	}
	return New(&lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.MaxSizeMB,
		MaxBackups: fc.MaxBackups,
		MaxAge:     fc.MaxAgeDays,
		Compress:   fc.Compress,
	}, level)
}

type funcWriter func(format string, args ...interface{})

func (f funcWriter) Write(b []byte) (int, error) {
	f("%s", strings.TrimRight(string(b), "\n"))
	return len(b), nil
}

// NewTest routes output into t.Logf so parallel tests keep their logs apart.
func NewTest(t testing.TB, level Level) *Log {
	l := New(funcWriter(t.Logf), level)
	l.SetFlags(FlagsTest)
	l.fatalf = t.Fatalf
	return l
}

func (l *Log) Clone(level Level) *Log {
	if l == nil {
		return nil
	}
	c := New(l.w, level)
	c.l.SetFlags(l.l.Flags())
	c.l.SetPrefix(l.l.Prefix())
	c.fatalf = l.fatalf
	return c
}

func (l *Log) SetLevel(level Level) {
	if l == nil {
		return
	}
	atomic.StoreInt32(&l.level, int32(level))
}

func (l *Log) SetFlags(f int) {
	if l == nil {
		return
	}
	l.l.SetFlags(f)
}

func (l *Log) SetPrefix(prefix string) {
	if l == nil {
		return
	}
	l.l.SetPrefix(prefix)
}

func (l *Log) Enabled(level Level) bool {
	if l == nil {
		return false
	}
	return atomic.LoadInt32(&l.level) >= int32(level)
}

func (l *Log) logf(level Level, format string, args ...interface{}) {
	if l.Enabled(level) {
		_ = l.l.Output(3, fmt.Sprintf(format, args...))
	}
}

func (l *Log) Errorf(format string, args ...interface{}) { l.logf(LError, "error: "+format, args...) }
func (l *Log) Infof(format string, args ...interface{})  { l.logf(LInfo, format, args...) }
func (l *Log) Debugf(format string, args ...interface{}) { l.logf(LDebug, "debug: "+format, args...) }

// Printf and Println make *Log usable where a plain printf logger is expected
// (paho MQTT package loggers). Both log at info level.
func (l *Log) Printf(format string, args ...interface{}) { l.logf(LInfo, format, args...) }
func (l *Log) Println(args ...interface{}) {
	l.logf(LInfo, "%s", strings.TrimRight(fmt.Sprintln(args...), "\n"))
}

func (l *Log) Fatalf(format string, args ...interface{}) {
	if l != nil && l.fatalf != nil {
		l.fatalf(format, args...)
		return
	}
	if l != nil {
		_ = l.l.Output(2, fmt.Sprintf("fatal: "+format, args...))
	} else {
		log.Printf("fatal: "+format, args...)
	}
	os.Exit(1)
}

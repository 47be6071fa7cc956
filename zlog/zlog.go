// Copyright (c) 2026 The beamshare Authors.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package zlog is a small leveled logger in the shape of the teacher's
// debug package: a handful of level methods, a per-subsystem prefix, and an
// optional file sink. Unlike the teacher it carries no terminal-escape
// unescaping (that served the TUI, which is out of scope here).
package zlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	humanize "github.com/dustin/go-humanize"
)

// Logger writes leveled, prefixed lines to an io.Writer (default os.Stderr).
type Logger struct {
	mu         sync.Mutex
	out        io.Writer
	subsystem  string
	debug      bool
	trace      bool
	timeFormat string
}

var (
	registryMu sync.Mutex
	registry   []*Logger
)

// New returns a Logger for the named subsystem, e.g. "session", "transfer".
// It is registered so a later SetLogFile call can redirect it along with
// every other subsystem's logger to the same file, matching the teacher's
// debug package sharing one filename across all registered subsystems.
func New(subsystem string) *Logger {
	l := &Logger{
		out:        os.Stderr,
		subsystem:  subsystem,
		timeFormat: "2006-01-02 15:04:05",
	}
	registryMu.Lock()
	registry = append(registry, l)
	registryMu.Unlock()
	return l
}

// SetLogFile opens filename for appending and redirects every Logger
// created so far (and leaves os.Stderr for any created afterward) to it.
func SetLogFile(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, l := range registry {
		l.SetOutput(f)
	}
	return nil
}

// SetOutput redirects subsequent log lines to w.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.out = w
	l.mu.Unlock()
}

// SetDebug toggles Dbg-level output.
func (l *Logger) SetDebug(on bool) { l.debug = on }

// SetTrace toggles Trace-level output.
func (l *Logger) SetTrace(on bool) { l.trace = on }

func (l *Logger) log(prefix, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := time.Now().Format(l.timeFormat)
	fmt.Fprintf(l.out, "%v %v[%v] %v\n", ts, prefix, l.subsystem,
		fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...interface{})     { l.log("[INF] ", format, args...) }
func (l *Logger) Warn(format string, args ...interface{})     { l.log("[WAR] ", format, args...) }
func (l *Logger) Error(format string, args ...interface{})    { l.log("[ERR] ", format, args...) }
func (l *Logger) Critical(format string, args ...interface{}) { l.log("[CRI] ", format, args...) }

func (l *Logger) Dbg(format string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.log("[DBG] ", format, args...)
}

// Trace dumps args with spew when trace logging is enabled; useful for
// handshake frame contents that are too noisy for Dbg.
func (l *Logger) Trace(label string, v interface{}) {
	if !l.trace {
		return
	}
	l.log("[TRC] ", "%v:\n%v", label, spew.Sdump(v))
}

// Bytes formats a byte count for progress/log lines, e.g. "13 B", "2.0 MB".
func Bytes(n uint64) string {
	return humanize.Bytes(n)
}

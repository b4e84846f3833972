// Package nflog is the minimal leveled logger every NF in this module
// uses on its data-plane drop path, standing in for the original's
// terse os_debug(msg) — one line, only on the path where a packet is
// already being dropped, never allocating when verbose output is off.
package nflog

import (
	"fmt"
	"io"
	"log"
)

// Logger wraps a stdlib *log.Logger with a verbosity gate, the way
// ecache2 wraps time.Now() behind a single cheap accessor rather than
// paying a syscall on every call: Debugf does no formatting work at all
// unless verbose is set.
type Logger struct {
	out     *log.Logger
	verbose bool
}

// New builds a Logger writing to w. verbose gates both Debug and
// Debugf: with verbose off, neither emits nor (for Debugf) does any
// formatting work, matching the -v/--verbose flag every cmd/ program
// exposes as "log every dropped packet's reason".
func New(w io.Writer, verbose bool) *Logger {
	return &Logger{out: log.New(w, "", log.LstdFlags), verbose: verbose}
}

// Debug logs msg when verbose is set. Used for the single-line
// drop-path messages spec.md §6 names verbatim ("Not TCP/UDP over IPv4
// over Ethernet", "Unknown flow", "Spoofing attempt", ...).
func (l *Logger) Debug(msg string) {
	if l == nil || !l.verbose {
		return
	}
	l.out.Output(2, msg)
}

// Debugf is Debug's formatted, verbose-gated counterpart.
func (l *Logger) Debugf(format string, args ...any) {
	if l == nil || !l.verbose {
		return
	}
	l.out.Output(2, fmt.Sprintf(format, args...))
}

// Package clog is the default Logger implementation used by cmd/vimchand.
// It is deliberately outside the channel package: spec.md §1 treats the
// logging facade and the colored-TTY logger as external collaborators
// that the core only ever consumes through the minimal channel.Logger
// interface.
package clog

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/kr/pretty"
)

// Logger writes timestamped lines to w, following the style of govim's
// vimTransport.Logf: a "2006-01-02T15:04:05.000000: " prefix, continuation
// lines re-prefixed the same way.
//
// If console is non-nil, lines are additionally written there verbatim
// (e.g. with ANSI color codes a colored-TTY logger external collaborator
// has already applied), while the copy written to w has any such color
// codes stripped via stripansi -- mirroring the common pattern of a
// colorized console paired with a plain-text log file.
type Logger struct {
	w       io.Writer
	console io.Writer
	verbose bool
}

// New returns a Logger writing to w. console may be nil.
func New(w io.Writer, console io.Writer, verbose bool) *Logger {
	return &Logger{w: w, console: console, verbose: verbose}
}

// Logf implements channel.Logger.
func (l *Logger) Logf(format string, args ...interface{}) {
	s := fmt.Sprintf(format, args...)
	s = strings.TrimRight(s, "\n")
	t := time.Now().Format("2006-01-02T15:04:05.000000")
	line := t + ": " + strings.ReplaceAll(s, "\n", "\n"+t+": ") + "\n"

	if l.console != nil {
		io.WriteString(l.console, line)
		io.WriteString(l.w, stripansi.Strip(line))
		return
	}
	io.WriteString(l.w, line)
}

// Dump writes a pretty-printed representation of v at trace verbosity,
// following govim.go's use of kr/pretty to log debug.BuildInfo.
func (l *Logger) Dump(label string, v interface{}) {
	if !l.verbose {
		return
	}
	l.Logf("%s: %s", label, pretty.Sprint(v))
}

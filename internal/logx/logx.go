// Package logx is a thin wrapper over the standard log package,
// following the teacher's own reliance on "log" throughout
// google-navc (files.go, main.go) rather than a structured logging
// library absent anywhere in the retrieved pack. It adds only a
// component prefix so daemon output can be told apart at a glance.
package logx

import (
	"log"
	"os"
)

// Logger prefixes every line with a component name, matching the
// ad-hoc "log.Println("parsing", file)" style calls scattered through
// files.go while giving each subsystem its own tag.
type Logger struct {
	*log.Logger
}

// New returns a Logger that writes to stderr, tagged with component.
func New(component string) *Logger {
	return &Logger{log.New(os.Stderr, "["+component+"] ", log.LstdFlags)}
}

// Debugf only logs when NAVC_DEBUG is set, the lightweight
// always-compiled-in equivalent of the teacher's scattered debugMulti
// checks in original_source/src/Server.cpp.
func (l *Logger) Debugf(format string, args ...any) {
	if os.Getenv("NAVC_DEBUG") == "" {
		return
	}
	l.Printf(format, args...)
}

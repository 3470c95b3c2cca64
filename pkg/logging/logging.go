// Package logging provides the leveled logger interface shared by the
// storage engine, the executor, and the embedding layers.
//
// The interface is structurally identical to badger.Logger so a single
// logger can be handed to both this module's components and the underlying
// BadgerDB instance.
package logging

import (
	"log"
	"os"
)

// Logger is a printf-style leveled logger.
//
// All components treat a nil Logger as "no logging"; use Nop() when an
// explicit non-nil value is required.
type Logger interface {
	Errorf(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// stdLogger wraps the standard library logger with level prefixes.
type stdLogger struct {
	l     *log.Logger
	debug bool
}

// New returns a Logger writing to stderr with the given prefix.
// Debug output is suppressed unless debug is true.
func New(prefix string, debug bool) Logger {
	return &stdLogger{
		l:     log.New(os.Stderr, prefix, log.Ldate|log.Ltime|log.Lmicroseconds),
		debug: debug,
	}
}

func (s *stdLogger) Errorf(format string, args ...interface{}) {
	s.l.Printf("ERROR: "+format, args...)
}

func (s *stdLogger) Warningf(format string, args ...interface{}) {
	s.l.Printf("WARN: "+format, args...)
}

func (s *stdLogger) Infof(format string, args ...interface{}) {
	s.l.Printf("INFO: "+format, args...)
}

func (s *stdLogger) Debugf(format string, args ...interface{}) {
	if s.debug {
		s.l.Printf("DEBUG: "+format, args...)
	}
}

// nopLogger discards everything.
type nopLogger struct{}

// Nop returns a Logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

func (nopLogger) Errorf(string, ...interface{})   {}
func (nopLogger) Warningf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})    {}
func (nopLogger) Debugf(string, ...interface{})   {}

// Package logging constructs the component loggers used across scoresync.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where log output goes.
type Options struct {
	// File, if set, sends output to a size-rotated log file instead of stderr.
	File string

	// MaxSizeMB is the rotation threshold. Zero means 10.
	MaxSizeMB int

	// MaxBackups is how many rotated files to keep. Zero means 3.
	MaxBackups int
}

// New returns a logger prefixed with "[component] ".
//
// With a File configured, output is rotated by lumberjack; otherwise it goes
// to stderr. The returned logger is safe for concurrent use.
func New(component string, opts Options) *log.Logger {
	var w io.Writer = os.Stderr
	if opts.File != "" {
		maxSize := opts.MaxSizeMB
		if maxSize == 0 {
			maxSize = 10
		}
		maxBackups := opts.MaxBackups
		if maxBackups == 0 {
			maxBackups = 3
		}
		w = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
		}
	}
	return log.New(w, "["+component+"] ", log.LstdFlags)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

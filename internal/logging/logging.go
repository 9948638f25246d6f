// Package logging builds the component loggers used across folio.
//
// Every component logs through a *log.Logger with a bracketed prefix such
// as "[watch] ". By default they write to stderr; with a log file they
// share one size-rotated file.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults for the log file.
const (
	MaxSizeMB  = 10
	MaxBackups = 3
	MaxAgeDays = 28
)

// Factory hands out component loggers that share one destination.
type Factory struct {
	mu     sync.Mutex
	out    io.Writer
	closer io.Closer
}

// New returns a Factory writing to file, or to stderr when file is empty.
func New(file string) (*Factory, error) {
	if file == "" {
		return &Factory{out: os.Stderr}, nil
	}
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return nil, err
	}
	lj := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    MaxSizeMB,
		MaxBackups: MaxBackups,
		MaxAge:     MaxAgeDays,
		Compress:   false,
	}
	return &Factory{out: lj, closer: lj}, nil
}

// NewWriter returns a Factory writing to w.
func NewWriter(w io.Writer) *Factory {
	return &Factory{out: w}
}

// Logger returns a logger for component, prefixed "[component] ".
func (f *Factory) Logger(component string) *log.Logger {
	return log.New(f, "["+component+"] ", log.LstdFlags)
}

// Write serializes writes from all component loggers.
func (f *Factory) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.Write(p)
}

// Close closes the log file, if any.
func (f *Factory) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

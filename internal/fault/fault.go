// Package fault marks unrecoverable errors with the source location that
// raised them. A Fault propagates to main, which reports it and halts.
package fault

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
)

// Fault is an error the gateway cannot continue past.
type Fault struct {
	Err  error
	File string
	Line int
}

// New wraps err with the location of the caller.
func New(err error) *Fault {
	return at(err, 2)
}

// Errorf formats an error and wraps it with the location of the caller.
func Errorf(format string, args ...any) *Fault {
	return at(fmt.Errorf(format, args...), 2)
}

func at(err error, skip int) *Fault {
	f := &Fault{Err: err}
	if _, file, line, ok := runtime.Caller(skip); ok {
		f.File = filepath.Base(file)
		f.Line = line
	}
	return f
}

func (f *Fault) Error() string {
	return fmt.Sprintf("fault at %s:%d: %v", f.File, f.Line, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// As returns the Fault in err's chain, if any.
func As(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// Halt logs err with its fault location and exits the process.
func Halt(err error) {
	if f, ok := As(err); ok {
		slog.Error("fatal fault", "file", f.File, "line", f.Line, "err", f.Err)
	} else {
		slog.Error("fatal error", "err", err)
	}
	os.Exit(1)
}

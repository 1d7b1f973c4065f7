// Package output provides console output formatting and colorization.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Verbosity levels
type Verbosity int

const (
	// VerbosityQuiet shows errors only
	VerbosityQuiet Verbosity = iota
	// VerbosityNormal shows errors, warnings and results (default)
	VerbosityNormal
	// VerbosityDetailed adds per-package details
	VerbosityDetailed
	// VerbosityDiagnostic adds debug lines
	VerbosityDiagnostic
)

// ParseVerbosity maps a --verbosity value to a level. Unknown values are
// normal.
func ParseVerbosity(s string) Verbosity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "q", "quiet":
		return VerbosityQuiet
	case "d", "detailed", "-vv":
		return VerbosityDetailed
	case "diag", "diagnostic", "debug", "-vvv":
		return VerbosityDiagnostic
	default:
		return VerbosityNormal
	}
}

// Console writes command output
type Console struct {
	out       io.Writer
	err       io.Writer
	verbosity Verbosity
	mu        sync.Mutex
	colors    bool
}

// NewConsole creates a new console
func NewConsole(out, err io.Writer, verbosity Verbosity) *Console {
	c := &Console{
		out:       out,
		err:       err,
		verbosity: verbosity,
		colors:    IsColorEnabled(),
	}
	if !c.colors {
		DisableColors()
	}
	return c
}

// DefaultConsole writes to stdout/stderr at normal verbosity
func DefaultConsole() *Console {
	return NewConsole(os.Stdout, os.Stderr, VerbosityNormal)
}

// SetVerbosity sets the verbosity level
func (c *Console) SetVerbosity(v Verbosity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verbosity = v
}

// Verbosity returns the current verbosity level
func (c *Console) Verbosity() Verbosity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verbosity
}

// SetColors enables or disables color output
func (c *Console) SetColors(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.colors = enabled
	if enabled {
		EnableColors()
	} else {
		DisableColors()
	}
}

// Out returns the output writer
func (c *Console) Out() io.Writer {
	return c.out
}

// Println writes a line regardless of verbosity
func (c *Console) Println(a ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.out, a...)
}

func (c *Console) write(w io.Writer, level Verbosity, paint func(io.Writer, string, ...any), format string, a ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.verbosity < level {
		return
	}
	if c.colors && paint != nil {
		paint(w, format+"\n", a...)
		return
	}
	_, _ = fmt.Fprintf(w, format+"\n", a...)
}

// Success writes a green line
func (c *Console) Success(format string, a ...any) {
	c.write(c.out, VerbosityNormal, fprintf(ColorSuccess), format, a...)
}

// Error writes a red "Error:" line to stderr at any verbosity
func (c *Console) Error(format string, a ...any) {
	c.write(c.err, VerbosityQuiet, fprintf(ColorError), "Error: "+format, a...)
}

// Warning writes a yellow "Warning:" line
func (c *Console) Warning(format string, a ...any) {
	c.write(c.out, VerbosityNormal, fprintf(ColorWarning), "Warning: "+format, a...)
}

// Info writes a cyan line
func (c *Console) Info(format string, a ...any) {
	c.write(c.out, VerbosityNormal, fprintf(ColorInfo), format, a...)
}

// Detail writes a plain line at detailed verbosity
func (c *Console) Detail(format string, a ...any) {
	c.write(c.out, VerbosityDetailed, nil, format, a...)
}

package output

import (
	"io"
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// Color schemes
var (
	ColorSuccess = color.New(color.FgGreen)
	ColorError   = color.New(color.FgRed)
	ColorWarning = color.New(color.FgYellow)
	ColorInfo    = color.New(color.FgCyan)
	ColorHeader  = color.New(color.Bold, color.FgWhite)
)

func fprintf(c *color.Color) func(io.Writer, string, ...any) {
	return func(w io.Writer, format string, a ...any) {
		_, _ = c.Fprintf(w, format, a...)
	}
}

// IsColorEnabled reports whether stdout is a color-capable terminal and
// NO_COLOR is unset
func IsColorEnabled() bool {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	t := os.Getenv("TERM")
	return t != "dumb" && t != ""
}

// DisableColors disables all color output
func DisableColors() {
	color.NoColor = true
}

// EnableColors enables color output
func EnableColors() {
	color.NoColor = false
}

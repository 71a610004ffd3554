package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}
}

// printer writes colored status lines to a command's output.
type printer struct {
	out io.Writer
}

func (p printer) success(format string, a ...any) {
	green.Fprintf(p.out, "✓ %s\n", fmt.Sprintf(format, a...))
}

func (p printer) warning(format string, a ...any) {
	yellow.Fprintf(p.out, "⚠️  %s\n", fmt.Sprintf(format, a...))
}

func (p printer) step(format string, a ...any) {
	cyan.Fprintf(p.out, "→ %s\n", fmt.Sprintf(format, a...))
}

func (p printer) info(format string, a ...any) {
	fmt.Fprintf(p.out, format+"\n", a...)
}

// failure prints title in red and returns it as an error for cobra.
func (p printer) failure(title string, err error) error {
	red.Fprintf(p.out, "%s\n", title)
	if err != nil {
		fmt.Fprintf(p.out, "  %v\n", err)
		return fmt.Errorf("%s: %w", title, err)
	}
	return fmt.Errorf("%s", title)
}

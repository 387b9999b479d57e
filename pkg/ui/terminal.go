package ui

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"
)

// ASCIILogo is printed at the start of interactive runs
const ASCIILogo = `
    ╔═══════════════════════════════════════════════════════════════╗
    ║ ██╗  ██╗ █████╗ ██████╗ ██╗   ██╗███████╗███████╗████████╗    ║
    ║ ██║  ██║██╔══██╗██╔══██╗██║   ██║██╔════╝██╔════╝╚══██╔══╝    ║
    ║ ███████║███████║██████╔╝██║   ██║█████╗  ███████╗   ██║       ║
    ║ ██╔══██║██╔══██║██╔══██╗╚██╗ ██╔╝██╔══╝  ╚════██║   ██║       ║
    ║ ██║  ██║██║  ██║██║  ██║ ╚████╔╝ ███████╗███████║   ██║       ║
    ║ ╚═╝  ╚═╝╚═╝  ╚═╝╚═╝  ╚═╝  ╚═══╝  ╚══════╝╚══════╝   ╚═╝       ║
    ║            INCREMENTAL TOPIC HARVESTER                        ║
    ╚═══════════════════════════════════════════════════════════════╝
`

// Output is where the Print helpers write
var Output io.Writer = os.Stdout

var quiet atomic.Bool

// SetQuietMode suppresses the logo and informational output
func SetQuietMode(q bool) {
	quiet.Store(q)
}

// IsQuietMode reports whether informational output is suppressed
func IsQuietMode() bool {
	return quiet.Load()
}

// Color functions for terminal output
var (
	Cyan    = paint(neonCyan)
	Yellow  = paint(neonYellow)
	Red     = paint(neonRed)
	Green   = paint(neonGreen)
	Magenta = paint(neonMagenta)
	Dim     = func(text string) string { return dimStyle.Render(text) }
)

func paint(c lipgloss.Color) func(string) string {
	style := lipgloss.NewStyle().Foreground(c)
	return func(text string) string {
		return style.Render(text)
	}
}

// PrintLogo prints the ASCII logo with color
func PrintLogo() {
	if IsQuietMode() {
		return
	}
	fmt.Fprint(Output, Cyan(ASCIILogo))
}

// PrintError prints an error message in red
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Fprintln(Output, Red(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(Output, Red(msg))
	}
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	fmt.Fprintln(Output, Green(msg))
}

// PrintInfo prints a label and value
func PrintInfo(label string, value string) {
	if IsQuietMode() {
		return
	}
	fmt.Fprintf(Output, "%s: %s\n", Cyan(label), Yellow(value))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Fprintln(Output, Yellow(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(Output, Yellow(msg))
	}
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	if IsQuietMode() {
		return
	}
	fmt.Fprintln(Output, Magenta(msg))
}

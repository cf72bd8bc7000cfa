package ui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

// ASCII logo for the application
const ASCIILogo = `
    ╔════════════════════════════════════════════════╗
    ║  IGCOMMENTS  ·  comment thread capture utility ║
    ╚════════════════════════════════════════════════╝
`

var (
	mu        sync.RWMutex
	out       io.Writer = os.Stdout
	colorOn             = ColorSupported(os.Stdout)
	quietMode bool
)

// Color functions for terminal output
var (
	Cyan    = colorize("\033[36m%s\033[0m")
	Yellow  = colorize("\033[33m%s\033[0m")
	Red     = colorize("\033[31m%s\033[0m")
	Green   = colorize("\033[32m%s\033[0m")
	Magenta = colorize("\033[35m%s\033[0m")
	Dim     = colorize("\033[2m%s\033[0m")
)

// ColorSupported reports whether f is a terminal and NO_COLOR is unset
func ColorSupported(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// SetOutput redirects all ui output
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// SetColor enables or disables ANSI colors
func SetColor(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	colorOn = enabled
}

// SetQuietMode suppresses everything except errors
func SetQuietMode(quiet bool) {
	mu.Lock()
	defer mu.Unlock()
	quietMode = quiet
}

// IsQuiet reports whether quiet mode is on
func IsQuiet() bool {
	mu.RLock()
	defer mu.RUnlock()
	return quietMode
}

// Output returns the current writer
func Output() io.Writer {
	mu.RLock()
	defer mu.RUnlock()
	return out
}

// colorize returns a function that wraps text with ANSI color codes
func colorize(colorString string) func(string) string {
	return func(text string) string {
		mu.RLock()
		enabled := colorOn
		mu.RUnlock()
		if !enabled {
			return text
		}
		return fmt.Sprintf(colorString, text)
	}
}

func printLine(msg string) {
	if IsQuiet() {
		return
	}
	fmt.Fprintln(Output(), msg)
}

// PrintLogo prints the ASCII logo with color
func PrintLogo() {
	if IsQuiet() {
		return
	}
	fmt.Fprint(Output(), Cyan(ASCIILogo))
}

// PrintError prints an error message in red; errors are shown in quiet mode too
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 && fmt.Sprint(args[0]) != "" {
		msg = msg + ": " + fmt.Sprintf("%v", args[0])
	}
	fmt.Fprintln(Output(), Red(msg))
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	printLine(Green(msg))
}

// PrintInfo prints a label and value
func PrintInfo(label string, value string) {
	printLine(fmt.Sprintf("%s: %s", Cyan(label), Yellow(value)))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if len(args) > 0 && fmt.Sprint(args[0]) != "" {
		msg = msg + ": " + fmt.Sprintf("%v", args[0])
	}
	printLine(Yellow(msg))
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	printLine(Magenta(msg))
}

// Println prints plain text unless quiet
func Println(msg string) {
	printLine(msg)
}

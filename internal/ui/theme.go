// Package ui provides the sidecar's startup banner and colored admin
// status lines. None of it sits on the connection-handling hot path —
// it exists purely for operator-facing bootstrap/shutdown output.
//
// Grounded on tamecalm-signal-proxy/internal/ui/theme.go's NO_COLOR/
// FORCE_COLOR-aware color-function wrappers around fatih/color, trimmed
// to the handful of styles cmd/meshproxyd actually calls.
package ui

import (
	"os"
	"strings"

	"github.com/fatih/color"
)

var (
	noColor    = os.Getenv("NO_COLOR") != ""
	forceColor = isForceColor()
)

func isForceColor() bool {
	fc := strings.TrimSpace(os.Getenv("FORCE_COLOR"))
	return fc != "" && fc != "0"
}

// IsRich reports whether the terminal supports rich (colored) output.
func IsRich() bool {
	if noColor && !forceColor {
		return false
	}
	return !color.NoColor
}

// Success returns success-styled text.
func Success(format string, a ...interface{}) string {
	return color.New(color.FgGreen).Sprintf(format, a...)
}

// Warn returns warning-styled text.
func Warn(format string, a ...interface{}) string {
	return color.New(color.FgYellow).Sprintf(format, a...)
}

// ErrorText returns error-styled text.
func ErrorText(format string, a ...interface{}) string {
	return color.New(color.FgRed).Sprintf(format, a...)
}

// Muted returns secondary/hint text.
func Muted(format string, a ...interface{}) string {
	return color.New(color.FgHiBlack).Sprintf(format, a...)
}

// Accent returns primary brand-colored text.
func Accent(format string, a ...interface{}) string {
	return color.New(color.FgCyan, color.Bold).Sprintf(format, a...)
}

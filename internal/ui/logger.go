package ui

import (
	"fmt"
	"strings"
	"time"
)

// PrintBanner prints the sidecar's startup banner: a boxed title line
// followed by a blank separator, matching the box-drawing style of
// tamecalm-signal-proxy/internal/ui/logger.go's PrintBanner, relabeled
// for the mesh sidecar and stripped of the per-product ASCII art.
func PrintBanner(version string) {
	fmt.Println()
	title := "meshcore"
	if IsRich() {
		title = Accent("◆ meshcore") + " " + Muted(version)
	} else {
		title = "meshcore " + version
	}
	border := Muted(strings.Repeat("─", 44))
	fmt.Println(border)
	fmt.Println("  " + title)
	fmt.Println(border)
	fmt.Println()
}

// LogStatus prints a single timestamped status line, categorized as
// info/success/warning/error for consistent coloring.
func LogStatus(category, message string) {
	ts := Muted(time.Now().Format("15:04:05"))
	var icon, styled string
	switch category {
	case "success":
		icon, styled = Success("✔"), Success("%s", message)
	case "error":
		icon, styled = ErrorText("✖"), ErrorText("%s", message)
	case "warning":
		icon, styled = Warn("⚠"), Warn("%s", message)
	default:
		icon, styled = Muted("ℹ"), message
	}
	fmt.Printf("%s  %s  %s\n", ts, icon, styled)
}

// LogSection prints a section header, used to separate bootstrap phases
// (metrics, discovery) in startup logs.
func LogSection(title string) {
	fmt.Println()
	pad := 40 - len(title)
	if pad < 0 {
		pad = 0
	}
	fmt.Println(Muted("── ") + Accent(title) + " " + Muted(strings.Repeat("─", pad)))
}

// PrintFooter prints a single dim closing line, used as the last line of
// every shutdown.
func PrintFooter(message string) {
	fmt.Println()
	fmt.Println("  " + Muted("▸ "+message))
}

package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/jamesainslie/meshgen/pkg/meshgen/gpu"
)

// renderAppHeader renders the shared application header: the app name,
// the detected hardware and the parameter tier, with a right-aligned hint.
func renderAppHeader(sys gpu.System, width int, hint string) string {
	appName := titleStyle.Render(" MESHGEN")

	var hw string
	switch {
	case sys.VRAMOverride > 0:
		hw = fmt.Sprintf("VRAM %s (override)", humanize.IBytes(uint64(sys.VRAMOverride)))
	case len(sys.GPUs) > 0:
		hw = fmt.Sprintf("%s  %s", sys.GPUs[0].Name, humanize.IBytes(uint64(sys.PrimaryVRAM())))
	default:
		hw = "no GPU"
	}
	stats := mutedTextStyle.Render(fmt.Sprintf("  %s  •  %s tier", hw, sys.Tier()))

	left := appName + stats
	right := mutedTextStyle.Render(hint)
	spacing := width - lipgloss.Width(left) - lipgloss.Width(right)
	if spacing < 1 {
		spacing = 1
	}
	return left + strings.Repeat(" ", spacing) + right
}

// renderRunMetrics renders the batch position, line count and elapsed time.
func renderRunMetrics(index, total, lines int, elapsed time.Duration) string {
	var parts []string
	if total > 1 {
		parts = append(parts, fmt.Sprintf("Image %d of %d", index, total))
	}
	if lines > 0 {
		parts = append(parts, fmt.Sprintf("Lines: %s", humanize.Comma(int64(lines))))
	}
	if elapsed > 0 {
		parts = append(parts, fmt.Sprintf("Time: %s", formatDuration(elapsed)))
	}
	if len(parts) == 0 {
		return ""
	}
	return mutedTextStyle.Render("  " + strings.Join(parts, "  |  "))
}

// formatDuration formats a duration as M:SS.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	m := d / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%d:%02d", m, s)
}

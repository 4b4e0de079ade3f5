package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/battlewithbytes/modstore/internal/downloads"
	"github.com/battlewithbytes/modstore/internal/history"
)

const barWidth = 24

// StateStyle colours a download state.
func StateStyle(s downloads.State) string {
	switch s {
	case downloads.StateDownloading:
		return Cyan.Render(string(s))
	case downloads.StateExtracting:
		return Yellow.Render(string(s))
	case downloads.StateCompleted:
		return Green.Render(string(s))
	case downloads.StateFailed:
		return Red.Render(string(s))
	default:
		return Dim.Render(string(s))
	}
}

// ProgressBar renders percent as a fixed-width bar.
func ProgressBar(percent float64) string {
	filled := int(percent / 100 * barWidth)
	filled = max(0, min(barWidth, filled))
	return Green.Render(strings.Repeat("█", filled)) + Dim.Render(strings.Repeat("░", barWidth-filled))
}

// FormatBytes renders n with a binary unit, e.g. "1.5 MiB".
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// RenderSnapshot formats the download list for a terminal.
func RenderSnapshot(s downloads.Snapshot) string {
	if !s.Visible && len(s.Cancelled) == 0 {
		return Dim.Render("No downloads.") + "\n"
	}

	var b strings.Builder
	if len(s.Active) > 0 {
		fmt.Fprintf(&b, "%s %s\n", Cyan.Render("Active"), Dim.Render(fmt.Sprintf("(%d running)", s.ActiveCount)))
		for _, r := range s.Active {
			fmt.Fprintf(&b, "  %-6s %s  %s\n", r.ID, White.Render(r.DisplayName), StateStyle(r.State))
			switch {
			case r.State == downloads.StateFailed:
				fmt.Fprintf(&b, "         %s\n", Red.Render(r.ErrorDetail))
			case r.BytesTotal > 0:
				fmt.Fprintf(&b, "         %s %5.1f%%  %s / %s\n", ProgressBar(r.ProgressPercent), r.ProgressPercent,
					FormatBytes(r.BytesReceived), FormatBytes(r.BytesTotal))
			default:
				fmt.Fprintf(&b, "         %s %5.1f%%\n", ProgressBar(r.ProgressPercent), r.ProgressPercent)
			}
		}
	}
	if len(s.Cancelled) > 0 {
		for _, r := range s.Cancelled {
			fmt.Fprintf(&b, "  %-6s %s  %s\n", r.ID, Dim.Render(r.DisplayName), StateStyle(r.State))
		}
	}
	if len(s.Completed) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(Green.Render("Completed") + "\n")
		for _, r := range s.Completed {
			line := fmt.Sprintf("  %-6s %s", r.ID, White.Render(r.DisplayName))
			if r.InstalledPath != "" {
				line += "  " + Dim.Render(r.InstalledPath)
			}
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}

// RenderHistory formats finished installs, newest first.
func RenderHistory(entries []history.Entry) string {
	if len(entries) == 0 {
		return Dim.Render("No finished installs recorded.") + "\n"
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s  %-10s %s", Dim.Render(e.FinishedAt.Local().Format(time.DateTime)),
			StateStyle(e.State), White.Render(e.DisplayName))
		if e.ErrorDetail != "" {
			b.WriteString("  " + Red.Render(e.ErrorDetail))
		} else if e.InstalledPath != "" {
			b.WriteString("  " + Dim.Render(e.InstalledPath))
		}
		b.WriteString("\n")
	}
	return b.String()
}

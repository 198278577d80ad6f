// Package console renders Aperture's human-mode output: colored status
// lines, the "<Kind>: <message>" / "Hint: ..." error format of spec.md §7,
// and the `--format table` renderer.
package console

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
)

var (
	colorError = lipgloss.AdaptiveColor{Light: "#D73737", Dark: "#FF5555"}
	colorWarn  = lipgloss.AdaptiveColor{Light: "#E67E22", Dark: "#FFB86C"}
	colorInfo  = lipgloss.AdaptiveColor{Light: "#2980B9", Dark: "#8BE9FD"}
	colorMuted = lipgloss.AdaptiveColor{Light: "#6C7A89", Dark: "#6272A4"}

	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorError)
	warnStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorWarn)
	infoStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorInfo)
	hintStyle   = lipgloss.NewStyle().Italic(true).Foreground(colorMuted)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorMuted)
	cellStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#2C3E50", Dark: "#F8F8F2"})
)

func isTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) && os.Getenv("NO_COLOR") == ""
}

func style(s lipgloss.Style, prefix, message string) string {
	if !isTTY() {
		return prefix + message
	}
	return s.Render(prefix) + message
}

// FormatInfoMessage formats an informational status line.
func FormatInfoMessage(message string) string { return style(infoStyle, "ℹ ", message) }

// FormatWarningMessage formats a warning status line.
func FormatWarningMessage(message string) string { return style(warnStyle, "⚠ ", message) }

// FormatErrorLine renders the human-mode error line required by spec.md §7:
// "<Kind>: <message>" optionally followed by "Hint: <hint>".
func FormatErrorLine(kind, message, hint string) string {
	line := style(errorStyle, "", fmt.Sprintf("%s: %s", kind, message))
	if hint == "" {
		return line
	}
	return line + "\n" + style(hintStyle, "", "Hint: "+hint)
}

// FormatFileSize formats a byte count as a human-readable size, e.g. "1.2 KB".
func FormatFileSize(size int64) string {
	if size == 0 {
		return "0 B"
	}
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB", "TB"}
	if exp >= len(units) {
		exp = len(units) - 1
	}
	return fmt.Sprintf("%.1f %s", float64(size)/float64(div), units[exp])
}

// RenderTable renders rows of string cells under the given headers using
// lipgloss/table, falling back to plain borders when stdout isn't a TTY.
func RenderTable(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}
	t := table.New().
		Headers(headers...).
		Rows(rows...).
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if !isTTY() {
				return lipgloss.NewStyle()
			}
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	var b strings.Builder
	b.WriteString(t.String())
	b.WriteString("\n")
	return b.String()
}

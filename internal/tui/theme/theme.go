// Package theme holds the Lip Gloss palette and styles for the jobwatch
// TUI. It has no internal imports besides the wire enums it colours.
package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/hello-sally/jobwatch/internal/notify"
	"github.com/hello-sally/jobwatch/internal/poll"
)

// Outcome colors.
var (
	ColorSucceeded = lipgloss.Color("#16a34a")
	ColorFailed    = lipgloss.Color("#dc2626")
	ColorGaveUp    = lipgloss.Color("#d97706")
	ColorActive    = lipgloss.Color("#2563eb")
	ColorDefault   = lipgloss.Color("#9ca3af")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// KindColor returns the color for a notification kind.
func KindColor(k notify.Kind) lipgloss.Color {
	switch k {
	case notify.Succeeded:
		return ColorSucceeded
	case notify.Failed:
		return ColorFailed
	case notify.GaveUp:
		return ColorGaveUp
	default:
		return ColorDefault
	}
}

// StopGlyph returns the glyph shown for an idle watch.
func StopGlyph(r poll.StopReason) string {
	switch r {
	case poll.StopSettled:
		return "✓"
	case poll.StopBudgetExhausted:
		return "✗"
	case poll.StopRequested, poll.StopCanceled:
		return "■"
	default:
		return "○"
	}
}

func StopColor(r poll.StopReason) lipgloss.Color {
	switch r {
	case poll.StopSettled:
		return ColorSucceeded
	case poll.StopBudgetExhausted:
		return ColorGaveUp
	default:
		return ColorDimmed
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
		Foreground(ColorDimmed)

	StyleDegraded = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorWarning)

	StyleSpinner = lipgloss.NewStyle().
		Foreground(ColorActive)
)

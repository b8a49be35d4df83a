// Package ui provides terminal rendering helpers for the expo33 CLI.
//
// Colors degrade automatically on dumb terminals and when output is
// piped, via termenv profile detection.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/Ahmmada/Expo33/internal/schema"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// plain reports whether styling should be skipped entirely.
func plain() bool {
	return termenv.EnvColorProfile() == termenv.Ascii
}

// RenderAccent renders s in the accent color.
func RenderAccent(s string) string {
	if plain() {
		return s
	}
	return accentStyle.Render(s)
}

// RenderPass renders s as a success marker.
func RenderPass(s string) string {
	if plain() {
		return s
	}
	return passStyle.Render(s)
}

// RenderWarn renders s as a warning marker.
func RenderWarn(s string) string {
	if plain() {
		return s
	}
	return warnStyle.Render(s)
}

// RenderFail renders s as a failure marker.
func RenderFail(s string) string {
	if plain() {
		return s
	}
	return failStyle.Render(s)
}

// RenderMuted renders s in a dimmed color, used for secondary detail
// like timestamps and IDs.
func RenderMuted(s string) string {
	if plain() {
		return s
	}
	return mutedStyle.Render(s)
}

// RenderHeader renders a list header row.
func RenderHeader(s string) string {
	if plain() {
		return s
	}
	return headerStyle.Render(s)
}

// OpBadge renders a short badge for a record's pending operation, the
// CLI equivalent of the UI's unsynced-change indicator. Synced records
// get an empty badge.
func OpBadge(op schema.OpType) string {
	switch op {
	case schema.OpCreate:
		return RenderWarn("[new]")
	case schema.OpUpdate:
		return RenderWarn("[edited]")
	case schema.OpDelete:
		return RenderFail("[deleting]")
	default:
		return ""
	}
}

// StatusBadge renders a student's attendance status.
func StatusBadge(status schema.Status) string {
	switch status {
	case schema.StatusPresent:
		return RenderPass("present")
	case schema.StatusAbsent:
		return RenderFail("absent")
	case schema.StatusExcused:
		return RenderWarn("excused")
	default:
		return string(status)
	}
}

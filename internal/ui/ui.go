// Package ui provides the small rendering helpers used by the CLI.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")) // green
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // yellow
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))  // red
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")) // blue
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

// RenderPass renders success glyphs and counts.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders warnings.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders failures.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderAccent renders informational highlights.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderDim renders secondary detail.
func RenderDim(s string) string { return dimStyle.Render(s) }

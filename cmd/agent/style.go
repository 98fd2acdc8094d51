package main

import "github.com/charmbracelet/lipgloss"

// theme is the terminal color scheme.
type theme struct {
	Primary lipgloss.Color
	Accent  lipgloss.Color
	Alert   lipgloss.Color
	Dim     lipgloss.Color
}

var defaultTheme = theme{
	Primary: lipgloss.Color("#f5a623"),
	Accent:  lipgloss.Color("#00ff9f"),
	Alert:   lipgloss.Color("#ff5f5f"),
	Dim:     lipgloss.Color("#6e7681"),
}

type styles struct {
	Title lipgloss.Style
	Label lipgloss.Style
	Voice lipgloss.Style
	Error lipgloss.Style
	Help  lipgloss.Style
}

func newStyles(t theme) styles {
	return styles{
		Title: lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Label: lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Voice: lipgloss.NewStyle().Bold(true).Foreground(t.Accent),
		Error: lipgloss.NewStyle().Bold(true).Foreground(t.Alert),
		Help:  lipgloss.NewStyle().Foreground(t.Dim),
	}
}

var ui = newStyles(defaultTheme)

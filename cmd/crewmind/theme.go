package main

import "github.com/charmbracelet/lipgloss"

// Theme defines the dashboard styling.
type Theme struct {
	Primary lipgloss.Color
	Muted   lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
}

// DefaultTheme returns the default dashboard theme.
func DefaultTheme() Theme {
	return Theme{
		Primary: lipgloss.Color("12"),  // Blue
		Muted:   lipgloss.Color("240"), // Gray
		Success: lipgloss.Color("10"),  // Green
		Warning: lipgloss.Color("11"),  // Yellow
		Error:   lipgloss.Color("9"),   // Red
	}
}

// typeColor picks a color for a journal event type.
func (t Theme) typeColor(evType string) lipgloss.Color {
	switch evType {
	case "action", "vote", "meeting_outcome":
		return t.Success
	case "chat", "meeting_start", "kickoff":
		return t.Primary
	case "protocol_error", "transport_error", "batch_error", "meeting_abandoned":
		return t.Warning
	case "fatal":
		return t.Error
	default:
		return t.Muted
	}
}

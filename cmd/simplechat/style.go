package main

import "github.com/charmbracelet/lipgloss"

type Style struct {
	UserMessage      lipgloss.Style
	AssistantMessage lipgloss.Style
	CancelledNote    lipgloss.Style
	Title            lipgloss.Style
	StatusBar        lipgloss.Style
	ErrorBar         lipgloss.Style
}

type BorderColors struct {
	User      string
	Assistant string
}

func DefaultStyles() *Style {
	lightModeColors := BorderColors{
		User:      "#AACCFF",
		Assistant: "#CCCCCC",
	}

	darkModeColors := BorderColors{
		User:      "#5577AA",
		Assistant: "#444444",
	}

	return &Style{
		UserMessage: lipgloss.NewStyle().Border(lipgloss.NormalBorder()).
			Padding(0, 1).
			BorderForeground(lipgloss.AdaptiveColor{
				Light: lightModeColors.User,
				Dark:  darkModeColors.User,
			}),
		AssistantMessage: lipgloss.NewStyle().Border(lipgloss.NormalBorder()).
			Padding(0, 1).
			BorderForeground(lipgloss.AdaptiveColor{
				Light: lightModeColors.Assistant,
				Dark:  darkModeColors.Assistant,
			}),
		CancelledNote: lipgloss.NewStyle().Faint(true).Italic(true),
		Title: lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#333333", Dark: "#DDDDDD"}),
		StatusBar: lipgloss.NewStyle().Faint(true),
		ErrorBar: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#AA0000", Dark: "#FF7777"}),
	}
}

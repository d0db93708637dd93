package ui

import "github.com/charmbracelet/lipgloss"

// Theme defines the color palette.
type Theme struct {
	Text    lipgloss.Color
	Dim     lipgloss.Color
	Border  lipgloss.Color
	Accent  lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Info    lipgloss.Color
}

// DefaultTheme is a dark palette in Tokyo Night tones.
var DefaultTheme = Theme{
	Text:    lipgloss.Color("#c0caf5"),
	Dim:     lipgloss.Color("#565f89"),
	Border:  lipgloss.Color("#414868"),
	Accent:  lipgloss.Color("#7aa2f7"),
	Success: lipgloss.Color("#9ece6a"),
	Warning: lipgloss.Color("#e0af68"),
	Error:   lipgloss.Color("#f7768e"),
	Info:    lipgloss.Color("#7dcfff"),
}

// Styles provides pre-configured lipgloss styles using the theme.
type Styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	Dim     lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Info    lipgloss.Style
	Header  lipgloss.Style
	Panel   lipgloss.Style
	Footer  lipgloss.Style
	Key     lipgloss.Style
}

// NewStyles creates a new Styles instance from a Theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title: lipgloss.NewStyle().
			Foreground(t.Accent).
			Bold(true),
		Label:   lipgloss.NewStyle().Foreground(t.Dim).Width(16),
		Value:   lipgloss.NewStyle().Foreground(t.Text),
		Dim:     lipgloss.NewStyle().Foreground(t.Dim),
		Success: lipgloss.NewStyle().Foreground(t.Success),
		Warning: lipgloss.NewStyle().Foreground(t.Warning),
		Error:   lipgloss.NewStyle().Foreground(t.Error),
		Info:    lipgloss.NewStyle().Foreground(t.Info),
		Header: lipgloss.NewStyle().
			Foreground(t.Accent).
			Bold(true).
			PaddingRight(2),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(t.Border).
			Padding(0, 1),
		Footer: lipgloss.NewStyle().Foreground(t.Dim),
		Key:    lipgloss.NewStyle().Foreground(t.Accent).Bold(true),
	}
}

// DefaultStyles returns styles using the default theme.
var DefaultStyles = NewStyles(DefaultTheme)

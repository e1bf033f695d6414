package console

import "github.com/charmbracelet/lipgloss"

// theme groups the styles used to print bot output.
type theme struct {
	banner    lipgloss.Style
	botTitle  lipgloss.Style
	botText   lipgloss.Style
	reaction  lipgloss.Style
	cardBox   lipgloss.Style
	cardTitle lipgloss.Style
	cardLink  lipgloss.Style
	prompt    lipgloss.Style
}

func defaultTheme() theme {
	return theme{
		banner: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("88")),
		botTitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("16")).
			Background(lipgloss.Color("44")).
			Padding(0, 1),
		botText: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),
		reaction: lipgloss.NewStyle().
			Foreground(lipgloss.Color("222")),
		cardBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("109")).
			Padding(0, 1),
		cardTitle: lipgloss.NewStyle().
			Bold(true),
		cardLink: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			Underline(true),
		prompt: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")),
	}
}

// card renders an attachment with a left rule in its accent color.
func (t theme) card(color string) lipgloss.Style {
	if color == "" {
		return t.cardBox
	}
	return t.cardBox.BorderForeground(lipgloss.Color(color))
}

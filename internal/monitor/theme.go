package monitor

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/timvw/pane-conductor/internal/model"
)

// Theme defines all colors used by the monitor.
type Theme struct {
	Primary    lipgloss.Color // title, cursor
	Secondary  lipgloss.Color // selected row, completed
	Error      lipgloss.Color
	Warning    lipgloss.Color // processing
	Success    lipgloss.Color // idle
	Info       lipgloss.Color // provider names
	Text       lipgloss.Color
	TextMuted  lipgloss.Color
	Background lipgloss.Color // selected row background
	Border     lipgloss.Color
}

// DarkTheme is the default theme.
func DarkTheme() Theme {
	return Theme{
		Primary:    lipgloss.Color("#fab283"),
		Secondary:  lipgloss.Color("#5c9cf5"),
		Error:      lipgloss.Color("#e06c75"),
		Warning:    lipgloss.Color("#f5a742"),
		Success:    lipgloss.Color("#7fd88f"),
		Info:       lipgloss.Color("#56b6c2"),
		Text:       lipgloss.Color("#eeeeee"),
		TextMuted:  lipgloss.Color("#808080"),
		Background: lipgloss.Color("#1e1e1e"),
		Border:     lipgloss.Color("#484848"),
	}
}

// LightTheme is for bright terminal backgrounds.
func LightTheme() Theme {
	return Theme{
		Primary:    lipgloss.Color("#b35c00"),
		Secondary:  lipgloss.Color("#0550ae"),
		Error:      lipgloss.Color("#cf222e"),
		Warning:    lipgloss.Color("#bf8700"),
		Success:    lipgloss.Color("#116329"),
		Info:       lipgloss.Color("#0969da"),
		Text:       lipgloss.Color("#1f2328"),
		TextMuted:  lipgloss.Color("#656d76"),
		Background: lipgloss.Color("#f6f8fa"),
		Border:     lipgloss.Color("#d0d7de"),
	}
}

// ThemeByName returns a theme by name. Defaults to dark.
func ThemeByName(name string) Theme {
	switch name {
	case "light":
		return LightTheme()
	default:
		return DarkTheme()
	}
}

type styles struct {
	title    lipgloss.Style
	header   lipgloss.Style
	selected lipgloss.Style
	session  lipgloss.Style
	provider lipgloss.Style
	dim      lipgloss.Style
	text     lipgloss.Style
	err      lipgloss.Style
	output   lipgloss.Style

	statuses map[model.Status]lipgloss.Style

	hintKey  lipgloss.Style
	hintDesc lipgloss.Style
}

func newStyles(t Theme) styles {
	return styles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		header:   lipgloss.NewStyle().Foreground(t.Border),
		selected: lipgloss.NewStyle().Bold(true).Foreground(t.Secondary).Background(t.Background),
		session:  lipgloss.NewStyle().Bold(true).Foreground(t.Text),
		provider: lipgloss.NewStyle().Foreground(t.Info),
		dim:      lipgloss.NewStyle().Foreground(t.TextMuted),
		text:     lipgloss.NewStyle().Foreground(t.Text),
		err:      lipgloss.NewStyle().Foreground(t.Error),
		output: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(t.Border).
			Padding(0, 1),

		statuses: map[model.Status]lipgloss.Style{
			model.StatusIdle:       lipgloss.NewStyle().Foreground(t.Success),
			model.StatusProcessing: lipgloss.NewStyle().Foreground(t.Warning),
			model.StatusCompleted:  lipgloss.NewStyle().Foreground(t.Secondary),
			model.StatusError:      lipgloss.NewStyle().Bold(true).Foreground(t.Error),
		},

		hintKey:  lipgloss.NewStyle().Foreground(t.Text),
		hintDesc: lipgloss.NewStyle().Foreground(t.TextMuted),
	}
}

func (s styles) status(st model.Status) lipgloss.Style {
	if style, ok := s.statuses[st]; ok {
		return style
	}
	return s.dim
}

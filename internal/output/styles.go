package output

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Palette (ANSI 256).
const (
	ColorAccent   = "39"  // postgres blue
	ColorAccentLo = "25"
	ColorGray     = "245"
	ColorDarkGray = "238"
	ColorRed      = "196"
	ColorYellow   = "220"
	ColorGreen    = "114"
)

// Styles holds the lipgloss styles used by Writer.
type Styles struct {
	Title    lipgloss.Style
	Rank     lipgloss.Style
	Meta     lipgloss.Style
	Link     lipgloss.Style
	Value    lipgloss.Style
	Header   lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Progress lipgloss.Style
}

// DefaultStyles returns the colored styles, rendered for out's terminal
// capabilities.
func DefaultStyles(out io.Writer) Styles {
	r := lipgloss.NewRenderer(out)
	return Styles{
		Title:    r.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAccent)),
		Rank:     r.NewStyle().Foreground(lipgloss.Color(ColorAccentLo)),
		Meta:     r.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Link:     r.NewStyle().Underline(true).Foreground(lipgloss.Color(ColorGray)),
		Value:    r.NewStyle().Foreground(lipgloss.Color(ColorGreen)),
		Header:   r.NewStyle().Bold(true),
		Success:  r.NewStyle().Foreground(lipgloss.Color(ColorGreen)),
		Warning:  r.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:    r.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Progress: r.NewStyle().Foreground(lipgloss.Color(ColorAccent)),
	}
}

// NoColorStyles returns styles that render text unchanged.
func NoColorStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Title: plain, Rank: plain, Meta: plain, Link: plain, Value: plain,
		Header: plain, Success: plain, Warning: plain,
		Error: plain, Progress: plain,
	}
}

// GetStyles picks the styles for out.
func GetStyles(out io.Writer, noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles(out)
}

package terminal

import "github.com/charmbracelet/lipgloss"

var (
	// Heading colors step down from bright to muted by level.
	colorH1 = lipgloss.AdaptiveColor{Light: "#0f172a", Dark: "#f1f5f9"}
	colorH2 = lipgloss.AdaptiveColor{Light: "#1e40af", Dark: "#93c5fd"}
	colorH3 = lipgloss.AdaptiveColor{Light: "#334155", Dark: "#cbd5e1"}

	// UI colors.
	colorLink = lipgloss.AdaptiveColor{Light: "#2563eb", Dark: "#60a5fa"}
	colorDim  = lipgloss.AdaptiveColor{Light: "#94a3b8", Dark: "#64748b"}
	colorPre  = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34d399"} // emerald
	colorWarn = lipgloss.AdaptiveColor{Light: "#b45309", Dark: "#fbbf24"}
)

var (
	styleH1 = lipgloss.NewStyle().Foreground(colorH1).Bold(true)
	styleH2 = lipgloss.NewStyle().Foreground(colorH2).Bold(true)
	styleH3 = lipgloss.NewStyle().Foreground(colorH3).Bold(true).Italic(true)

	styleLinkIndex = lipgloss.NewStyle().Foreground(colorDim)
	styleLink      = lipgloss.NewStyle().Foreground(colorLink).Underline(true)

	stylePre    = lipgloss.NewStyle().Foreground(colorPre)
	styleMeta   = lipgloss.NewStyle().Foreground(colorDim)
	styleNotice = lipgloss.NewStyle().Foreground(colorWarn).Bold(true)
)

package tui

import "github.com/gdamore/tcell/v2"

// Theme holds color constants for the TUI.
type Theme struct {
	BgColor       tcell.Color
	FgColor       tcell.Color
	BorderColor   tcell.Color
	TableHeaderFg tcell.Color
	TableHeaderBg tcell.Color
	TableCursorFg tcell.Color
	TableCursorBg tcell.Color
	TitleColor    tcell.Color
	SelfColor     tcell.Color
	PeerColor     tcell.Color
	MutedColor    tcell.Color
	FailedColor   tcell.Color
	TypingColor   tcell.Color
	OnlineColor   tcell.Color
}

// DefaultTheme returns the dark theme used unless overridden.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:       tcell.ColorBlack,
		FgColor:       tcell.ColorCadetBlue,
		BorderColor:   tcell.ColorDodgerBlue,
		TableHeaderFg: tcell.ColorWhite,
		TableHeaderBg: tcell.ColorBlack,
		TableCursorFg: tcell.ColorBlack,
		TableCursorBg: tcell.ColorAqua,
		TitleColor:    tcell.ColorFuchsia,
		SelfColor:     tcell.ColorLightGreen,
		PeerColor:     tcell.ColorLightSkyBlue,
		MutedColor:    tcell.ColorGray,
		FailedColor:   tcell.ColorOrangeRed,
		TypingColor:   tcell.ColorYellow,
		OnlineColor:   tcell.ColorGreen,
	}
}

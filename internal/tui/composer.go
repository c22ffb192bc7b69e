package tui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Composer is the text input for sending messages. Every keystroke counts
// as typing activity; submitting or clearing the field counts as stopping.
type Composer struct {
	*tview.InputField
	onSend     func(text string)
	onActivity func()
	onStop     func()
}

// NewComposer creates the composer.
func NewComposer(theme *Theme) *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	input.SetBorder(true)
	input.SetBorderColor(theme.BorderColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetTitle(" Compose (i to focus) ")
	input.SetTitleColor(theme.TitleColor)

	c := &Composer{InputField: input}

	input.SetChangedFunc(func(text string) {
		if text == "" {
			if c.onStop != nil {
				c.onStop()
			}
			return
		}
		if c.onActivity != nil {
			c.onActivity()
		}
	})
	input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || c.onSend == nil {
			return
		}
		text := c.GetText()
		if text == "" {
			return
		}
		c.SetText("")
		c.onSend(text)
		if c.onStop != nil {
			c.onStop()
		}
	})
	return c
}

// SetOnSend sets the submit callback.
func (c *Composer) SetOnSend(fn func(text string)) { c.onSend = fn }

// SetOnActivity sets the callback fired on each keystroke with content.
func (c *Composer) SetOnActivity(fn func()) { c.onActivity = fn }

// SetOnStop sets the callback fired when the field empties or submits.
func (c *Composer) SetOnStop(fn func()) { c.onStop = fn }

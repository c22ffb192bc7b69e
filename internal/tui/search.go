package tui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/rbarbosa/chatsync/internal/store"
)

// SearchView is the full-text message search page.
type SearchView struct {
	*tview.Flex
	theme    *Theme
	input    *tview.InputField
	results  *tview.Table
	matches  []store.SearchResult
	onQuery  func(query string)
	onOpen   func(convID string)
}

// NewSearchView creates the search page.
func NewSearchView(theme *Theme) *SearchView {
	input := tview.NewInputField().
		SetLabel(" search: ").
		SetFieldWidth(0)
	input.SetBorder(true)
	input.SetBorderColor(theme.BorderColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)

	results := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	results.SetBorder(true)
	results.SetBorderColor(theme.BorderColor)
	results.SetTitle(" Results ")
	results.SetTitleColor(theme.TitleColor)
	results.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(input, 3, 0, true).
		AddItem(results, 0, 1, false)

	sv := &SearchView{Flex: flex, theme: theme, input: input, results: results}

	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && sv.onQuery != nil {
			sv.onQuery(input.GetText())
		}
	})
	results.SetSelectedFunc(func(row, col int) {
		idx := row
		if idx >= 0 && idx < len(sv.matches) && sv.onOpen != nil {
			sv.onOpen(sv.matches[idx].Message.ConversationID)
		}
	})
	return sv
}

// SetOnQuery sets the search submit callback.
func (sv *SearchView) SetOnQuery(fn func(query string)) { sv.onQuery = fn }

// SetOnOpen sets the callback fired when a result is opened.
func (sv *SearchView) SetOnOpen(fn func(convID string)) { sv.onOpen = fn }

// Input returns the query field for focus management.
func (sv *SearchView) Input() *tview.InputField { return sv.input }

// Results returns the result table for focus management.
func (sv *SearchView) Results() *tview.Table { return sv.results }

// Update renders a fresh result set.
func (sv *SearchView) Update(matches []store.SearchResult) {
	sv.matches = matches
	sv.results.Clear()
	for row, res := range matches {
		m := res.Message
		sv.results.SetCell(row, 0, tview.NewTableCell(" "+m.CreatedAt.Format("01/02 15:04")).
			SetTextColor(sv.theme.MutedColor))
		sv.results.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(m.SenderName))).
			SetTextColor(sv.theme.PeerColor))
		sv.results.SetCell(row, 2, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(res.Snippet))).
			SetExpansion(1).SetTextColor(sv.theme.FgColor))
	}
	sv.results.SetTitle(fmt.Sprintf(" Results (%d) ", len(matches)))
}

package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/rbarbosa/chatsync/internal/store"
)

// ConversationList is the main conversation table.
type ConversationList struct {
	*tview.Table
	theme  *Theme
	convs  []store.Conversation
	online func(userID string) bool
	filter string
}

// NewConversationList creates the list. online resolves presence dots.
func NewConversationList(theme *Theme, online func(userID string) bool) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitle(" Conversations ")
	table.SetTitleColor(theme.TitleColor)

	return &ConversationList{Table: table, theme: theme, online: online}
}

// Update refreshes the list. The slice arrives pre-sorted by last activity.
func (cl *ConversationList) Update(convs []store.Conversation) {
	cl.convs = convs
	cl.render()
}

// SetFilter sets the filter text and re-renders.
func (cl *ConversationList) SetFilter(filter string) {
	cl.filter = filter
	cl.render()
}

func (cl *ConversationList) render() {
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" PEER", 1},
		{" LAST MESSAGE", 2},
		{" TIME", 0},
	}
	for col, h := range headers {
		cl.SetCell(0, col, tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp))
	}

	row := 1
	for _, c := range cl.visible() {
		name := c.PeerName
		if name == "" {
			name = c.PeerID
		}
		if cl.online != nil && cl.online(c.PeerID) {
			name = "● " + name
		} else {
			name = "  " + name
		}
		if c.UnreadCount > 0 {
			name = fmt.Sprintf("%s (%d)", name, c.UnreadCount)
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(name))).
			SetExpansion(1).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(c.LastMessagePreview))).
			SetExpansion(2).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 2, tview.NewTableCell(formatTimestamp(c.LastActivity)).
			SetExpansion(0).SetTextColor(cl.theme.FgColor).SetAlign(tview.AlignRight))
		row++
	}

	if cl.filter != "" {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d/%d) filter: %s ", row-1, len(cl.convs), cl.filter))
	} else {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d) ", len(cl.convs)))
	}
}

// Selected returns the conversation under the cursor.
func (cl *ConversationList) Selected() (store.Conversation, bool) {
	row, _ := cl.GetSelection()
	idx := row - 1
	vis := cl.visible()
	if idx < 0 || idx >= len(vis) {
		return store.Conversation{}, false
	}
	return vis[idx], true
}

func (cl *ConversationList) visible() []store.Conversation {
	if cl.filter == "" {
		return cl.convs
	}
	needle := strings.ToLower(cl.filter)
	var out []store.Conversation
	for _, c := range cl.convs {
		if strings.Contains(strings.ToLower(c.PeerName), needle) ||
			strings.Contains(strings.ToLower(c.LastMessagePreview), needle) {
			out = append(out, c)
		}
	}
	return out
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}

package tui

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/rbarbosa/chatsync/internal/store"
	intsync "github.com/rbarbosa/chatsync/internal/sync"
)

type msgBlock struct {
	id    string
	start int
	lines int
}

// Thread renders the message window of the current conversation. It keeps a
// per-message line index so scroll geometry can be reported to the engine
// and scroll plans applied back without the engine knowing about rendering.
type Thread struct {
	*tview.TextView
	theme  *Theme
	selfID string

	blocks      []msgBlock
	total       int
	onScrollTop func()
	onScrolled  func()
}

// NewThread creates the thread view.
func NewThread(theme *Theme, selfID string) *Thread {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Messages ")
	tv.SetTitleColor(theme.TitleColor)

	t := &Thread{TextView: tv, theme: theme, selfID: selfID}

	tv.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		row, _ := t.GetScrollOffset()
		up := event.Key() == tcell.KeyUp || event.Key() == tcell.KeyPgUp ||
			(event.Key() == tcell.KeyRune && event.Rune() == 'k')
		if up && row == 0 && t.onScrollTop != nil {
			t.onScrollTop()
		}
		if t.onScrolled != nil {
			// Report after tview has moved the viewport.
			defer t.onScrolled()
		}
		return event
	})
	return t
}

// SetOnScrollTop sets the callback fired when the user scrolls up at the
// top of the loaded window.
func (t *Thread) SetOnScrollTop(fn func()) { t.onScrollTop = fn }

// SetOnScrolled sets the callback fired after any scroll movement.
func (t *Thread) SetOnScrolled(fn func()) { t.onScrolled = fn }

// SetPeer updates the view title.
func (t *Thread) SetPeer(name string) {
	t.SetTitle(fmt.Sprintf(" %s ", name))
}

// Update re-renders the message window, rebuilding the line index.
func (t *Thread) Update(msgs []store.Message, hasMoreOlder bool) {
	t.Clear()
	t.blocks = t.blocks[:0]
	line := 0

	if hasMoreOlder {
		_, _ = fmt.Fprintf(t, "[%s]-- scroll up for older messages --[-]\n\n", "gray")
		line += 2
	}

	for i := range msgs {
		text := t.renderMessage(&msgs[i], msgs)
		n := strings.Count(text, "\n")
		t.blocks = append(t.blocks, msgBlock{id: msgs[i].ID, start: line, lines: n})
		line += n
		_, _ = fmt.Fprint(t, text)
	}
	t.total = line
}

func (t *Thread) renderMessage(m *store.Message, window []store.Message) string {
	sender := m.SenderName
	if sender == "" {
		sender = m.SenderID
	}
	color := t.theme.PeerColor
	if m.SenderID == t.selfID {
		sender = "You"
		color = t.theme.SelfColor
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s::b]%s[-:-:-] [::d]%s[-:-:-]", colorTag(color),
		tview.Escape(sanitizeForTerminal(sender)), m.CreatedAt.Format("15:04"))

	if m.SenderID == t.selfID {
		switch m.Status {
		case store.StatusSending:
			b.WriteString(" [::d]sending...[-:-:-]")
		case store.StatusFailed:
			fmt.Fprintf(&b, " [%s]send failed[-]", colorTag(t.theme.FailedColor))
		default:
			if len(m.ReadBy) > 0 {
				b.WriteString(" [::d]read[-:-:-]")
			}
		}
	}
	b.WriteString("\n")

	if m.ReplyToID != "" {
		if quoted := findInWindow(window, m.ReplyToID); quoted != "" {
			fmt.Fprintf(&b, "[::d]> %s[-:-:-]\n", tview.Escape(sanitizeForTerminal(truncateLine(quoted, 60))))
		}
	}

	if m.Deleted != nil {
		fmt.Fprintf(&b, "[%s::d]message deleted[-:-:-]\n", colorTag(t.theme.MutedColor))
	} else {
		body := m.Content
		if m.Type == store.TypeImage && body == "" {
			body = "[image]"
		}
		b.WriteString(tview.Escape(sanitizeForTerminal(body)))
		if m.Edited != nil {
			b.WriteString(" [::d](edited)[-:-:-]")
		}
		b.WriteString("\n")
	}

	if len(m.Reactions) > 0 {
		var parts []string
		for _, r := range m.Reactions {
			parts = append(parts, r.Emoji)
		}
		fmt.Fprintf(&b, "[::d]%s[-:-:-]\n", tview.Escape(strings.Join(parts, " ")))
	}

	b.WriteString("\n")
	return b.String()
}

// Viewport reports the current scroll geometry, anchored to the topmost
// visible message. Offsets are in rows; wrapping makes them approximate,
// which is fine for anchoring.
func (t *Thread) Viewport() intsync.Viewport {
	row, _ := t.GetScrollOffset()
	_, _, _, height := t.GetInnerRect()
	vp := intsync.Viewport{
		Height:        height,
		ContentHeight: t.total,
		ScrollTop:     row,
	}
	for _, blk := range t.blocks {
		if blk.start+blk.lines > row {
			vp.TopMessageID = blk.id
			vp.TopOffset = row - blk.start
			break
		}
	}
	return vp
}

// ApplyPlan moves the viewport per the engine's scroll plan.
func (t *Thread) ApplyPlan(plan intsync.ScrollPlan) {
	if plan.ToBottom {
		t.ScrollToEnd()
		return
	}
	if plan.AnchorID == "" {
		return
	}
	for _, blk := range t.blocks {
		if blk.id == plan.AnchorID {
			t.ScrollTo(blk.start+plan.AnchorOffset, 0)
			return
		}
	}
}

func findInWindow(window []store.Message, id string) string {
	for i := range window {
		if window[i].ID == id {
			if window[i].Deleted != nil {
				return "message deleted"
			}
			return window[i].Content
		}
	}
	return ""
}

func truncateLine(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

func colorTag(c tcell.Color) string {
	return fmt.Sprintf("#%06x", c.Hex())
}

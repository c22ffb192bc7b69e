package tui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/rbarbosa/chatsync/internal/status"
)

// StatusBar shows the connection state, peer presence and typing activity
// as a persistent non-blocking line at the bottom of the screen.
type StatusBar struct {
	*tview.TextView
	session  string
	conn     status.State
	presence string
	typing   []string
	flash    string
}

// NewStatusBar creates the status bar.
func NewStatusBar(session string) *StatusBar {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)
	sb := &StatusBar{TextView: tv, session: session, conn: status.Disconnected}
	sb.render()
	return sb
}

// SetConnState updates the connection indicator.
func (sb *StatusBar) SetConnState(s status.State) {
	sb.conn = s
	sb.render()
}

// SetPresence updates the current peer's presence text.
func (sb *StatusBar) SetPresence(text string) {
	sb.presence = text
	sb.render()
}

// SetTypists updates the typing indicator with the given usernames.
func (sb *StatusBar) SetTypists(names []string) {
	sb.typing = names
	sb.render()
}

// SetFlash sets a transient message, cleared by passing "".
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	conn := string(sb.conn)
	switch sb.conn {
	case status.Connected:
		conn = "[green]" + conn + "[-]"
	case status.Reconnecting, status.Connecting:
		conn = "[yellow]" + conn + "[-]"
	case status.Failed:
		conn = "[red]" + conn + "[-]"
	}

	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s", sb.session, conn)
	if sb.presence != "" {
		line += " | " + sb.presence
	}
	if len(sb.typing) == 1 {
		line += fmt.Sprintf(" | [yellow]%s is typing...[-]", sb.typing[0])
	} else if len(sb.typing) > 1 {
		line += fmt.Sprintf(" | [yellow]%s are typing...[-]", strings.Join(sb.typing, ", "))
	}
	if sb.flash != "" {
		line += fmt.Sprintf(" | [orange]%s[-]", sb.flash)
	}
	_, _ = fmt.Fprint(sb, line)
}

package tui

import (
	"context"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/rbarbosa/chatsync/internal/bus"
	"github.com/rbarbosa/chatsync/internal/presence"
	"github.com/rbarbosa/chatsync/internal/status"
	"github.com/rbarbosa/chatsync/internal/store"
	intsync "github.com/rbarbosa/chatsync/internal/sync"
	"github.com/rbarbosa/chatsync/internal/typing"
)

// App is the TUI shell. All state lives in the engine and trackers; the
// app only reads snapshots on bus events and forwards input.
type App struct {
	app    *tview.Application
	pages  *tview.Pages
	engine *intsync.Engine
	typing *typing.Coordinator
	pres   *presence.Tracker
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	list      *ConversationList
	thread    *Thread
	composer  *Composer
	statusBar *StatusBar
	searchV   *SearchView

	current store.Conversation

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp wires the TUI against the running engine.
func NewApp(engine *intsync.Engine, tc *typing.Coordinator, pres *presence.Tracker, db *store.DB, b *bus.Bus, selfID, session string, logger *zap.Logger) *App {
	theme := DefaultTheme()
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		engine:    engine,
		typing:    tc,
		pres:      pres,
		db:        db,
		bus:       b,
		logger:    logger,
		statusBar: NewStatusBar(session),
		thread:    NewThread(theme, selfID),
		composer:  NewComposer(theme),
		searchV:   NewSearchView(theme),
		ctx:       ctx,
		cancel:    cancel,
	}
	a.list = NewConversationList(theme, pres.Online)

	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupCallbacks() {
	a.list.SetSelectedFunc(func(row, col int) {
		conv, ok := a.list.Selected()
		if !ok {
			return
		}
		a.openConversation(conv)
	})

	a.composer.SetOnSend(func(text string) {
		go func() {
			if _, err := a.engine.Send(text, "", "", ""); err != nil {
				a.queueFlash("Send failed: " + err.Error())
			}
		}()
	})
	a.composer.SetOnActivity(func() {
		if a.current.ID != "" {
			a.typing.NotifyLocalActivity(a.current.ID, a.current.PeerID)
		}
	})
	a.composer.SetOnStop(func() {
		if a.current.ID != "" {
			a.typing.StopLocal(a.current.ID, a.current.PeerID)
		}
	})

	a.thread.SetOnScrollTop(func() {
		a.engine.UpdateViewport(a.thread.Viewport())
		a.engine.LoadOlder()
	})
	a.thread.SetOnScrolled(func() {
		a.engine.UpdateViewport(a.thread.Viewport())
	})

	a.searchV.SetOnQuery(func(query string) {
		go func() {
			results, err := a.db.SearchMessages(query, "", 50)
			if err != nil {
				a.queueFlash("Search failed: " + err.Error())
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.searchV.Update(results)
				a.app.SetFocus(a.searchV.Results())
			})
		}()
	})
	a.searchV.SetOnOpen(func(convID string) {
		for _, c := range a.engine.Conversations() {
			if c.ID == convID {
				a.openConversation(c)
				return
			}
		}
	})
}

func (a *App) setupLayout() {
	threadFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.thread, 0, 1, true).
		AddItem(a.composer, 3, 0, false)

	a.pages.AddPage("conversations", a.list, true, true)
	a.pages.AddPage("thread", threadFlex, true, false)
	a.pages.AddPage("search", a.searchV, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		page, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape && page != "conversations" {
			a.pages.SwitchToPage("conversations")
			a.app.SetFocus(a.list)
			return nil
		}
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			return event
		}
		if event.Key() == tcell.KeyRune {
			switch event.Rune() {
			case 'q':
				a.app.Stop()
				return nil
			case 's':
				a.pages.SwitchToPage("search")
				a.app.SetFocus(a.searchV.Input())
				return nil
			case 'i':
				if page == "thread" {
					a.app.SetFocus(a.composer.InputField)
					return nil
				}
			}
		}
		return event
	})
}

func (a *App) openConversation(conv store.Conversation) {
	a.current = conv
	name := conv.PeerName
	if name == "" {
		name = conv.PeerID
	}
	a.thread.SetPeer(name)
	a.statusBar.SetPresence(a.pres.StatusText(conv.PeerID))
	a.pages.SwitchToPage("thread")
	a.app.SetFocus(a.thread)
	go func() {
		if err := a.engine.SelectConversation(a.ctx, conv.ID); err != nil {
			a.queueFlash("Load failed: " + err.Error())
		}
	}()
}

// Run starts the event pump and blocks until the UI exits.
func (a *App) Run() error {
	ch, unsub := a.bus.Subscribe("", 256)
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				a.handleEvent(evt)
			case <-a.ctx.Done():
				return
			}
		}
	}()

	a.app.QueueUpdateDraw(func() {
		a.list.Update(a.engine.Conversations())
	})
	err := a.app.Run()
	a.cancel()
	return err
}

// Stop shuts the UI down.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

func (a *App) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindConvUpdated:
		convID, _ := evt.Payload.(string)
		if convID != a.current.ID {
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.thread.Update(a.engine.Messages(convID), a.engine.HasMoreOlder(convID))
			a.engine.UpdateViewport(a.thread.Viewport())
		})
	case bus.KindScrollPlan:
		plan, ok := evt.Payload.(intsync.ScrollPlan)
		if !ok {
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.thread.ApplyPlan(plan)
			a.engine.UpdateViewport(a.thread.Viewport())
		})
	case bus.KindConvListDirty:
		a.app.QueueUpdateDraw(func() {
			a.list.Update(a.engine.Conversations())
		})
	case bus.KindConvLoading:
		convID, _ := evt.Payload.(string)
		if convID != a.current.ID {
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.thread.Update(nil, false)
			a.thread.SetTitle(" Loading... ")
		})
	case bus.KindSendFailed:
		a.queueFlash("Message failed to send")
	case bus.KindLoadFailed:
		a.queueFlash("Could not load messages")
	case bus.KindTypingChanged:
		convID, _ := evt.Payload.(string)
		if convID != a.current.ID {
			return
		}
		var names []string
		for _, e := range a.typing.Typists(convID) {
			names = append(names, e.Username)
		}
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetTypists(names)
		})
	case bus.KindPresenceChanged:
		a.app.QueueUpdateDraw(func() {
			a.list.Update(a.engine.Conversations())
			if a.current.PeerID != "" {
				a.statusBar.SetPresence(a.pres.StatusText(a.current.PeerID))
			}
		})
	case bus.KindConnStatus:
		change, ok := evt.Payload.(status.StatusChange)
		if !ok {
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetConnState(change.To)
		})
	}
}

func (a *App) queueFlash(msg string) {
	a.app.QueueUpdateDraw(func() {
		a.statusBar.SetFlash(msg)
	})
}

// Package ui is a thin tview front end over the session engine. All state
// and protocol behavior lives in client/session; this package only renders
// data and collects user choices.
package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/rs/zerolog"

	"chatwire/client/session"
	"chatwire/models"
)

// App is the terminal client application.
type App struct {
	app        *tview.Application
	pages      *tview.Pages
	sess       *session.Session
	serverAddr string
	status     *tview.TextView
}

// NewApp creates a new application instance.
func NewApp(serverAddr string) *App {
	return &App{serverAddr: serverAddr}
}

// Run starts the application.
func (a *App) Run() error {
	a.app = tview.NewApplication()
	a.pages = tview.NewPages()

	a.status = tview.NewTextView()
	a.status.SetDynamicColors(true)
	a.status.SetTextColor(tcell.ColorYellow)

	sess, err := session.Dial(session.Config{
		Addr:   a.serverAddr,
		OnPush: a.onPush,
		Logger: zerolog.Nop(),
	})
	if err != nil {
		return err
	}
	a.sess = sess
	defer a.sess.Close()

	a.showAuthPage("")
	return a.app.SetRoot(a.pages, true).EnableMouse(false).Run()
}

// onPush runs on the session's push goroutine; rendering has to go through
// the tview event loop.
func (a *App) onPush(msg models.Message) {
	a.app.QueueUpdateDraw(func() {
		a.status.SetText(fmt.Sprintf("[yellow]New message from %s: %s[-]", msg.Sender, msg.Content))
	})
}

func (a *App) layout(body tview.Primitive) tview.Primitive {
	flex := tview.NewFlex().SetDirection(tview.FlexRow)
	flex.AddItem(body, 0, 1, true)
	flex.AddItem(a.status, 1, 0, false)
	return flex
}

func (a *App) showAuthPage(notice string) {
	form := tview.NewForm()
	form.SetBorder(true)
	form.SetTitle(" chatwire ")

	var username, password string
	form.AddInputField("Username", "", 30, nil, func(text string) { username = text })
	form.AddPasswordField("Password", "", 30, '*', func(text string) { password = text })

	info := tview.NewTextView().SetTextColor(tcell.ColorRed)
	info.SetText(notice)

	form.AddButton("Login", func() {
		if err := a.sess.Login(username, password); err != nil {
			info.SetText(err.Error())
			return
		}
		a.showMenuPage()
	})
	form.AddButton("Create Account", func() {
		if err := a.sess.CreateAccount(username, password); err != nil {
			info.SetText(err.Error())
			return
		}
		info.SetText("account created, log in to continue")
	})
	form.AddButton("Search Accounts", func() {
		a.showSearchPage(func() { a.showAuthPage("") })
	})
	form.AddButton("Quit", func() { a.app.Stop() })

	flex := tview.NewFlex().SetDirection(tview.FlexRow)
	flex.AddItem(form, 0, 1, true)
	flex.AddItem(info, 1, 0, false)

	a.pages.AddAndSwitchToPage("auth", a.layout(flex), true)
}

func (a *App) showMenuPage() {
	menu := tview.NewList()
	menu.SetBorder(true)
	menu.SetTitle(fmt.Sprintf(" %s ", a.sess.CurrentUser()))
	menu.AddItem("Send Message", "compose a direct message", 's', a.showSendPage)
	menu.AddItem("Read Messages", "open your mailbox", 'r', a.showMessagesPage)
	menu.AddItem("Search Accounts", "find users by prefix", 'f', func() {
		a.showSearchPage(a.showMenuPage)
	})
	menu.AddItem("Delete Account", "remove this account", 'x', func() {
		if err := a.sess.DeleteAccount(); err != nil {
			a.status.SetText(err.Error())
			return
		}
		a.showAuthPage("account deleted")
	})
	menu.AddItem("Logout", "close this session", 'q', func() {
		a.sess.Logout()
		a.app.Stop()
	})

	a.pages.AddAndSwitchToPage("menu", a.layout(menu), true)
}

func (a *App) showSendPage() {
	form := tview.NewForm()
	form.SetBorder(true)
	form.SetTitle(" Send Message ")

	var receiver, content string
	form.AddInputField("To", "", 30, nil, func(text string) { receiver = text })
	form.AddInputField("Message", "", 60, nil, func(text string) { content = text })

	form.AddButton("Send", func() {
		if err := a.sess.SendMessage(receiver, content); err != nil {
			a.status.SetText(err.Error())
			return
		}
		a.status.SetText("message sent to " + receiver)
		a.showMenuPage()
	})
	form.AddButton("Back", a.showMenuPage)

	a.pages.AddAndSwitchToPage("send", a.layout(form), true)
}

func (a *App) showSearchPage(back func()) {
	form := tview.NewForm()
	form.SetBorder(true)
	form.SetTitle(" Search Accounts ")

	results := tview.NewList().ShowSecondaryText(false)
	results.SetBorder(true)
	results.SetTitle(" Results ")

	var search string
	form.AddInputField("Prefix", "", 30, nil, func(text string) { search = text })
	form.AddButton("Search", func() {
		names, err := a.sess.ListAccounts(search)
		if err != nil {
			a.status.SetText(err.Error())
			return
		}
		results.Clear()
		if len(names) == 0 {
			a.status.SetText("no accounts found")
			return
		}
		for _, name := range names {
			results.AddItem(name, "", 0, nil)
		}
	})
	form.AddButton("Back", back)

	flex := tview.NewFlex()
	flex.AddItem(form, 0, 1, true)
	flex.AddItem(results, 0, 1, false)

	a.pages.AddAndSwitchToPage("search", a.layout(flex), true)
}

func (a *App) showMessagesPage() {
	msgs, err := a.sess.ReadMessages()
	if err != nil {
		a.status.SetText(err.Error())
		return
	}
	a.status.SetText("")

	list := tview.NewList().ShowSecondaryText(true)
	list.SetBorder(true)
	list.SetTitle(fmt.Sprintf(" Messages (%d), Enter marks, d deletes marked, b goes back ", len(msgs)))

	selected := make(map[int]bool)
	for i, msg := range msgs {
		i, msg := i, msg
		line := fmt.Sprintf("From %s to %s: %s", msg.Sender, msg.Receiver, msg.Content)
		when := msg.Timestamp.Format("2006-01-02 15:04:05")
		list.AddItem(line, when, 0, func() {
			selected[i] = !selected[i]
			mark := ""
			if selected[i] {
				mark = "[x] "
			}
			list.SetItemText(i, mark+line, when)
		})
	}

	list.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Rune() {
		case 'b':
			a.showMenuPage()
			return nil
		case 'd':
			var chosen []models.Message
			for i, msg := range msgs {
				if selected[i] {
					chosen = append(chosen, msg)
				}
			}
			if len(chosen) == 0 {
				a.status.SetText("no messages marked")
				return nil
			}
			if err := a.sess.DeleteMessages(chosen); err != nil {
				a.status.SetText(err.Error())
				return nil
			}
			a.status.SetText(fmt.Sprintf("deleted %d messages", len(chosen)))
			a.showMessagesPage()
			return nil
		}
		return event
	})

	a.pages.AddAndSwitchToPage("messages", a.layout(list), true)
}

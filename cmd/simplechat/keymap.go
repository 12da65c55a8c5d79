package main

import "github.com/charmbracelet/bubbles/key"

type KeyMap struct {
	SubmitMessage    key.Binding
	StopGenerating   key.Binding
	NewChat          key.Binding
	NextConversation key.Binding
	PrevConversation key.Binding
	DeleteChat       key.Binding
	Resync           key.Binding
	ScrollUp         key.Binding
	ScrollDown       key.Binding
	Quit             key.Binding
}

var DefaultKeyMap = KeyMap{
	SubmitMessage:    key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "send")),
	StopGenerating:   key.NewBinding(key.WithKeys("esc", "ctrl+g"), key.WithHelp("esc", "stop")),
	NewChat:          key.NewBinding(key.WithKeys("ctrl+n"), key.WithHelp("ctrl+n", "new chat")),
	NextConversation: key.NewBinding(key.WithKeys("ctrl+j"), key.WithHelp("ctrl+j", "next chat")),
	PrevConversation: key.NewBinding(key.WithKeys("ctrl+k"), key.WithHelp("ctrl+k", "prev chat")),
	DeleteChat:       key.NewBinding(key.WithKeys("ctrl+d"), key.WithHelp("ctrl+d", "delete chat")),
	Resync:           key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "resync")),
	ScrollUp:         key.NewBinding(key.WithKeys("pgup", "shift+pgup")),
	ScrollDown:       key.NewBinding(key.WithKeys("pgdown", "shift+pgdown")),
	Quit:             key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
}

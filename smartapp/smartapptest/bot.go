// Package smartapptest provides an in-memory smartapp.Bot for tests.
package smartapptest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"smartapp-rpc/smartapp"
)

// Push is one recorded counter notification.
type Push struct {
	BotID   uuid.UUID
	ChatID  uuid.UUID
	Counter int
	Body    string
}

// Bot records everything sent through it.
type Bot struct {
	mu      sync.Mutex
	events  []*smartapp.OutgoingEvent
	pushes  []Push
	customs []*smartapp.CustomNotification

	// Err, when set, is returned by every send.
	Err error
}

func (b *Bot) SendSmartAppEvent(_ context.Context, event *smartapp.OutgoingEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return b.Err
	}
	b.events = append(b.events, event)
	return nil
}

func (b *Bot) SendSmartAppNotification(_ context.Context, botID, chatID uuid.UUID, counter int, body string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return b.Err
	}
	b.pushes = append(b.pushes, Push{BotID: botID, ChatID: chatID, Counter: counter, Body: body})
	return nil
}

func (b *Bot) SendSmartAppCustomNotification(_ context.Context, n *smartapp.CustomNotification) (uuid.UUID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return uuid.Nil, b.Err
	}
	b.customs = append(b.customs, n)
	return uuid.New(), nil
}

// Events returns a snapshot of the sent events.
func (b *Bot) Events() []*smartapp.OutgoingEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*smartapp.OutgoingEvent(nil), b.events...)
}

func (b *Bot) Pushes() []Push {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Push(nil), b.pushes...)
}

func (b *Bot) CustomNotifications() []*smartapp.CustomNotification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*smartapp.CustomNotification(nil), b.customs...)
}

// NewEvent returns an inbound event calling method with params.
func NewEvent(method string, params map[string]any) *smartapp.Event {
	data := map[string]any{"method": method, "type": "smartapp_rpc"}
	if params != nil {
		data["params"] = params
	}
	return &smartapp.Event{
		Ref:    uuid.New(),
		BotID:  uuid.New(),
		ChatID: uuid.New(),
		Data:   data,
	}
}

// Package smartapp holds the per-request context handed to RPC handlers and
// the contract of the bot transport that delivers events and ships replies.
package smartapp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"smartapp-rpc/message"
)

// Event is an inbound SmartApp event as decoded by the transport.
type Event struct {
	Ref    uuid.UUID
	BotID  uuid.UUID
	ChatID uuid.UUID

	// Data is the raw RPC request object.
	Data  map[string]any
	Files []message.File
}

// OutgoingEvent is what the transport sends back to the caller.
type OutgoingEvent struct {
	BotID     uuid.UUID
	ChatID    uuid.UUID
	Ref       *uuid.UUID
	Data      json.RawMessage
	Files     []message.File
	Encrypted bool
}

// CustomNotification is a push notification with caller-defined content.
type CustomNotification struct {
	BotID           uuid.UUID
	GroupChatID     uuid.UUID
	Title           string
	Body            string
	Meta            map[string]any
	WaitCallback    bool
	CallbackTimeout float64
}

// Bot is the transport collaborator. Implementations must be safe for
// concurrent use: requests are handled in parallel.
type Bot interface {
	SendSmartAppEvent(ctx context.Context, event *OutgoingEvent) error
	SendSmartAppNotification(ctx context.Context, botID, chatID uuid.UUID, counter int, body string) error
	SendSmartAppCustomNotification(ctx context.Context, n *CustomNotification) (uuid.UUID, error)
}

// State is scratch space shared by the middlewares and the handler of a
// single request. It is never shared between requests.
type State map[string]any

// SmartApp is the context of one RPC request.
type SmartApp struct {
	Bot    Bot
	BotID  uuid.UUID
	ChatID uuid.UUID
	Event  *Event
	State  State
}

// New returns a SmartApp with fresh State. event may be nil for calls that
// do not originate from an inbound event.
func New(bot Bot, botID, chatID uuid.UUID, event *Event) *SmartApp {
	return &SmartApp{
		Bot:    bot,
		BotID:  botID,
		ChatID: chatID,
		Event:  event,
		State:  State{},
	}
}

// FromEvent returns the SmartApp for an inbound event.
func FromEvent(bot Bot, event *Event) *SmartApp {
	return New(bot, event.BotID, event.ChatID, event)
}

// SendEvent pushes an unsolicited ok envelope with result to the chat.
func (s *SmartApp) SendEvent(ctx context.Context, result any, files []message.File, encrypted bool) error {
	data, err := json.Marshal(message.NewResult(result))
	if err != nil {
		return fmt.Errorf("smartapp: encode event: %w", err)
	}
	return s.Bot.SendSmartAppEvent(ctx, &OutgoingEvent{
		BotID:     s.BotID,
		ChatID:    s.ChatID,
		Data:      data,
		Files:     files,
		Encrypted: encrypted,
	})
}

// SendPush updates the SmartApp counter badge, optionally with a body.
func (s *SmartApp) SendPush(ctx context.Context, counter int, body string) error {
	return s.Bot.SendSmartAppNotification(ctx, s.BotID, s.ChatID, counter, body)
}

// SendCustomPush sends a titled notification and returns its sync id.
func (s *SmartApp) SendCustomPush(ctx context.Context, title, body string, meta map[string]any, waitCallback bool, callbackTimeout float64) (uuid.UUID, error) {
	return s.Bot.SendSmartAppCustomNotification(ctx, &CustomNotification{
		BotID:           s.BotID,
		GroupChatID:     s.ChatID,
		Title:           title,
		Body:            body,
		Meta:            meta,
		WaitCallback:    waitCallback,
		CallbackTimeout: callbackTimeout,
	})
}

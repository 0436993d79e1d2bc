package transport

import (
	"encoding/json"

	"github.com/google/uuid"

	"smartapp-rpc/message"
)

// EventFrame is the body of a MsgTypeEvent frame: one inbound SmartApp
// event whose data is an RPC request object.
type EventFrame struct {
	Ref    uuid.UUID      `json:"ref" cbor:"ref"`
	BotID  uuid.UUID      `json:"bot_id" cbor:"bot_id"`
	ChatID uuid.UUID      `json:"chat_id" cbor:"chat_id"`
	Data   map[string]any `json:"data" cbor:"data"`
	Files  []message.File `json:"files,omitempty" cbor:"files,omitempty"`
}

// ReplyFrame is the body of a MsgTypeReply frame, and of event
// notifications. Data is the response envelope as JSON.
type ReplyFrame struct {
	Ref       *uuid.UUID      `json:"ref,omitempty" cbor:"ref,omitempty"`
	BotID     uuid.UUID       `json:"bot_id" cbor:"bot_id"`
	ChatID    uuid.UUID       `json:"chat_id" cbor:"chat_id"`
	Data      json.RawMessage `json:"data" cbor:"data"`
	Encrypted bool            `json:"encrypted" cbor:"encrypted"`
	Files     []message.File  `json:"files,omitempty" cbor:"files,omitempty"`
}

// Envelope parses Data.
func (r *ReplyFrame) Envelope() (*message.Envelope, error) {
	return message.ParseEnvelope(r.Data)
}

// Notification kinds.
const (
	NotifyEvent  = "event"
	NotifyPush   = "push"
	NotifyCustom = "custom"
)

// NotificationFrame is the body of a MsgTypeNotification frame: something
// a handler sent to the chat besides its reply.
type NotificationFrame struct {
	Kind   string    `json:"kind" cbor:"kind"`
	BotID  uuid.UUID `json:"bot_id" cbor:"bot_id"`
	ChatID uuid.UUID `json:"chat_id" cbor:"chat_id"`

	// NotifyEvent
	Event *ReplyFrame `json:"event,omitempty" cbor:"event,omitempty"`

	// NotifyPush
	Counter int    `json:"counter,omitempty" cbor:"counter,omitempty"`
	Body    string `json:"body,omitempty" cbor:"body,omitempty"`

	// NotifyCustom
	SyncID          uuid.UUID      `json:"sync_id,omitempty" cbor:"sync_id,omitempty"`
	Title           string         `json:"title,omitempty" cbor:"title,omitempty"`
	Meta            map[string]any `json:"meta,omitempty" cbor:"meta,omitempty"`
	WaitCallback    bool           `json:"wait_callback,omitempty" cbor:"wait_callback,omitempty"`
	CallbackTimeout float64        `json:"callback_timeout,omitempty" cbor:"callback_timeout,omitempty"`
}

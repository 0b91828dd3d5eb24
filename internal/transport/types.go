// Package transport defines the chat-transport contract shared by the
// concrete adapters and by everything that sends messages through them.
package transport

import (
	"context"
	"time"
)

// Target addresses a chat (and optionally a topic thread within it).
type Target struct {
	ChatID   int64
	ThreadID int
}

// MessageRef identifies a sent message for later reference.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// SendOptions tweaks one outgoing message.
type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Silent         bool
}

// Update is one inbound operator interaction.
type Update struct {
	At       time.Time
	UserID   int64
	Username string
	Chat     Target

	// Text is the raw message text.
	Text string
}

// Notification is a queued outbound message. Priority >= 5 adds an urgency
// prefix to the rendered text.
type Notification struct {
	Target   Target
	Text     string
	Priority int
	Options  SendOptions
}

// Adapter is a concrete chat transport. Start begins delivering inbound
// updates on the channel returned by Updates.
type Adapter interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	Updates() <-chan Update

	SendText(ctx context.Context, to Target, text string, opt SendOptions) (MessageRef, error)
}

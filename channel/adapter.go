// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"time"
)

// Message is one inbound chat message as delivered by an adapter.
type Message struct {
	// Sender is a human-readable name or handle of the author.
	Sender string

	// Text is the message body.
	Text string

	// SentAt is the platform timestamp of the message.
	SentAt time.Time
}

// Adapter is the contract every chat platform integration fulfills.
// The router never sees how an adapter authenticates or moves bytes;
// adapters never see groups or queues.
type Adapter interface {
	// Name identifies the channel ("whatsapp", "telegram", ...). It
	// is stored on group records, so it must be stable.
	Name() string

	// Connect establishes the platform connection. Inbound messages
	// flow to the router sink registered before Connect.
	Connect(ctx context.Context) error

	// SendMessage delivers text to a chat the adapter owns.
	SendMessage(ctx context.Context, chatID, text string) error

	// OwnsID reports whether chatID belongs to this adapter's
	// namespace.
	OwnsID(chatID string) bool

	// IsConnected reports whether the adapter can currently send.
	IsConnected() bool

	// Disconnect tears the connection down.
	Disconnect() error
}

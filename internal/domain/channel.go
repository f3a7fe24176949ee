package domain

import "context"

// Bot is one connected delivery session (a Telegram bot, a Discord session, ...).
// Send methods deliver the whole element sequence as one message.
type Bot interface {
	Name() string
	Platform() string
	SendChannel(ctx context.Context, channelID string, msg Message) error
	SendPrivate(ctx context.Context, userID string, msg Message) error
}

// Connector is implemented by bots that need a network handshake before use.
type Connector interface {
	Connect(ctx context.Context) error
	Close() error
}

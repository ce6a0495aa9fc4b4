package transport

import "context"

type EventType string

const (
	// EventPairingCode carries the pairing artifact the user must present
	// to authenticate the channel.
	EventPairingCode EventType = "pairing_code"
	// EventReady fires once the channel is authenticated.
	EventReady EventType = "ready"
	// EventMessage carries one inbound text message.
	EventMessage EventType = "message"
	// EventLost fires when the transport loses the channel.
	EventLost EventType = "lost"
)

// Event is one lifecycle or message event emitted by a chat transport.
type Event struct {
	Type      EventType
	ChannelID string
	// Sender is the chat handle the message came from. Set for EventMessage.
	Sender string
	// Text is the message body for EventMessage, or the pairing payload for
	// EventPairingCode.
	Text string
}

// Transport maintains authenticated chat channels. Implementations emit
// events on the shared Events channel; routing to per-session workers is the
// caller's job.
type Transport interface {
	// Open requests a new channel for the given chat handle and returns its
	// channel id. Authentication completes asynchronously via events.
	Open(ctx context.Context, handle string) (string, error)

	// Send delivers text over an authenticated channel.
	Send(ctx context.Context, channelID, text string) error

	// Close tears the channel down. Closing an unknown channel is a no-op.
	Close(ctx context.Context, channelID string) error

	// Events returns the stream of transport events.
	Events() <-chan Event
}

// Package messaging connects bots to a transport and routes inbound messages
// to scenarios, commands or free-form chat.
package messaging

import (
	"context"

	"github.com/BTreeMap/BotPipe/internal/models"
)

// DefaultChannelBufferSize is the buffer size of inbound message channels.
const DefaultChannelBufferSize = 100

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// SendMessage sends a message to a user.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Inbound returns the channel of user messages. It is closed when the
	// service stops.
	Inbound() <-chan models.InboundMessage
}

package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/c7sync/chat-server/internal/directory"
	"github.com/c7sync/chat-server/internal/metrics"
	"github.com/c7sync/chat-server/internal/protocol"
)

// ErrInvalidMessage marks a message rejected before any store access:
// missing fields, unknown kind, or empty content.
var ErrInvalidMessage = errors.New("chat: invalid message")

// Pusher delivers outbound event bytes to a user wherever they are connected.
// *delivery.Pusher satisfies it.
type Pusher interface {
	Push(userID string, data []byte)
}

// Relay appends inbound chat messages to their conversation and fans the
// result out to both participants. Durability comes first: the append must
// succeed before any push happens, so a crash after the append loses only the
// realtime notification, never the message.
type Relay struct {
	store  directory.Store
	pusher Pusher
}

// NewRelay creates a Relay.
func NewRelay(store directory.Store, pusher Pusher) *Relay {
	return &Relay{store: store, pusher: pusher}
}

// PostMessage validates, appends, and fans out one textMessage event. The
// server assigns the timestamp; client clocks are not trusted. The sender is
// pushed the newMessage event too, so multi-device sessions converge.
func (r *Relay) PostMessage(ctx context.Context, in *protocol.TextMessageMsg) (*directory.Message, error) {
	start := time.Now()

	if in.From == "" || in.To == "" || in.ConversationID == "" {
		return nil, fmt.Errorf("%w: missing sender, recipient, or conversation", ErrInvalidMessage)
	}
	if !protocol.ValidKind(in.MsgType) {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, in.MsgType)
	}
	if in.Message == "" && in.File == "" {
		return nil, fmt.Errorf("%w: no content", ErrInvalidMessage)
	}

	msg := &directory.Message{
		ConversationID: in.ConversationID,
		From:           in.From,
		To:             in.To,
		Kind:           in.MsgType,
		Text:           in.Message,
		File:           in.File,
		CreatedAt:      time.Now().UTC(),
	}
	if err := r.store.AppendMessage(ctx, msg); err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("chat: append message: %w", err)
	}

	data, err := protocol.NewServerMessage(protocol.TypeNewMessage, protocol.NewMessageMsg{
		ConversationID: msg.ConversationID,
		Message:        ProtoMessage(msg),
	})
	if err != nil {
		log.Printf("chat: encode newMessage for conversation %s: %v", msg.ConversationID, err)
		metrics.MessagesTotal.WithLabelValues("stored_only").Inc()
		return msg, nil
	}

	r.pusher.Push(in.To, data)
	r.pusher.Push(in.From, data)

	metrics.MessagesTotal.WithLabelValues("delivered").Inc()
	metrics.DeliveryLatency.Observe(time.Since(start).Seconds())
	return msg, nil
}

// FetchMessages returns the full ordered history of a conversation.
func (r *Relay) FetchMessages(ctx context.Context, conversationID string) ([]directory.Message, error) {
	msgs, err := r.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("chat: list messages for %s: %w", conversationID, err)
	}
	return msgs, nil
}

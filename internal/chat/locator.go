// Package chat implements the conversation and message side of the realtime
// API: locating the unique one-to-one thread between two users, relaying new
// messages into it, and serving history reads.
package chat

import (
	"context"
	"fmt"

	"github.com/c7sync/chat-server/internal/directory"
	"github.com/c7sync/chat-server/internal/protocol"
)

// Locator resolves one-to-one conversations against the directory store.
type Locator struct {
	store directory.Store
}

// NewLocator creates a Locator.
func NewLocator(store directory.Store) *Locator {
	return &Locator{store: store}
}

// FindOrCreate returns the conversation between userA and userB, creating it
// if none exists. Concurrent calls for the same pair converge on a single
// thread; the store enforces that. A self-conversation is rejected.
func (l *Locator) FindOrCreate(ctx context.Context, userA, userB string) (*directory.Conversation, error) {
	if userA == "" || userB == "" {
		return nil, fmt.Errorf("chat: conversation needs two participants")
	}
	if userA == userB {
		return nil, fmt.Errorf("chat: conversation with self is not allowed")
	}
	conv, err := l.store.FindOrCreateConversation(ctx, userA, userB)
	if err != nil {
		return nil, fmt.Errorf("chat: find or create conversation: %w", err)
	}
	return conv, nil
}

// ListForUser returns every conversation the user takes part in, with
// participants resolved.
func (l *Locator) ListForUser(ctx context.Context, userID string) ([]directory.Conversation, error) {
	convs, err := l.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("chat: list conversations for %s: %w", userID, err)
	}
	return convs, nil
}

// ProtoConversation converts a directory conversation to its wire form.
func ProtoConversation(c *directory.Conversation) protocol.Conversation {
	out := protocol.Conversation{ID: c.ID}
	for _, u := range c.Participants {
		out.Participants = append(out.Participants, protocol.Participant{
			ID:        u.ID,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Email:     u.Email,
			Avatar:    u.Avatar,
			Status:    u.Status,
		})
	}
	return out
}

// ProtoMessage converts a directory message to its wire form.
func ProtoMessage(m *directory.Message) protocol.Message {
	return protocol.Message{
		ID:        m.ID,
		To:        m.To,
		From:      m.From,
		Kind:      m.Kind,
		Text:      m.Text,
		File:      m.File,
		CreatedAt: m.CreatedAt,
	}
}

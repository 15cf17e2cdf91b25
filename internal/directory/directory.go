// Package directory is the system of record for users, friend edges, friend
// requests, and conversations with their messages. It exposes a typed CRUD
// interface backed by PostgreSQL; the store provides per-row atomic updates
// but no cross-entity transactions, and the coordinators above it are written
// to tolerate that.
package directory

import (
	"context"
	"errors"
	"time"
)

// User status values persisted in the directory.
const (
	StatusOnline  = "Online"
	StatusOffline = "Offline"
)

var (
	// ErrNotFound is returned when a referenced user, friend request, or
	// conversation does not exist.
	ErrNotFound = errors.New("directory: not found")

	// ErrDuplicate is returned when a create collides with an existing row
	// (e.g. a pending friend request for the same ordered sender/recipient
	// pair). Callers treat this as a normal outcome, not a failure.
	ErrDuplicate = errors.New("directory: duplicate")
)

// User is a directory account. Only the fields the realtime subsystem needs
// are modeled; registration and credentials live elsewhere.
type User struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
	Avatar    string
	Status    string
	CreatedAt time.Time
}

// FriendRequest is a pending request from Sender to Recipient. At most one
// pending request exists per ordered (sender, recipient) pair; the row is
// deleted exactly once, on acceptance.
type FriendRequest struct {
	ID        string
	Sender    string
	Recipient string
	CreatedAt time.Time
}

// Message is one chat message. Seq is assigned by the store on append and is
// the ordering key within a conversation (append order, no gaps guaranteed).
type Message struct {
	ID             string
	ConversationID string
	From           string
	To             string
	Kind           string
	Text           string
	File           string
	CreatedAt      time.Time
	Seq            int64
}

// Conversation is the unique one-to-one thread between exactly two distinct
// users. Participants are resolved user profiles in unspecified order.
type Conversation struct {
	ID           string
	Participants []User
	CreatedAt    time.Time
}

// Participant returns the resolved participant with the given id, or nil.
func (c *Conversation) Participant(userID string) *User {
	for i := range c.Participants {
		if c.Participants[i].ID == userID {
			return &c.Participants[i]
		}
	}
	return nil
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.Participant(userID) != nil
}

// Store is the directory CRUD interface consumed by the realtime subsystem.
// Every method may block on I/O and honors ctx cancellation. Lookups return
// ErrNotFound for missing rows; any other error means the store is
// unavailable and the triggering event should be dropped.
type Store interface {
	// Users.
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	SetUserStatus(ctx context.Context, id string, status string) error

	// Friend edges. AddFriend inserts a single directed edge and is
	// idempotent; symmetry is the caller's responsibility (two calls).
	AddFriend(ctx context.Context, userID, friendID string) error
	ListFriends(ctx context.Context, userID string) ([]User, error)

	// Friend requests. FindRequest matches the exact ordered pair.
	CreateRequest(ctx context.Context, r *FriendRequest) error
	FindRequest(ctx context.Context, sender, recipient string) (*FriendRequest, error)
	GetRequest(ctx context.Context, id string) (*FriendRequest, error)
	DeleteRequest(ctx context.Context, id string) error

	// Conversations. FindOrCreateConversation is atomic: concurrent calls
	// for the same pair converge on one row.
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	FindOrCreateConversation(ctx context.Context, userA, userB string) (*Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)

	// Messages. AppendMessage assigns Seq and CreatedAt persistence order;
	// ListMessages returns messages in append order.
	AppendMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
}

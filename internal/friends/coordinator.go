// Package friends coordinates the friend request lifecycle: creation with
// duplicate suppression, and acceptance that establishes the symmetric friend
// edge and retires the pending request.
package friends

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/c7sync/chat-server/internal/directory"
	"github.com/c7sync/chat-server/internal/metrics"
	"github.com/c7sync/chat-server/internal/protocol"
)

// Notification strings sent to clients. These are part of the public client
// contract and must not change.
const (
	msgNewRequest     = "New friend request received"
	msgRequestSent    = "Request sent successfully"
	msgAlreadyPending = "There's already friend request with this user"
	msgAccepted       = "Friend request accepted"
)

// Pusher delivers outbound event bytes to a user wherever they are connected.
// *delivery.Pusher satisfies it.
type Pusher interface {
	Push(userID string, data []byte)
}

// Outcome reports what CreateRequest did.
type Outcome int

const (
	// Created means a new pending request row now exists.
	Created Outcome = iota
	// AlreadyExists means a pending request for the same ordered pair was
	// already present and no new row was written.
	AlreadyExists
)

// Coordinator implements friend request creation and acceptance on top of the
// directory store, notifying live parties through the pusher.
type Coordinator struct {
	store  directory.Store
	pusher Pusher
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(store directory.Store, pusher Pusher) *Coordinator {
	return &Coordinator{store: store, pusher: pusher}
}

// CreateRequest handles a friendRequest event from sender `from` to recipient
// `to`. Duplicate detection is direction-sensitive: an existing request from
// `to` to `from` does not suppress this one. On a duplicate the sender is
// told the request is already pending and the recipient hears nothing.
func (c *Coordinator) CreateRequest(ctx context.Context, from, to string) (Outcome, error) {
	if from == "" || to == "" || from == to {
		return 0, fmt.Errorf("friends: invalid request pair (%q -> %q)", from, to)
	}

	if existing, err := c.store.FindRequest(ctx, from, to); err == nil {
		c.notifyDuplicate(from, existing)
		metrics.FriendRequestsTotal.WithLabelValues("duplicate").Inc()
		return AlreadyExists, nil
	} else if !errors.Is(err, directory.ErrNotFound) {
		return 0, fmt.Errorf("friends: lookup pending request: %w", err)
	}

	req := &directory.FriendRequest{Sender: from, Recipient: to}
	if err := c.store.CreateRequest(ctx, req); err != nil {
		// A concurrent identical request won the insert race. Same outcome as
		// finding it up front.
		if errors.Is(err, directory.ErrDuplicate) {
			if existing, ferr := c.store.FindRequest(ctx, from, to); ferr == nil {
				c.notifyDuplicate(from, existing)
			}
			metrics.FriendRequestsTotal.WithLabelValues("duplicate").Inc()
			return AlreadyExists, nil
		}
		return 0, fmt.Errorf("friends: create request: %w", err)
	}

	summary := summarize(req)
	c.push(to, protocol.TypeNewFriendRequest, protocol.NewFriendRequestMsg{
		Message: msgNewRequest,
		Request: summary,
	})
	c.push(from, protocol.TypeRequestSent, protocol.RequestSentMsg{
		Message: msgRequestSent,
		Request: summary,
	})
	metrics.FriendRequestsTotal.WithLabelValues("created").Inc()
	return Created, nil
}

// AcceptRequest handles an acceptRequest event. It inserts both directed
// friend edges, deletes the pending request, and notifies both parties. An
// unknown request id is a logged no-op so a double accept does not error.
//
// The two edge inserts are individually idempotent but not wrapped in a
// transaction; a crash between them leaves a one-sided edge repaired by
// retrying the accept.
func (c *Coordinator) AcceptRequest(ctx context.Context, requestID string) error {
	req, err := c.store.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			log.Printf("friends: accept for unknown request %s ignored", requestID)
			return nil
		}
		return fmt.Errorf("friends: load request %s: %w", requestID, err)
	}

	if err := c.store.AddFriend(ctx, req.Sender, req.Recipient); err != nil {
		return fmt.Errorf("friends: add edge %s -> %s: %w", req.Sender, req.Recipient, err)
	}
	if err := c.store.AddFriend(ctx, req.Recipient, req.Sender); err != nil {
		return fmt.Errorf("friends: add edge %s -> %s: %w", req.Recipient, req.Sender, err)
	}
	if err := c.store.DeleteRequest(ctx, requestID); err != nil {
		return fmt.Errorf("friends: delete request %s: %w", requestID, err)
	}

	accepted := protocol.RequestAcceptedMsg{Message: msgAccepted}
	c.push(req.Sender, protocol.TypeRequestAccepted, accepted)
	c.push(req.Recipient, protocol.TypeRequestAccepted, accepted)
	metrics.FriendRequestsTotal.WithLabelValues("accepted").Inc()
	return nil
}

func (c *Coordinator) notifyDuplicate(from string, existing *directory.FriendRequest) {
	c.push(from, protocol.TypeRequestSent, protocol.RequestSentMsg{
		Message: msgAlreadyPending,
		Request: summarize(existing),
	})
}

func (c *Coordinator) push(userID, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("friends: encode %s for user %s: %v", msgType, userID, err)
		return
	}
	c.pusher.Push(userID, data)
}

func summarize(r *directory.FriendRequest) *protocol.RequestSummary {
	return &protocol.RequestSummary{
		ID:        r.ID,
		Sender:    r.Sender,
		Recipient: r.Recipient,
		CreatedAt: r.CreatedAt,
	}
}

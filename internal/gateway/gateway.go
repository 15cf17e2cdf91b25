// Package gateway binds the realtime transport to the application layer. It
// owns the connection lifecycle (identity registration, presence, NATS
// delivery subscriptions) and routes every client event to the friends
// coordinator, conversation locator, or message relay.
package gateway

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/c7sync/chat-server/internal/chat"
	"github.com/c7sync/chat-server/internal/delivery"
	"github.com/c7sync/chat-server/internal/directory"
	"github.com/c7sync/chat-server/internal/friends"
	"github.com/c7sync/chat-server/internal/messaging"
	"github.com/c7sync/chat-server/internal/metrics"
	"github.com/c7sync/chat-server/internal/presence"
	"github.com/c7sync/chat-server/internal/protocol"
	"github.com/c7sync/chat-server/internal/ratelimit"
	"github.com/c7sync/chat-server/internal/ws"
)

// storeTimeout bounds every per-event directory access.
const storeTimeout = 5 * time.Second

// Gateway coordinates connections, presence, and event handling for one
// server instance.
type Gateway struct {
	store    directory.Store
	registry *presence.Registry
	mirror   *presence.Mirror
	friends  *friends.Coordinator
	locator  *chat.Locator
	relay    *chat.Relay
	pusher   *delivery.Pusher
	limiter  *ratelimit.Limiter
	nats     *messaging.Client
	server   *ws.Server
}

// Config collects the gateway's collaborators. Mirror, Limiter, and NATS may
// be nil; the corresponding behavior is then skipped.
type Config struct {
	Store    directory.Store
	Registry *presence.Registry
	Mirror   *presence.Mirror
	Friends  *friends.Coordinator
	Locator  *chat.Locator
	Relay    *chat.Relay
	Pusher   *delivery.Pusher
	Limiter  *ratelimit.Limiter
	NATS     *messaging.Client
}

// New creates a Gateway from its collaborators.
func New(cfg Config) *Gateway {
	return &Gateway{
		store:    cfg.Store,
		registry: cfg.Registry,
		mirror:   cfg.Mirror,
		friends:  cfg.Friends,
		locator:  cfg.Locator,
		relay:    cfg.Relay,
		pusher:   cfg.Pusher,
		limiter:  cfg.Limiter,
		nats:     cfg.NATS,
	}
}

// SetServer attaches the WebSocket server after construction (the server
// needs the dispatcher, which needs the gateway's handlers).
func (g *Gateway) SetServer(server *ws.Server) {
	g.server = server
	server.SetOnConnect(g.OnConnect)
	server.SetOnDisconnect(g.OnDisconnect)
	if g.limiter != nil {
		server.SetConnectGate(g.allowConnect)
	}
}

// RegisterHandlers wires every client event type into the dispatcher.
func (g *Gateway) RegisterHandlers(d *ws.MessageDispatcher) {
	d.Register(protocol.TypeFriendRequest, g.handleFriendRequest)
	d.Register(protocol.TypeAcceptRequest, g.handleAcceptRequest)
	d.Register(protocol.TypeGetDirectConversations, g.handleGetDirectConversations)
	d.Register(protocol.TypeStartConversation, g.handleStartConversation)
	d.Register(protocol.TypeGetMessage, g.handleGetMessage)
	d.Register(protocol.TypeTextMessage, g.handleTextMessage)
	d.Register(protocol.TypeEnd, g.handleEnd)
	d.SetOnPing(g.onPing)
}

// ---------------------------------------------------------------------------
// Connection lifecycle
// ---------------------------------------------------------------------------

// OnConnect registers the connection's claimed identity. Registration is
// last-connect-wins: a previous connection for the same user is closed. The
// user's persisted status flips to Online, the Redis presence entry is
// written, and a NATS delivery subscription is opened for cross-instance
// pushes.
func (g *Gateway) OnConnect(conn *ws.Connection) {
	userID := conn.UserID

	if displaced := g.registry.Register(userID, conn); displaced != nil {
		log.Printf("gateway: user %s reconnected, closing displaced connection", userID)
		_ = displaced.Close()
	}
	metrics.OnlineUsers.Set(float64(g.registry.Count()))

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := g.store.SetUserStatus(ctx, userID, directory.StatusOnline); err != nil {
		// Unknown users may still connect and browse; status is best effort.
		log.Printf("gateway: set online for user %s: %v", userID, err)
	}

	if g.mirror != nil {
		if err := g.mirror.SetOnline(ctx, userID); err != nil {
			log.Printf("gateway: presence mirror for user %s: %v", userID, err)
		}
	}

	if g.nats != nil {
		err := g.nats.SubscribeUser(userID, func(data []byte) {
			g.pusher.PushLocal(userID, data)
		})
		if err != nil {
			log.Printf("gateway: nats subscribe for user %s: %v", userID, err)
		}
	}
}

// OnDisconnect cleans up after an abrupt close. The persisted status is NOT
// flipped to Offline here; only the explicit end event does that, so a
// network blip does not demote a user who reconnects moments later. The Redis
// entry expires on its own TTL.
func (g *Gateway) OnDisconnect(conn *ws.Connection) {
	userID := conn.UserID

	// Only tear down if this connection is still the registered one. A
	// reconnect may have displaced it already.
	if !g.registry.UnregisterConn(userID, conn) {
		return
	}
	metrics.OnlineUsers.Set(float64(g.registry.Count()))

	if g.nats != nil {
		if err := g.nats.UnsubscribeUser(userID); err != nil {
			log.Printf("gateway: nats unsubscribe for user %s: %v", userID, err)
		}
	}
}

// onPing refreshes the Redis presence entry so the TTL tracks client
// liveness, not just the initial connect.
func (g *Gateway) onPing(conn *ws.Connection) {
	if g.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := g.mirror.Touch(ctx, conn.UserID); err != nil {
		log.Printf("gateway: presence touch for user %s: %v", conn.UserID, err)
	}
}

func (g *Gateway) allowConnect(ip string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	allowed, _ := g.limiter.Allow(ctx, ip, ratelimit.RuleConnect)
	return allowed
}

// ---------------------------------------------------------------------------
// Event handlers
// ---------------------------------------------------------------------------

func (g *Gateway) handleFriendRequest(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.FriendRequestMsg)
	if !ok || m.From == "" || m.To == "" || m.From == m.To {
		g.sendError(conn, "malformed_event", "friendRequest needs distinct to and from")
		return
	}

	if !g.allowEvent(conn, m.From, ratelimit.RuleFriendRequest) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if _, err := g.friends.CreateRequest(ctx, m.From, m.To); err != nil {
		g.reportStoreError(conn, "friendRequest", err)
	}
}

func (g *Gateway) handleAcceptRequest(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.AcceptRequestMsg)
	if !ok || m.RequestID == "" {
		g.sendError(conn, "malformed_event", "acceptRequest needs a requestId")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := g.friends.AcceptRequest(ctx, m.RequestID); err != nil {
		g.reportStoreError(conn, "acceptRequest", err)
	}
}

func (g *Gateway) handleGetDirectConversations(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.GetDirectConversationsMsg)
	if !ok || m.UserID == "" {
		g.sendError(conn, "malformed_event", "getDirectConversations needs a userId")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	convs, err := g.locator.ListForUser(ctx, m.UserID)
	if err != nil {
		g.reportStoreError(conn, "getDirectConversations", err)
		return
	}

	out := protocol.ConversationListMsg{Conversations: []protocol.Conversation{}}
	for i := range convs {
		out.Conversations = append(out.Conversations, chat.ProtoConversation(&convs[i]))
	}
	g.reply(conn, protocol.TypeConversationList, out)
}

func (g *Gateway) handleStartConversation(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.StartConversationMsg)
	if !ok || m.From == "" || m.To == "" || m.From == m.To {
		g.sendError(conn, "malformed_event", "startConversation needs two distinct participants")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	conv, err := g.locator.FindOrCreate(ctx, m.From, m.To)
	if err != nil {
		g.reportStoreError(conn, "startConversation", err)
		return
	}

	g.reply(conn, protocol.TypeStartChat, protocol.StartChatMsg{
		Conversation: chat.ProtoConversation(conv),
	})
}

func (g *Gateway) handleGetMessage(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.GetMessageMsg)
	if !ok || m.ConversationID == "" {
		g.sendError(conn, "malformed_event", "getMessage needs a conversationId")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	msgs, err := g.relay.FetchMessages(ctx, m.ConversationID)
	if err != nil {
		g.reportStoreError(conn, "getMessage", err)
		return
	}

	out := protocol.MessageListMsg{
		ConversationID: m.ConversationID,
		Messages:       []protocol.Message{},
	}
	for i := range msgs {
		out.Messages = append(out.Messages, chat.ProtoMessage(&msgs[i]))
	}
	g.reply(conn, protocol.TypeMessageList, out)
}

func (g *Gateway) handleTextMessage(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.TextMessageMsg)
	if !ok {
		g.sendError(conn, "malformed_event", "invalid textMessage payload")
		return
	}

	if !g.allowEvent(conn, m.From, ratelimit.RuleMessage) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if _, err := g.relay.PostMessage(ctx, &m); err != nil {
		if errors.Is(err, chat.ErrInvalidMessage) {
			g.sendError(conn, "malformed_event", "invalid textMessage payload")
			return
		}
		if errors.Is(err, directory.ErrNotFound) {
			g.sendError(conn, "not_found", "conversation does not exist")
			return
		}
		g.reportStoreError(conn, "textMessage", err)
	}
}

// handleEnd is the explicit end-of-session event. Unlike an abrupt
// disconnect, it persists Offline status and deletes the presence mirror
// entry before closing the transport.
func (g *Gateway) handleEnd(conn *ws.Connection, msg interface{}) {
	m, ok := msg.(protocol.EndMsg)
	if !ok || m.UserID == "" {
		g.sendError(conn, "malformed_event", "end needs a userId")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := g.store.SetUserStatus(ctx, m.UserID, directory.StatusOffline); err != nil {
		log.Printf("gateway: set offline for user %s: %v", m.UserID, err)
	}

	if g.mirror != nil {
		if err := g.mirror.Delete(ctx, m.UserID); err != nil {
			log.Printf("gateway: delete presence for user %s: %v", m.UserID, err)
		}
	}

	// Closing the transport triggers OnDisconnect, which unregisters the
	// connection and drops the NATS subscription.
	if g.server != nil {
		g.server.RemoveConnection(conn)
	} else {
		_ = conn.Close()
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// allowEvent consults the rate limiter for the given sender and tells the
// client to back off when over the limit.
func (g *Gateway) allowEvent(conn *ws.Connection, senderID string, rule ratelimit.Rule) bool {
	if g.limiter == nil {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	allowed, _ := g.limiter.Allow(ctx, senderID, rule)
	if !allowed {
		g.reply(conn, protocol.TypeRateLimited, protocol.RateLimitedMsg{
			RetryAfter: int(rule.Window.Seconds()),
		})
	}
	return allowed
}

// reportStoreError maps an application error onto the client-facing error
// taxonomy. NotFound goes back to the initiator; anything else means the
// store is unavailable, which is logged and the event dropped without a
// reply (the client's retry policy owns recovery).
func (g *Gateway) reportStoreError(conn *ws.Connection, event string, err error) {
	if errors.Is(err, directory.ErrNotFound) {
		g.sendError(conn, "not_found", "referenced entity does not exist")
		return
	}
	log.Printf("gateway: %s dropped, store unavailable: %v", event, err)
}

func (g *Gateway) reply(conn *ws.Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("gateway: encode %s: %v", msgType, err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("gateway: write %s to conn %s: %v", msgType, conn.ID, err)
	}
}

func (g *Gateway) sendError(conn *ws.Connection, code, message string) {
	g.reply(conn, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}

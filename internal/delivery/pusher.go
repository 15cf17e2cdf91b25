// Package delivery routes outbound realtime events to users. A locally
// connected user gets the bytes written straight to their connection; a user
// connected elsewhere gets them published to their NATS subject, where the
// owning gateway instance forwards them. A user with no live connection
// anywhere simply misses the push: the data is already durable in the
// directory, so absence is not an error.
package delivery

import (
	"log"

	"github.com/c7sync/chat-server/internal/presence"
)

// Publisher is the cross-instance fan-out surface. *messaging.Client
// satisfies it.
type Publisher interface {
	PublishUser(userID string, data []byte) error
}

// Pusher delivers event bytes to a user wherever they are connected.
type Pusher struct {
	registry  *presence.Registry
	publisher Publisher
}

// NewPusher creates a Pusher. publisher may be nil for single-instance
// deployments; remote delivery is then skipped.
func NewPusher(registry *presence.Registry, publisher Publisher) *Pusher {
	return &Pusher{registry: registry, publisher: publisher}
}

// Push delivers data to userID. Write failures on a dying connection are
// logged and swallowed; the message is already appended durably, and the
// client reconciles via history fetch on reconnect.
func (p *Pusher) Push(userID string, data []byte) {
	if conn := p.registry.Lookup(userID); conn != nil {
		if err := conn.WriteMessage(data); err != nil {
			log.Printf("delivery: local write to user %s failed: %v", userID, err)
		}
		return
	}

	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishUser(userID, data); err != nil {
		log.Printf("delivery: publish for user %s failed: %v", userID, err)
	}
}

// PushLocal delivers data only if userID is connected to this instance, and
// reports whether a local connection was found. Used when forwarding events
// that arrived over NATS, to avoid republishing them.
func (p *Pusher) PushLocal(userID string, data []byte) bool {
	conn := p.registry.Lookup(userID)
	if conn == nil {
		return false
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("delivery: local write to user %s failed: %v", userID, err)
	}
	return true
}

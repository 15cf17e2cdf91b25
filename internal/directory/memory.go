package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store implementation with the same semantics
// as the Postgres store (canonical-pair conversation uniqueness, idempotent
// friend edges, append-order message seq). It backs unit tests and local
// development without a database.
type MemoryStore struct {
	mu            sync.Mutex
	users         map[string]*User
	friends       map[string]map[string]bool // user -> friend set
	requests      map[string]*FriendRequest
	conversations map[string]*memConversation // id -> conversation
	pairIndex     map[string]string           // "a|b" canonical -> conversation id
	messages      map[string][]Message        // conversation id -> append-ordered
	nextSeq       int64
}

type memConversation struct {
	id        string
	a, b      string
	createdAt time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]*User),
		friends:       make(map[string]map[string]bool),
		requests:      make(map[string]*FriendRequest),
		conversations: make(map[string]*memConversation),
		pairIndex:     make(map[string]string),
		messages:      make(map[string][]Message),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.Status == "" {
		u.Status = StatusOffline
	}
	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("directory: create user: %w", ErrDuplicate)
	}
	u.CreatedAt = time.Now().UTC()
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("directory: user %s: %w", id, ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) SetUserStatus(ctx context.Context, id string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("directory: user %s: %w", id, ErrNotFound)
	}
	u.Status = status
	return nil
}

func (s *MemoryStore) AddFriend(ctx context.Context, userID, friendID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return fmt.Errorf("directory: add friend: %w", ErrNotFound)
	}
	if _, ok := s.users[friendID]; !ok {
		return fmt.Errorf("directory: add friend: %w", ErrNotFound)
	}
	set, ok := s.friends[userID]
	if !ok {
		set = make(map[string]bool)
		s.friends[userID] = set
	}
	set[friendID] = true
	return nil
}

func (s *MemoryStore) ListFriends(ctx context.Context, userID string) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []User
	for id := range s.friends[userID] {
		if u, ok := s.users[id]; ok {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateRequest(ctx context.Context, r *FriendRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[r.Sender]; !ok {
		return fmt.Errorf("directory: create request: %w", ErrNotFound)
	}
	if _, ok := s.users[r.Recipient]; !ok {
		return fmt.Errorf("directory: create request: %w", ErrNotFound)
	}
	for _, existing := range s.requests {
		if existing.Sender == r.Sender && existing.Recipient == r.Recipient {
			return fmt.Errorf("directory: create request: %w", ErrDuplicate)
		}
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.CreatedAt = time.Now().UTC()
	cp := *r
	s.requests[r.ID] = &cp
	return nil
}

func (s *MemoryStore) FindRequest(ctx context.Context, sender, recipient string) (*FriendRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r.Sender == sender && r.Recipient == recipient {
			cp := *r
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("directory: friend request: %w", ErrNotFound)
}

func (s *MemoryStore) GetRequest(ctx context.Context, id string) (*FriendRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("directory: friend request: %w", ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) DeleteRequest(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, id)
	return nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mc, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("directory: conversation %s: %w", id, ErrNotFound)
	}
	return s.buildConversationLocked(mc), nil
}

func (s *MemoryStore) FindOrCreateConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userA]; !ok {
		return nil, fmt.Errorf("directory: find-or-create conversation: %w", ErrNotFound)
	}
	if _, ok := s.users[userB]; !ok {
		return nil, fmt.Errorf("directory: find-or-create conversation: %w", ErrNotFound)
	}
	a, b := canonicalPair(userA, userB)
	key := a + "|" + b
	if id, ok := s.pairIndex[key]; ok {
		return s.buildConversationLocked(s.conversations[id]), nil
	}
	mc := &memConversation{id: uuid.New().String(), a: a, b: b, createdAt: time.Now().UTC()}
	s.conversations[mc.id] = mc
	s.pairIndex[key] = mc.id
	return s.buildConversationLocked(mc), nil
}

func (s *MemoryStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Conversation
	for _, mc := range s.conversations {
		if mc.a == userID || mc.b == userID {
			out = append(out, *s.buildConversationLocked(mc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) buildConversationLocked(mc *memConversation) *Conversation {
	c := &Conversation{ID: mc.id, CreatedAt: mc.createdAt}
	for _, id := range []string{mc.a, mc.b} {
		if u, ok := s.users[id]; ok {
			c.Participants = append(c.Participants, *u)
		}
	}
	sort.Slice(c.Participants, func(i, j int) bool {
		return c.Participants[i].ID < c.Participants[j].ID
	})
	return c
}

func (s *MemoryStore) AppendMessage(ctx context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[m.ConversationID]; !ok {
		return fmt.Errorf("directory: append message: %w", ErrNotFound)
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.nextSeq++
	m.Seq = s.nextSeq
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], *m)
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, fmt.Errorf("directory: conversation %s: %w", conversationID, ErrNotFound)
	}
	msgs := s.messages[conversationID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Postgres error codes we translate into package sentinels.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore implements Store on top of PostgreSQL via database/sql.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by the given database handle. The
// caller owns the handle; run Migrate before first use.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Open connects to PostgreSQL with the given DSN, verifies the connection,
// and applies pending schema migrations.
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("directory: open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("directory: ping: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return NewPostgresStore(db), nil
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle (for migrations and tests).
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser inserts a new user row. An empty ID is filled with a fresh UUID.
func (s *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.Status == "" {
		u.Status = StatusOffline
	}
	const query = `
		INSERT INTO users (id, first_name, last_name, email, avatar, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	err := s.db.QueryRowContext(ctx, query,
		u.ID, u.FirstName, u.LastName, u.Email, u.Avatar, u.Status,
	).Scan(&u.CreatedAt)
	if isPgCode(err, pgUniqueViolation) {
		return fmt.Errorf("directory: create user: %w", ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("directory: create user: %w", err)
	}
	return nil
}

// GetUser loads a user by id.
func (s *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	const query = `
		SELECT id, first_name, last_name, email, avatar, status, created_at
		FROM users WHERE id = $1`

	var u User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Avatar, &u.Status, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("directory: user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("directory: get user: %w", err)
	}
	return &u, nil
}

// SetUserStatus updates the persisted connection status (Online/Offline).
func (s *PostgresStore) SetUserStatus(ctx context.Context, id string, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("directory: set status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("directory: user %s: %w", id, ErrNotFound)
	}
	return nil
}

// AddFriend inserts one directed friend edge. Inserting an existing edge is
// a no-op, which makes acceptance retries idempotent.
func (s *PostgresStore) AddFriend(ctx context.Context, userID, friendID string) error {
	const query = `
		INSERT INTO friendships (user_id, friend_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, friend_id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query, userID, friendID)
	if isPgCode(err, pgForeignKeyViolation) {
		return fmt.Errorf("directory: add friend: %w", ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("directory: add friend: %w", err)
	}
	return nil
}

// ListFriends returns the resolved profiles of userID's friend set.
func (s *PostgresStore) ListFriends(ctx context.Context, userID string) ([]User, error) {
	const query = `
		SELECT u.id, u.first_name, u.last_name, u.email, u.avatar, u.status, u.created_at
		FROM friendships f
		JOIN users u ON u.id = f.friend_id
		WHERE f.user_id = $1
		ORDER BY u.first_name, u.last_name`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("directory: list friends: %w", err)
	}
	defer rows.Close()

	var friends []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Avatar, &u.Status, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("directory: list friends scan: %w", err)
		}
		friends = append(friends, u)
	}
	return friends, rows.Err()
}

// ---------------------------------------------------------------------------
// Friend requests
// ---------------------------------------------------------------------------

// CreateRequest inserts a pending friend request. The UNIQUE constraint on
// (sender, recipient) turns a duplicate into ErrDuplicate — dedup is
// direction-sensitive: a pending reverse request does not conflict.
func (s *PostgresStore) CreateRequest(ctx context.Context, r *FriendRequest) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	const query = `
		INSERT INTO friend_requests (id, sender, recipient)
		VALUES ($1, $2, $3)
		RETURNING created_at`

	err := s.db.QueryRowContext(ctx, query, r.ID, r.Sender, r.Recipient).Scan(&r.CreatedAt)
	if isPgCode(err, pgUniqueViolation) {
		return fmt.Errorf("directory: create request: %w", ErrDuplicate)
	}
	if isPgCode(err, pgForeignKeyViolation) {
		return fmt.Errorf("directory: create request: %w", ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("directory: create request: %w", err)
	}
	return nil
}

// FindRequest looks up the pending request for the exact ordered pair.
func (s *PostgresStore) FindRequest(ctx context.Context, sender, recipient string) (*FriendRequest, error) {
	const query = `
		SELECT id, sender, recipient, created_at
		FROM friend_requests WHERE sender = $1 AND recipient = $2`

	return s.scanRequest(s.db.QueryRowContext(ctx, query, sender, recipient))
}

// GetRequest loads a request by id.
func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*FriendRequest, error) {
	const query = `
		SELECT id, sender, recipient, created_at
		FROM friend_requests WHERE id = $1`

	return s.scanRequest(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) scanRequest(row *sql.Row) (*FriendRequest, error) {
	var r FriendRequest
	err := row.Scan(&r.ID, &r.Sender, &r.Recipient, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("directory: friend request: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("directory: friend request: %w", err)
	}
	return &r, nil
}

// DeleteRequest removes a request row. Deleting a missing row is a no-op.
func (s *PostgresStore) DeleteRequest(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM friend_requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("directory: delete request: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Conversations
// ---------------------------------------------------------------------------

// canonicalPair orders two user ids so every unordered pair maps to exactly
// one (participant_a, participant_b) row, which the UNIQUE constraint then
// enforces.
func canonicalPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// GetConversation loads a conversation with resolved participants.
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	const query = `
		SELECT id, participant_a, participant_b, created_at
		FROM conversations WHERE id = $1`

	var c Conversation
	var pa, pb string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &pa, &pb, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("directory: conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("directory: get conversation: %w", err)
	}
	if err := s.resolveParticipants(ctx, &c, pa, pb); err != nil {
		return nil, err
	}
	return &c, nil
}

// FindOrCreateConversation returns the unique conversation for the pair,
// creating it if absent. INSERT ... ON CONFLICT DO NOTHING followed by a
// re-select makes concurrent first-contact from both sides converge on a
// single row instead of racing check-then-create.
func (s *PostgresStore) FindOrCreateConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	pa, pb := canonicalPair(userA, userB)

	const insert = `
		INSERT INTO conversations (id, participant_a, participant_b)
		VALUES ($1, $2, $3)
		ON CONFLICT (participant_a, participant_b) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, insert, uuid.New().String(), pa, pb); err != nil {
		if isPgCode(err, pgForeignKeyViolation) {
			return nil, fmt.Errorf("directory: find-or-create conversation: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("directory: find-or-create conversation: %w", err)
	}

	const query = `
		SELECT id, created_at FROM conversations
		WHERE participant_a = $1 AND participant_b = $2`

	var c Conversation
	if err := s.db.QueryRowContext(ctx, query, pa, pb).Scan(&c.ID, &c.CreatedAt); err != nil {
		return nil, fmt.Errorf("directory: find-or-create conversation: %w", err)
	}
	if err := s.resolveParticipants(ctx, &c, pa, pb); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversations returns all conversations the user participates in, with
// resolved participant profiles, newest first.
func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	const query = `
		SELECT id, participant_a, participant_b, created_at
		FROM conversations
		WHERE participant_a = $1 OR participant_b = $1
		ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("directory: list conversations: %w", err)
	}
	defer rows.Close()

	type pair struct{ a, b string }
	var convs []Conversation
	var pairs []pair
	for rows.Next() {
		var c Conversation
		var p pair
		if err := rows.Scan(&c.ID, &p.a, &p.b, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("directory: list conversations scan: %w", err)
		}
		convs = append(convs, c)
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range convs {
		if err := s.resolveParticipants(ctx, &convs[i], pairs[i].a, pairs[i].b); err != nil {
			return nil, err
		}
	}
	return convs, nil
}

// resolveParticipants loads the two participant profiles onto c.
func (s *PostgresStore) resolveParticipants(ctx context.Context, c *Conversation, ids ...string) error {
	const query = `
		SELECT id, first_name, last_name, email, avatar, status, created_at
		FROM users WHERE id = ANY($1)`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("directory: resolve participants: %w", err)
	}
	defer rows.Close()

	c.Participants = c.Participants[:0]
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Avatar, &u.Status, &u.CreatedAt); err != nil {
			return fmt.Errorf("directory: resolve participants scan: %w", err)
		}
		c.Participants = append(c.Participants, u)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	// Deterministic order for callers and tests.
	sort.Slice(c.Participants, func(i, j int) bool {
		return c.Participants[i].ID < c.Participants[j].ID
	})
	return nil
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// AppendMessage persists one message at the end of its conversation. The
// bigserial seq column is the append-order key; the FK on conversation_id
// turns an unknown conversation into ErrNotFound.
func (s *PostgresStore) AppendMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	const query = `
		INSERT INTO messages (id, conversation_id, sender, recipient, kind, body, file_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq`

	err := s.db.QueryRowContext(ctx, query,
		m.ID, m.ConversationID, m.From, m.To, m.Kind, m.Text, m.File, m.CreatedAt,
	).Scan(&m.Seq)
	if isPgCode(err, pgForeignKeyViolation) {
		return fmt.Errorf("directory: append message: %w", ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("directory: append message: %w", err)
	}
	return nil
}

// ListMessages returns the full message sequence in append order.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	// Distinguish an empty conversation from a missing one.
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`, conversationID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("directory: list messages: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("directory: conversation %s: %w", conversationID, ErrNotFound)
	}

	const query = `
		SELECT id, conversation_id, sender, recipient, kind, body, file_ref, created_at, seq
		FROM messages WHERE conversation_id = $1
		ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("directory: list messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.From, &m.To, &m.Kind, &m.Text, &m.File, &m.CreatedAt, &m.Seq); err != nil {
			return nil, fmt.Errorf("directory: list messages scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// isPgCode reports whether err is a *pq.Error with the given SQLSTATE code.
func isPgCode(err error, code string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == code
	}
	return false
}

package room

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/amzoon/sync/src/types"
)

// Room tracks the live connections of every user. Each user's connection set
// has its own lock; the outer map lock is held only for map lookups and
// entry add/remove, never during delivery, so users cannot block each other.
//
// Rooms are pure transport-session state: nothing here is persisted, and on
// restart every device has to reconnect.
type Room struct {
	mu     sync.RWMutex
	users  map[string]*userRoom
	logger zerolog.Logger
}

type userRoom struct {
	mu    sync.Mutex
	conns map[*Client]struct{}
}

// New creates an empty room registry.
func New(logger zerolog.Logger) *Room {
	return &Room{
		users:  make(map[string]*userRoom),
		logger: logger.With().Str("component", "room").Logger(),
	}
}

// Join adds a connection to its user's set, creating the set on first use.
// The outer lock is held across the insert: releasing it first would let a
// concurrent last-connection Leave delete the entry and strand this client
// in a detached set no broadcast can reach.
func (r *Room) Join(c *Client) {
	r.mu.Lock()
	ur, ok := r.users[c.UserID]
	if !ok {
		ur = &userRoom{conns: make(map[*Client]struct{})}
		r.users[c.UserID] = ur
	}
	ur.mu.Lock()
	ur.conns[c] = struct{}{}
	total := len(ur.conns)
	ur.mu.Unlock()
	r.mu.Unlock()

	r.logger.Info().
		Str("user_id", c.UserID).
		Str("conn_id", c.ID).
		Int("connections", total).
		Msg("connection joined")
}

// Leave removes a connection. When the last connection of a user goes, the
// user's entry is removed entirely so memory stays bounded to active users.
func (r *Room) Leave(c *Client) {
	r.mu.Lock()
	ur, ok := r.users[c.UserID]
	if !ok {
		r.mu.Unlock()
		return
	}
	ur.mu.Lock()
	delete(ur.conns, c)
	empty := len(ur.conns) == 0
	ur.mu.Unlock()
	if empty {
		delete(r.users, c.UserID)
	}
	r.mu.Unlock()

	c.Close()
	r.logger.Info().
		Str("user_id", c.UserID).
		Str("conn_id", c.ID).
		Msg("connection left")
}

// Broadcast delivers msg to every connection of userID except the one given
// (nil excludes nobody). The connection set is snapshotted before any send,
// so a connection closing mid-broadcast cannot corrupt iteration. Delivery
// is best-effort per connection: a failed or full target is logged and
// skipped, never aborting the rest.
func (r *Room) Broadcast(userID string, msg types.ServerMessage, except *Client) {
	r.mu.RLock()
	ur, ok := r.users[userID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	ur.mu.Lock()
	targets := make([]*Client, 0, len(ur.conns))
	for c := range ur.conns {
		if c != except {
			targets = append(targets, c)
		}
	}
	ur.mu.Unlock()

	for _, c := range targets {
		if !c.enqueue(msg) {
			r.logger.Warn().
				Str("user_id", userID).
				Str("conn_id", c.ID).
				Str("type", msg.Type).
				Msg("dropped message, connection closed or buffer full")
		}
	}
}

// SendTo delivers msg to a single connection, used for rejection replies.
// Failure is swallowed the same way as in Broadcast.
func (r *Room) SendTo(c *Client, msg types.ServerMessage) {
	if !c.enqueue(msg) {
		r.logger.Warn().
			Str("user_id", c.UserID).
			Str("conn_id", c.ID).
			Str("type", msg.Type).
			Msg("dropped message, connection closed or buffer full")
	}
}

// ConnectionCount returns the number of live connections for one user.
func (r *Room) ConnectionCount(userID string) int {
	r.mu.RLock()
	ur, ok := r.users[userID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	ur.mu.Lock()
	defer ur.mu.Unlock()
	return len(ur.conns)
}

// UserCount returns the number of users with at least one live connection.
func (r *Room) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// TotalConnections returns the number of live connections across all users.
func (r *Room) TotalConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, ur := range r.users {
		ur.mu.Lock()
		total += len(ur.conns)
		ur.mu.Unlock()
	}
	return total
}

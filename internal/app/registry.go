package app

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Perch/internal/core"
	"github.com/dkeye/Perch/internal/domain"
)

type ConnID string

type connEntry struct {
	ID        ConnID
	UserID    domain.UserID
	Conn      core.SignalConnection
	CreatedAt time.Time

	// consecutive TrySend failures, reset on success. Guarded by the
	// registry mutex.
	misses int
}

// PresenceSink receives connection-count edges: online=true when a user goes
// from zero to one connection, online=false on the way back down.
type PresenceSink interface {
	ConnectionEdge(userID domain.UserID, online bool)
}

// Registry tracks live connections keyed by user. A user may own several
// connections at once (multi-device).
type Registry struct {
	mu     sync.RWMutex
	byConn map[ConnID]*connEntry
	byUser map[domain.UserID]map[ConnID]*connEntry

	presence PresenceSink
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[ConnID]*connEntry),
		byUser: make(map[domain.UserID]map[ConnID]*connEntry),
	}
}

// SetPresenceSink must be called before the first Register.
func (r *Registry) SetPresenceSink(p PresenceSink) { r.presence = p }

func (r *Registry) Register(userID domain.UserID, conn core.SignalConnection) ConnID {
	e := &connEntry{
		ID:        ConnID(uuid.NewString()),
		UserID:    userID,
		Conn:      conn,
		CreatedAt: time.Now(),
	}

	r.mu.Lock()
	r.byConn[e.ID] = e
	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[ConnID]*connEntry)
		r.byUser[userID] = set
	}
	set[e.ID] = e
	first := len(set) == 1
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Str("user", string(userID)).Str("conn", string(e.ID)).Msg("connection registered")

	// Callback outside the lock: the sink fans out through the router,
	// which reads the registry.
	if first && r.presence != nil {
		r.presence.ConnectionEdge(userID, true)
	}
	return e.ID
}

func (r *Registry) Unregister(id ConnID) {
	r.mu.Lock()
	e, ok := r.byConn[id]
	if !ok {
		r.mu.Unlock()
		log.Warn().Str("module", "app.registry").Str("conn", string(id)).Msg("unregister of unknown connection")
		return
	}
	delete(r.byConn, id)
	set := r.byUser[e.UserID]
	delete(set, id)
	last := len(set) == 0
	if last {
		delete(r.byUser, e.UserID)
	}
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Str("user", string(e.UserID)).Str("conn", string(id)).Msg("connection unregistered")

	if last && r.presence != nil {
		r.presence.ConnectionEdge(e.UserID, false)
	}
}

// ConnectionsFor returns the user's live connections, empty if none.
func (r *Registry) ConnectionsFor(userID domain.UserID) []core.SignalConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[userID]
	out := make([]core.SignalConnection, 0, len(set))
	for _, e := range set {
		out = append(out, e.Conn)
	}
	return out
}

type connSnap struct {
	ID   ConnID
	Conn core.SignalConnection
}

func (r *Registry) connsFor(userID domain.UserID) []connSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[userID]
	out := make([]connSnap, 0, len(set))
	for id, e := range set {
		out = append(out, connSnap{ID: id, Conn: e.Conn})
	}
	return out
}

func (r *Registry) CountFor(userID domain.UserID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// OnlineUsers lists distinct users with at least one live connection.
func (r *Registry) OnlineUsers() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(r.byUser))
	for u := range r.byUser {
		out = append(out, u)
	}
	return out
}

// MarkSlow records a dropped frame for the connection and returns the
// consecutive miss count.
func (r *Registry) MarkSlow(id ConnID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byConn[id]
	if !ok {
		return 0
	}
	e.misses++
	return e.misses
}

// MarkDrained resets the miss counter after a successful send.
func (r *Registry) MarkDrained(id ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byConn[id]; ok {
		e.misses = 0
	}
}

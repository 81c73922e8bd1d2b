package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Perch/internal/core"
	"github.com/dkeye/Perch/internal/domain"
)

// Options carries the hub's timing and backpressure knobs.
type Options struct {
	RingingTimeout time.Duration
	PresenceGrace  time.Duration
	KickAfterDrops int
}

// Hub wires the registry, membership cache, router, presence tracker,
// typing relay and call table into one message bus. Adapters talk to the
// Hub; the parts talk to each other.
type Hub struct {
	Registry *Registry
	Members  *MembershipIndex
	Router   *Router
	Presence *Presence
	Typing   *Typing
	Calls    *CallTable
}

func NewHub(dir core.Directory, opts Options) *Hub {
	reg := NewRegistry()
	members := NewMembershipIndex(dir)
	router := NewRouter(reg, members, SimplePolicy{KickAfter: opts.KickAfterDrops})
	presence := NewPresence(router, members, opts.PresenceGrace)
	reg.SetPresenceSink(presence)

	return &Hub{
		Registry: reg,
		Members:  members,
		Router:   router,
		Presence: presence,
		Typing:   NewTyping(router),
		Calls:    NewCallTable(router, members, opts.RingingTimeout),
	}
}

// Connect registers an authenticated connection. Re-auth after a reconnect
// is idempotent: the new connection is added alongside any stale ones, which
// the idle timeout reaps.
func (h *Hub) Connect(user *domain.User, conn core.SignalConnection) ConnID {
	return h.Registry.Register(user.ID, conn)
}

// Disconnect unregisters the connection; the registry cascades to presence,
// and the call table releases the user once no connections remain.
func (h *Hub) Disconnect(ctx context.Context, id ConnID, userID domain.UserID) {
	h.Registry.Unregister(id)
	if h.Registry.CountFor(userID) == 0 {
		h.Calls.ReleaseUser(ctx, userID)
	}
}

// OnMembershipChanged handles channel lifecycle signals from the resource
// layer: invalidate the cache, then fan the event out to the fresh member
// set.
func (h *Hub) OnMembershipChanged(ctx context.Context, ev domain.Event) {
	if ev.ChannelID == "" {
		log.Warn().Str("module", "app.hub").Str("type", string(ev.Type)).Msg("membership signal without channel, dropped")
		return
	}
	h.Members.Invalidate(domain.ChannelID(ev.ChannelID))
	h.Router.RouteChannel(ctx, ev, "")
}

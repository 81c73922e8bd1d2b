package app

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Perch/internal/core"
	"github.com/dkeye/Perch/internal/domain"
)

// Router resolves recipient sets and pushes serialized events into live
// connections. It never persists anything.
type Router struct {
	Registry *Registry
	Members  *MembershipIndex
	Policy   Policy
}

func NewRouter(reg *Registry, members *MembershipIndex, policy Policy) *Router {
	return &Router{Registry: reg, Members: members, Policy: policy}
}

// RouteChannel fans an event out to every member of its channel, the sender
// included so the sender's other devices stay in sync. exclude names one
// connection to skip (the originating socket for typing relays); pass ""
// to deliver everywhere. Membership is resolved per dispatch, never cached
// per connection.
func (r *Router) RouteChannel(ctx context.Context, ev domain.Event, exclude ConnID) {
	channelID := domain.ChannelID(ev.ChannelID)
	members, err := r.Members.Members(ctx, channelID)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.router").Str("channel", ev.ChannelID).Str("type", string(ev.Type)).Msg("unresolvable channel, event dropped")
		return
	}

	frame, err := marshalEvent(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Str("type", string(ev.Type)).Msg("marshal event")
		return
	}

	for _, userID := range members {
		r.deliver(userID, frame, exclude)
	}
}

// RouteUser delivers point-to-point: call signaling carries an explicit
// target and bypasses channel membership entirely.
func (r *Router) RouteUser(ev domain.Event, userID domain.UserID) {
	frame, err := marshalEvent(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Str("type", string(ev.Type)).Msg("marshal event")
		return
	}
	r.deliver(userID, frame, "")
}

// RouteUsers delivers one copy per recipient, deduplicated by the caller.
// Used for presence fan-out across the union of a user's channels.
func (r *Router) RouteUsers(ev domain.Event, userIDs []domain.UserID) {
	frame, err := marshalEvent(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Str("type", string(ev.Type)).Msg("marshal event")
		return
	}
	for _, userID := range userIDs {
		r.deliver(userID, frame, "")
	}
}

// deliver pushes the frame to every live connection of the recipient. A
// recipient with no connections is simply skipped: no queueing, no replay.
func (r *Router) deliver(userID domain.UserID, frame core.Frame, exclude ConnID) {
	for _, snap := range r.Registry.connsFor(userID) {
		if snap.ID == exclude {
			continue
		}
		if err := snap.Conn.TrySend(frame); err != nil {
			r.onDropped(snap)
			continue
		}
		r.Registry.MarkDrained(snap.ID)
	}
}

func (r *Router) onDropped(snap connSnap) {
	misses := r.Registry.MarkSlow(snap.ID)
	log.Debug().Str("module", "app.router").Str("conn", string(snap.ID)).Int("misses", misses).Msg("frame dropped, slow consumer")
	if r.Policy == nil {
		return
	}
	switch r.Policy.OnBackpressure(snap.ID, misses) {
	case KickConnection:
		log.Warn().Str("module", "app.router").Str("conn", string(snap.ID)).Msg("kicking persistently slow connection")
		r.Registry.Unregister(snap.ID)
		snap.Conn.Close()
	case DropFrame, NoAction:
	}
}

func marshalEvent(ev domain.Event) (core.Frame, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return core.Frame(b), nil
}

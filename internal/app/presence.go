package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Perch/internal/domain"
)

type presencePayload struct {
	UserID domain.UserID `json:"user_id"`
	Online bool          `json:"online"`
}

// Presence derives online state from connection-count edges and broadcasts
// presence.update events to everyone sharing a channel with the user. A drop
// to zero that is reversed within the grace window emits nothing, so quick
// reconnects do not flicker.
type Presence struct {
	router  *Router
	members *MembershipIndex
	grace   time.Duration

	mu      sync.Mutex
	pending map[domain.UserID]*time.Timer
}

func NewPresence(router *Router, members *MembershipIndex, grace time.Duration) *Presence {
	return &Presence{
		router:  router,
		members: members,
		grace:   grace,
		pending: make(map[domain.UserID]*time.Timer),
	}
}

func (p *Presence) ConnectionEdge(userID domain.UserID, online bool) {
	if online {
		p.mu.Lock()
		if t, ok := p.pending[userID]; ok {
			// Reconnected within the grace window: cancel the buffered
			// offline and stay silent, the user never looked offline.
			t.Stop()
			delete(p.pending, userID)
			p.mu.Unlock()
			log.Debug().Str("module", "app.presence").Str("user", string(userID)).Msg("reconnect within grace, flicker suppressed")
			return
		}
		p.mu.Unlock()
		p.emit(userID, true)
		return
	}

	if p.grace <= 0 {
		p.emit(userID, false)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.pending[userID]; ok {
		t.Stop()
	}
	p.pending[userID] = time.AfterFunc(p.grace, func() {
		p.mu.Lock()
		delete(p.pending, userID)
		p.mu.Unlock()
		p.emit(userID, false)
	})
}

func (p *Presence) emit(userID domain.UserID, online bool) {
	ctx := context.Background()
	channels, err := p.members.ChannelsOf(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.presence").Str("user", string(userID)).Msg("channels lookup failed, presence not emitted")
		return
	}

	// Union of members across the user's channels, one copy each.
	seen := make(map[domain.UserID]struct{})
	var recipients []domain.UserID
	for _, ch := range channels {
		members, err := p.members.Members(ctx, ch)
		if err != nil {
			log.Warn().Err(err).Str("module", "app.presence").Str("channel", string(ch)).Msg("members lookup failed")
			continue
		}
		for _, u := range members {
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			recipients = append(recipients, u)
		}
	}

	ev := domain.NewEvent(domain.EventPresenceUpdate, "", presencePayload{UserID: userID, Online: online})
	p.router.RouteUsers(ev, recipients)
	log.Info().Str("module", "app.presence").Str("user", string(userID)).Bool("online", online).Int("recipients", len(recipients)).Msg("presence update")
}

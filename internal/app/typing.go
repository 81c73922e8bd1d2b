package app

import (
	"context"

	"github.com/dkeye/Perch/internal/domain"
)

type typingPayload struct {
	UserID    domain.UserID    `json:"user_id"`
	ChannelID domain.ChannelID `json:"channel_id"`
	UserName  string           `json:"user_name"`
}

// Typing relays typing indicators immediately, no coalescing or delay on the
// server. Senders throttle themselves and receivers expire indicators
// locally; the hub's only job is the fan-out.
type Typing struct {
	router *Router
}

func NewTyping(router *Router) *Typing {
	return &Typing{router: router}
}

// OnTyping synthesizes the payload server-side so a client cannot claim to
// type as someone else, then relays to the channel minus the originating
// socket.
func (t *Typing) OnTyping(ctx context.Context, channelID domain.ChannelID, user *domain.User, from ConnID) {
	ev := domain.NewEvent(domain.EventTyping, channelID, typingPayload{
		UserID:    user.ID,
		ChannelID: channelID,
		UserName:  user.Username,
	})
	t.router.RouteChannel(ctx, ev, from)
}

package signal

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Perch/internal/domain"
)

// handleTyping relays a typing indicator immediately. The sender must be a
// member of the channel; the payload is synthesized server-side so identity
// cannot be spoofed.
func (ctl *Controller) handleTyping(ctx context.Context, sess *session, env domain.Event) {
	if env.ChannelID == "" {
		log.Debug().Str("module", "signal").Str("user", string(sess.user.ID)).Msg("typing without channel, dropped")
		return
	}
	if ctl.typingLimiter != nil && !ctl.typingLimiter.Allow(sess.user.ID) {
		log.Debug().Str("module", "signal").Str("user", string(sess.user.ID)).Msg("typing rate limited")
		return
	}

	channelID := domain.ChannelID(env.ChannelID)
	ok, err := ctl.Hub.Members.IsMember(ctx, channelID, sess.user.ID)
	if err != nil || !ok {
		log.Warn().Err(err).Str("module", "signal").Str("user", string(sess.user.ID)).Str("channel", env.ChannelID).Msg("typing from non-member dropped")
		return
	}

	ctl.Hub.Typing.OnTyping(ctx, channelID, sess.user, sess.connID)
}

package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Perch/internal/domain"
)

// maxMalformed is how many consecutive undecodable frames a connection gets
// before it is closed.
const maxMalformed = 5

// handleFrame dispatches one inbound frame. Returns false when the
// connection should be torn down.
func (ctl *Controller) handleFrame(ctx context.Context, sess *session, c *wsSignalConn, data []byte) bool {
	var env domain.Event
	if err := json.Unmarshal(data, &env); err != nil {
		sess.strikes++
		log.Warn().Err(err).Str("module", "signal").Str("user", string(sess.user.ID)).Int("strikes", sess.strikes).Msg("malformed frame dropped")
		return sess.strikes < maxMalformed
	}
	sess.strikes = 0

	switch env.Type {
	case domain.EventTyping:
		ctl.handleTyping(ctx, sess, env)
	case domain.EventCallInitiate:
		ctl.handleCallInitiate(ctx, sess, c, env)
	case domain.EventCallAccept:
		ctl.handleCallAccept(ctx, sess, env)
	case domain.EventCallDecline:
		ctl.handleCallDecline(ctx, sess, env)
	case domain.EventCallHangup:
		ctl.handleCallHangup(ctx, sess, env)
	case domain.EventCallOffer, domain.EventCallAnswer, domain.EventCallICECandidate:
		ctl.handleCallRelay(ctx, sess, env)
	case domain.EventAuth:
		// Already authenticated; a repeat auth frame is a no-op.
		log.Debug().Str("module", "signal").Str("user", string(sess.user.ID)).Msg("repeat auth frame ignored")
	default:
		log.Warn().Str("module", "signal").Str("type", string(env.Type)).Msg("unknown or server-only event kind from client")
	}
	return true
}

func (ctl *Controller) sendJSON(c *wsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Perch/internal/app"
	"github.com/dkeye/Perch/internal/domain"
)

func (ctl *Controller) handleCallInitiate(ctx context.Context, sess *session, c *wsSignalConn, env domain.Event) {
	var p struct {
		ChannelID string          `json:"channel_id"`
		CallType  domain.CallType `json:"call_type"`
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.ChannelID == "" {
		log.Warn().Str("module", "signal").Str("user", string(sess.user.ID)).Msg("bad call.initiate payload")
		return
	}
	if p.CallType != domain.CallAudio && p.CallType != domain.CallVideo {
		log.Warn().Str("module", "signal").Str("call_type", string(p.CallType)).Msg("bad call type")
		return
	}

	_, err := ctl.Hub.Calls.Initiate(ctx, domain.ChannelID(p.ChannelID), sess.user.ID, p.CallType)
	if errors.Is(err, app.ErrCallActive) {
		// The one rejection the protocol surfaces: the UI needs to tell
		// the user why their call did not start.
		ctl.sendJSON(c, map[string]any{
			"type":       "error",
			"error":      "call_active",
			"channel_id": p.ChannelID,
		})
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("user", string(sess.user.ID)).Str("channel", p.ChannelID).Msg("call.initiate dropped")
	}
}

func (ctl *Controller) handleCallAccept(ctx context.Context, sess *session, env domain.Event) {
	callID, ok := parseCallID(env)
	if !ok {
		log.Warn().Str("module", "signal").Str("user", string(sess.user.ID)).Msg("bad call.accept payload")
		return
	}
	if _, err := ctl.Hub.Calls.Accept(ctx, callID, sess.user.ID); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("call", string(callID)).Str("user", string(sess.user.ID)).Msg("call.accept dropped")
	}
}

func (ctl *Controller) handleCallDecline(ctx context.Context, sess *session, env domain.Event) {
	callID, ok := parseCallID(env)
	if !ok {
		log.Warn().Str("module", "signal").Str("user", string(sess.user.ID)).Msg("bad call.decline payload")
		return
	}
	if err := ctl.Hub.Calls.Decline(ctx, callID, sess.user.ID); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("call", string(callID)).Str("user", string(sess.user.ID)).Msg("call.decline dropped")
	}
}

func (ctl *Controller) handleCallHangup(ctx context.Context, sess *session, env domain.Event) {
	callID, ok := parseCallID(env)
	if !ok {
		log.Warn().Str("module", "signal").Str("user", string(sess.user.ID)).Msg("bad call.hangup payload")
		return
	}
	if err := ctl.Hub.Calls.Hangup(ctx, callID, sess.user.ID); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("call", string(callID)).Str("user", string(sess.user.ID)).Msg("call.hangup dropped")
	}
}

// handleCallRelay forwards offer/answer/ICE point-to-point. The from_user
// field is stamped from the session, whatever the client put there.
func (ctl *Controller) handleCallRelay(ctx context.Context, sess *session, env domain.Event) {
	var msg app.SignalingMessage
	if err := json.Unmarshal(env.Payload, &msg); err != nil || msg.CallID == "" || msg.ToUser == "" {
		log.Warn().Str("module", "signal").Str("user", string(sess.user.ID)).Str("type", string(env.Type)).Msg("bad signaling payload")
		return
	}
	if err := ctl.Hub.Calls.Relay(ctx, env.Type, sess.user.ID, msg); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("call", string(msg.CallID)).Str("user", string(sess.user.ID)).Str("type", string(env.Type)).Msg("signaling relay dropped")
	}
}

func parseCallID(env domain.Event) (domain.CallID, bool) {
	var p struct {
		CallID string `json:"call_id"`
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.CallID == "" {
		return "", false
	}
	return domain.CallID(p.CallID), true
}

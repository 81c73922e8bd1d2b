package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsSignalConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes inbound frames until error, idle timeout or cancel. The
// deferred disconnect cascades through the registry to presence and, once
// the user's last connection is gone, releases their calls.
func (ctl *Controller) readPump(ctx context.Context, sess *session, c *wsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("user", string(sess.user.ID)).Str("conn", string(sess.connID)).Msg("readPump closing")
		c.Close()
		ctl.Hub.Disconnect(context.Background(), sess.connID, sess.user.ID)
	}()

	// Any inbound traffic, pongs included, counts as activity against the
	// idle timeout.
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.Cfg.IdleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.Cfg.IdleTimeout))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "signal").Str("user", string(sess.user.ID)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(ctl.Cfg.IdleTimeout))
			if !ctl.handleFrame(ctx, sess, c, data) {
				return
			}
		}
	}
}

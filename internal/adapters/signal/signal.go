package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Perch/internal/app"
	"github.com/dkeye/Perch/internal/config"
	"github.com/dkeye/Perch/internal/core"
	"github.com/dkeye/Perch/internal/domain"
)

type Controller struct {
	Hub  *app.Hub
	Auth core.TokenValidator
	Cfg  *config.Config

	typingLimiter *FrameRateLimiter
}

func NewController(hub *app.Hub, auth core.TokenValidator, cfg *config.Config) *Controller {
	ctl := &Controller{
		Hub:  hub,
		Auth: auth,
		Cfg:  cfg,
	}
	if cfg.TypingBurst > 0 {
		ctl.typingLimiter = NewFrameRateLimiter(cfg.TypingBurst, cfg.TypingWindow)
	}
	return ctl
}

type wsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// session is the per-connection state after a successful handshake.
type session struct {
	user   *domain.User
	connID app.ConnID

	// consecutive malformed inbound frames; the connection is closed once
	// this hits maxMalformed.
	strikes int
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the socket and runs the handshake: the first frame
// must be auth{token} within the auth timeout. Any other first frame or a
// bad token closes the socket with no response frame, so token validity is
// not leaked.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	ws.SetReadLimit(ctl.Cfg.ReadLimit)

	user, ok := ctl.handshake(ws)
	if !ok {
		_ = ws.Close()
		return
	}

	conn := &wsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.Cfg.SendBuffer),
	}
	sess := &session{user: user, connID: ctl.Hub.Connect(user, conn)}
	log.Info().Str("module", "signal").Str("user", string(user.ID)).Str("conn", string(sess.connID)).Msg("connection authenticated")

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ctl.writePump(ctx, conn)
		cancel()
	}()
	go func() {
		ctl.readPump(ctx, sess, conn)
		cancel()
	}()
}

func (ctl *Controller) handshake(ws *websocket.Conn) (*domain.User, bool) {
	_ = ws.SetReadDeadline(time.Now().Add(ctl.Cfg.AuthTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("no auth frame before timeout")
		return nil, false
	}

	var env domain.Event
	if err := json.Unmarshal(data, &env); err != nil || env.Type != domain.EventAuth {
		log.Warn().Str("module", "signal").Msg("first frame is not auth")
		return nil, false
	}

	var p struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.Token == "" {
		log.Warn().Str("module", "signal").Msg("auth frame without token")
		return nil, false
	}

	user, err := ctl.Auth.Validate(p.Token)
	if err != nil {
		log.Warn().Str("module", "signal").Msg("token rejected")
		return nil, false
	}
	return user, true
}

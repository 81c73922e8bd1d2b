package signal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Perch/internal/adapters/auth"
	"github.com/dkeye/Perch/internal/adapters/directory"
	"github.com/dkeye/Perch/internal/app"
	"github.com/dkeye/Perch/internal/config"
	"github.com/dkeye/Perch/internal/domain"
)

const testSecret = "signal-test-secret"

type testEnv struct {
	srv *httptest.Server
	url string
	hub *app.Hub
	dir *directory.Memory
}

func newTestEnv(t *testing.T, opts ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Mode:           "release",
		Secret:         testSecret,
		ReadLimit:      16384,
		PingPeriod:     30 * time.Second,
		AuthTimeout:    2 * time.Second,
		IdleTimeout:    10 * time.Second,
		WriteWait:      2 * time.Second,
		SendBuffer:     64,
		KickAfterDrops: 8,
		RingingTimeout: time.Minute,
		TypingBurst:    5,
		TypingWindow:   3 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	dir := directory.NewMemory()
	hub := app.NewHub(dir, app.Options{
		RingingTimeout: cfg.RingingTimeout,
		KickAfterDrops: cfg.KickAfterDrops,
	})
	dir.OnChange = hub.Members.Invalidate

	ctrl := NewController(hub, auth.NewJWTValidator(testSecret), cfg)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		ctrl.HandleSignal(context.Background(), c)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testEnv{
		srv: srv,
		url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		hub: hub,
		dir: dir,
	}
}

func signToken(t *testing.T, userID, name string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  userID,
		"name": name,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func dial(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(env.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, ev domain.Event) {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

func connectAs(t *testing.T, env *testEnv, userID, name string) *websocket.Conn {
	t.Helper()
	ws := dial(t, env)
	send(t, ws, domain.NewEvent(domain.EventAuth, "", map[string]string{"token": signToken(t, userID, name)}))
	return ws
}

// waitOnline blocks until the hub has registered the user's connection.
func waitOnline(t *testing.T, env *testEnv, userID string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if env.hub.Registry.CountFor(domain.UserID(userID)) > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("user %s never came online", userID)
}

// waitFor reads frames until one of the wanted type arrives.
func waitFor(t *testing.T, ws *websocket.Conn, want domain.EventType) domain.Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		var ev domain.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		if ev.Type == want {
			return ev
		}
	}
	t.Fatalf("no %s frame before deadline", want)
	return domain.Event{}
}

func expectClosed(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err)
}

func TestHandshakeAndTypingRelay(t *testing.T) {
	env := newTestEnv(t)
	aliceID, bobID := uuid.NewString(), uuid.NewString()
	env.dir.CreateChannel(domain.Channel{ID: "ch1", Name: "general", Type: domain.ChannelPublic}, domain.UserID(aliceID))
	require.NoError(t, env.dir.AddMember("ch1", domain.UserID(bobID), domain.RoleMember))

	bob := connectAs(t, env, bobID, "Bob")
	waitOnline(t, env, bobID)
	// bob sees alice come online once she authenticates.
	alice := connectAs(t, env, aliceID, "Alice")
	waitFor(t, bob, domain.EventPresenceUpdate)
	waitOnline(t, env, aliceID)

	send(t, alice, domain.Event{Type: domain.EventTyping, ChannelID: "ch1"})

	ev := waitFor(t, bob, domain.EventTyping)
	assert.Equal(t, "ch1", ev.ChannelID)
	var p struct {
		UserID   string `json:"user_id"`
		UserName string `json:"user_name"`
	}
	require.NoError(t, json.Unmarshal(ev.Payload, &p))
	assert.Equal(t, aliceID, p.UserID)
	assert.Equal(t, "Alice", p.UserName)
}

func TestFirstFrameMustBeAuth(t *testing.T) {
	env := newTestEnv(t)

	ws := dial(t, env)
	send(t, ws, domain.Event{Type: domain.EventTyping, ChannelID: "ch1"})
	expectClosed(t, ws)
}

func TestBadTokenClosesWithoutResponse(t *testing.T) {
	env := newTestEnv(t)

	ws := dial(t, env)
	send(t, ws, domain.NewEvent(domain.EventAuth, "", map[string]string{"token": "garbage"}))
	expectClosed(t, ws)
}

func TestCallInitiateConflictSurfacesError(t *testing.T) {
	env := newTestEnv(t)
	aliceID, bobID := uuid.NewString(), uuid.NewString()
	env.dir.CreateChannel(domain.Channel{ID: "dm1", Name: "dm", Type: domain.ChannelDirect}, domain.UserID(aliceID))
	require.NoError(t, env.dir.AddMember("dm1", domain.UserID(bobID), domain.RoleMember))

	alice := connectAs(t, env, aliceID, "Alice")

	initiate := domain.NewEvent(domain.EventCallInitiate, "", map[string]string{
		"channel_id": "dm1",
		"call_type":  "audio",
	})
	send(t, alice, initiate)
	ringing := waitFor(t, alice, domain.EventCallRinging)

	var c domain.Call
	require.NoError(t, json.Unmarshal(ringing.Payload, &c))
	assert.Equal(t, domain.CallRinging, c.Status)
	assert.Equal(t, domain.UserID(aliceID), c.InitiatorID)

	// A second initiate while the first still rings is the one explicit
	// rejection the protocol sends.
	send(t, alice, initiate)
	ev := waitFor(t, alice, domain.EventError)
	assert.Equal(t, "dm1", ev.ChannelID)
}

func TestSignalingRelayedOnlyToTarget(t *testing.T) {
	env := newTestEnv(t)
	aliceID, bobID := uuid.NewString(), uuid.NewString()
	env.dir.CreateChannel(domain.Channel{ID: "dm1", Name: "dm", Type: domain.ChannelDirect}, domain.UserID(aliceID))
	require.NoError(t, env.dir.AddMember("dm1", domain.UserID(bobID), domain.RoleMember))

	alice := connectAs(t, env, aliceID, "Alice")
	bob := connectAs(t, env, bobID, "Bob")
	waitOnline(t, env, aliceID)
	waitOnline(t, env, bobID)

	send(t, alice, domain.NewEvent(domain.EventCallInitiate, "", map[string]string{
		"channel_id": "dm1",
		"call_type":  "video",
	}))
	ringing := waitFor(t, bob, domain.EventCallRinging)

	var c domain.Call
	require.NoError(t, json.Unmarshal(ringing.Payload, &c))

	send(t, bob, domain.NewEvent(domain.EventCallAccept, "", map[string]string{"call_id": string(c.ID)}))
	waitFor(t, alice, domain.EventCallAccepted)

	send(t, alice, domain.NewEvent(domain.EventCallOffer, "", map[string]any{
		"call_id": c.ID,
		"to_user": bobID,
		"data":    map[string]string{"type": "offer", "sdp": "v=0"},
	}))

	offer := waitFor(t, bob, domain.EventCallOffer)
	var msg struct {
		CallID   string          `json:"call_id"`
		FromUser string          `json:"from_user"`
		ToUser   string          `json:"to_user"`
		Data     json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(offer.Payload, &msg))
	assert.Equal(t, string(c.ID), msg.CallID)
	assert.Equal(t, aliceID, msg.FromUser)
	assert.Equal(t, bobID, msg.ToUser)
}

func TestMalformedFramesTolerated(t *testing.T) {
	env := newTestEnv(t)
	aliceID, bobID := uuid.NewString(), uuid.NewString()
	env.dir.CreateChannel(domain.Channel{ID: "ch1", Name: "general", Type: domain.ChannelPublic}, domain.UserID(aliceID))
	require.NoError(t, env.dir.AddMember("ch1", domain.UserID(bobID), domain.RoleMember))

	bob := connectAs(t, env, bobID, "Bob")
	waitOnline(t, env, bobID)
	alice := connectAs(t, env, aliceID, "Alice")
	waitFor(t, bob, domain.EventPresenceUpdate)

	// A few garbage frames are dropped without closing the connection.
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("also not json")))

	send(t, alice, domain.Event{Type: domain.EventTyping, ChannelID: "ch1"})
	waitFor(t, bob, domain.EventTyping)
}

func TestMalformedFrameStrikeOut(t *testing.T) {
	env := newTestEnv(t)
	aliceID := uuid.NewString()

	alice := connectAs(t, env, aliceID, "Alice")
	waitOnline(t, env, aliceID)

	// The strike limit of consecutive garbage frames tears the socket down.
	for i := 0; i < maxMalformed; i++ {
		require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{not json")))
	}
	expectClosed(t, alice)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && env.hub.Registry.CountFor(domain.UserID(aliceID)) > 0 {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Zero(t, env.hub.Registry.CountFor(domain.UserID(aliceID)))
}

func TestValidFrameResetsStrikes(t *testing.T) {
	env := newTestEnv(t)
	aliceID, bobID := uuid.NewString(), uuid.NewString()
	env.dir.CreateChannel(domain.Channel{ID: "ch1", Name: "general", Type: domain.ChannelPublic}, domain.UserID(aliceID))
	require.NoError(t, env.dir.AddMember("ch1", domain.UserID(bobID), domain.RoleMember))

	bob := connectAs(t, env, bobID, "Bob")
	waitOnline(t, env, bobID)
	alice := connectAs(t, env, aliceID, "Alice")
	waitFor(t, bob, domain.EventPresenceUpdate)

	garbage := func(n int) {
		t.Helper()
		for i := 0; i < n; i++ {
			require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{not json")))
		}
	}

	// One frame short of the limit, then a valid frame resets the counter.
	garbage(maxMalformed - 1)
	send(t, alice, domain.Event{Type: domain.EventTyping, ChannelID: "ch1"})
	waitFor(t, bob, domain.EventTyping)

	// Another run just under the limit still leaves the connection alive.
	garbage(maxMalformed - 1)
	send(t, alice, domain.Event{Type: domain.EventTyping, ChannelID: "ch1"})
	waitFor(t, bob, domain.EventTyping)
}

func TestTypingBackstopFromConfig(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.TypingBurst = 1
		cfg.TypingWindow = time.Minute
	})
	aliceID, bobID := uuid.NewString(), uuid.NewString()
	env.dir.CreateChannel(domain.Channel{ID: "ch1", Name: "general", Type: domain.ChannelPublic}, domain.UserID(aliceID))
	require.NoError(t, env.dir.AddMember("ch1", domain.UserID(bobID), domain.RoleMember))

	bob := connectAs(t, env, bobID, "Bob")
	waitOnline(t, env, bobID)
	alice := connectAs(t, env, aliceID, "Alice")
	waitFor(t, bob, domain.EventPresenceUpdate)

	send(t, alice, domain.Event{Type: domain.EventTyping, ChannelID: "ch1"})
	waitFor(t, bob, domain.EventTyping)

	// The second frame exceeds the configured burst and is dropped.
	send(t, alice, domain.Event{Type: domain.EventTyping, ChannelID: "ch1"})
	require.NoError(t, bob.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := bob.ReadMessage()
	assert.Error(t, err)
}

func TestTypingBackstopDisabled(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.TypingBurst = 0
	})
	aliceID, bobID := uuid.NewString(), uuid.NewString()
	env.dir.CreateChannel(domain.Channel{ID: "ch1", Name: "general", Type: domain.ChannelPublic}, domain.UserID(aliceID))
	require.NoError(t, env.dir.AddMember("ch1", domain.UserID(bobID), domain.RoleMember))

	bob := connectAs(t, env, bobID, "Bob")
	waitOnline(t, env, bobID)
	alice := connectAs(t, env, aliceID, "Alice")
	waitFor(t, bob, domain.EventPresenceUpdate)

	for i := 0; i < 8; i++ {
		send(t, alice, domain.Event{Type: domain.EventTyping, ChannelID: "ch1"})
	}
	for i := 0; i < 8; i++ {
		waitFor(t, bob, domain.EventTyping)
	}
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Perch/internal/domain"
)

var (
	ErrCallActive     = errors.New("channel already has an active call")
	ErrCallNotFound   = errors.New("call not found")
	ErrCallTerminal   = errors.New("call already ended")
	ErrCallNotRinging = errors.New("call is not ringing")
	ErrNotMember      = errors.New("not a channel member")
	ErrNotParticipant = errors.New("not a call participant")
	ErrOwnCall        = errors.New("initiator cannot answer own call")
)

// SignalingMessage is the relayed offer/answer/ICE payload. Data stays
// opaque; the hub never parses session descriptions. FromUser is stamped by
// the server, never trusted from the client frame.
type SignalingMessage struct {
	CallID   domain.CallID   `json:"call_id"`
	FromUser domain.UserID   `json:"from_user"`
	ToUser   domain.UserID   `json:"to_user"`
	Data     json.RawMessage `json:"data"`
}

// terminalRetention is how long a finished call record lingers in the table
// so late frames referencing it still resolve to ErrCallTerminal instead of
// ErrCallNotFound. After that the record is pruned.
const terminalRetention = time.Minute

// CallTable owns every in-flight call: one non-terminal slot per channel,
// strictly monotonic transitions, ringing timeout. State lives under a
// single mutex; the table is small and hot.
type CallTable struct {
	router         *Router
	members        *MembershipIndex
	ringingTimeout time.Duration
	retention      time.Duration

	mu     sync.Mutex
	calls  map[domain.CallID]*domain.Call
	active map[domain.ChannelID]domain.CallID
	timers map[domain.CallID]*time.Timer
}

func NewCallTable(router *Router, members *MembershipIndex, ringingTimeout time.Duration) *CallTable {
	return &CallTable{
		router:         router,
		members:        members,
		ringingTimeout: ringingTimeout,
		retention:      terminalRetention,
		calls:          make(map[domain.CallID]*domain.Call),
		active:         make(map[domain.ChannelID]domain.CallID),
		timers:         make(map[domain.CallID]*time.Timer),
	}
}

// Initiate creates a ringing call and broadcasts call.ringing to the whole
// channel, initiator included (self-echo drives the "Calling…" UI). The
// second initiate on a channel with a live call is the one rejection the
// protocol surfaces to the sender.
func (t *CallTable) Initiate(ctx context.Context, channelID domain.ChannelID, initiator domain.UserID, callType domain.CallType) (*domain.Call, error) {
	ok, err := t.members.IsMember(ctx, channelID, initiator)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotMember
	}

	t.mu.Lock()
	if id, ok := t.active[channelID]; ok {
		if c, ok := t.calls[id]; ok && !c.Status.Terminal() {
			t.mu.Unlock()
			return nil, ErrCallActive
		}
	}
	c := domain.NewCall(channelID, initiator, callType)
	t.calls[c.ID] = c
	t.active[channelID] = c.ID
	snap := *c
	t.mu.Unlock()

	log.Info().Str("module", "app.calls").Str("call", string(c.ID)).Str("channel", string(channelID)).Str("initiator", string(initiator)).Str("call_type", string(callType)).Msg("call ringing")
	t.broadcast(ctx, domain.EventCallRinging, snap)
	t.armRingingTimeout(c.ID)
	return &snap, nil
}

// Accept moves ringing → in_progress. Compare-and-swap on the ringing state:
// under concurrent accepts exactly one caller wins, the rest get
// ErrCallNotRinging.
func (t *CallTable) Accept(ctx context.Context, callID domain.CallID, user domain.UserID) (*domain.Call, error) {
	channelID, err := t.channelOf(callID)
	if err != nil {
		return nil, err
	}
	ok, err := t.members.IsMember(ctx, channelID, user)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotMember
	}

	t.mu.Lock()
	c, found := t.calls[callID]
	if !found {
		t.mu.Unlock()
		return nil, ErrCallNotFound
	}
	if c.Status.Terminal() {
		t.mu.Unlock()
		return nil, ErrCallTerminal
	}
	if c.Status != domain.CallRinging {
		t.mu.Unlock()
		return nil, ErrCallNotRinging
	}
	if user == c.InitiatorID {
		t.mu.Unlock()
		return nil, ErrOwnCall
	}
	now := time.Now()
	c.Status = domain.CallInProgress
	c.AcceptedBy = user
	c.StartedAt = &now
	snap := *c
	t.mu.Unlock()

	t.cancelTimer(callID)
	log.Info().Str("module", "app.calls").Str("call", string(callID)).Str("accepted_by", string(user)).Msg("call accepted")
	t.broadcast(ctx, domain.EventCallAccepted, snap)
	return &snap, nil
}

// Decline is only valid while ringing, from a channel member other than the
// initiator. The first decline terminates the call for everyone.
func (t *CallTable) Decline(ctx context.Context, callID domain.CallID, user domain.UserID) error {
	channelID, err := t.channelOf(callID)
	if err != nil {
		return err
	}
	ok, err := t.members.IsMember(ctx, channelID, user)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}

	t.mu.Lock()
	c, found := t.calls[callID]
	if !found {
		t.mu.Unlock()
		return ErrCallNotFound
	}
	if c.Status.Terminal() {
		t.mu.Unlock()
		return ErrCallTerminal
	}
	if c.Status != domain.CallRinging {
		t.mu.Unlock()
		return ErrCallNotRinging
	}
	if user == c.InitiatorID {
		t.mu.Unlock()
		return ErrOwnCall
	}
	snap := t.finishLocked(c, domain.CallDeclined)
	t.mu.Unlock()

	t.cancelTimer(callID)
	log.Info().Str("module", "app.calls").Str("call", string(callID)).Str("declined_by", string(user)).Msg("call declined")
	t.broadcast(ctx, domain.EventCallDeclined, snap)
	return nil
}

// Hangup ends the call. While ringing only the initiator may hang up (the
// other side declines); in progress either participant may.
func (t *CallTable) Hangup(ctx context.Context, callID domain.CallID, user domain.UserID) error {
	t.mu.Lock()
	c, found := t.calls[callID]
	if !found {
		t.mu.Unlock()
		return ErrCallNotFound
	}
	if c.Status.Terminal() {
		t.mu.Unlock()
		return ErrCallTerminal
	}
	if !c.Participant(user) {
		t.mu.Unlock()
		return ErrNotParticipant
	}
	if c.Status == domain.CallRinging && user != c.InitiatorID {
		t.mu.Unlock()
		return ErrNotParticipant
	}
	snap := t.finishLocked(c, domain.CallEnded)
	t.mu.Unlock()

	t.cancelTimer(callID)
	log.Info().Str("module", "app.calls").Str("call", string(callID)).Str("by", string(user)).Msg("call ended")
	t.broadcast(ctx, domain.EventCallEnded, snap)
	return nil
}

// Relay forwards an offer/answer/ICE payload point-to-point. The sender must
// be a current participant of the referenced call and the target a member of
// the call's channel; anything else is dropped by the caller.
func (t *CallTable) Relay(ctx context.Context, eventType domain.EventType, from domain.UserID, msg SignalingMessage) error {
	t.mu.Lock()
	c, found := t.calls[msg.CallID]
	if !found {
		t.mu.Unlock()
		return ErrCallNotFound
	}
	if c.Status.Terminal() {
		t.mu.Unlock()
		return ErrCallTerminal
	}
	if !c.Participant(from) {
		t.mu.Unlock()
		return ErrNotParticipant
	}
	channelID := c.ChannelID
	t.mu.Unlock()

	ok, err := t.members.IsMember(ctx, channelID, msg.ToUser)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}

	msg.FromUser = from
	ev := domain.NewEvent(eventType, "", msg)
	t.router.RouteUser(ev, msg.ToUser)
	return nil
}

// ReleaseUser is the disconnect cascade: once the user's last connection is
// gone, any call they participate in is treated as a hangup. Ringing calls
// of other members survive; they may reconnect and accept before timeout.
func (t *CallTable) ReleaseUser(ctx context.Context, user domain.UserID) {
	t.mu.Lock()
	var done []domain.Call
	for _, c := range t.calls {
		if c.Status.Terminal() || !c.Participant(user) {
			continue
		}
		if c.Status == domain.CallRinging && user != c.InitiatorID {
			continue
		}
		done = append(done, t.finishLocked(c, domain.CallEnded))
	}
	t.mu.Unlock()

	for _, snap := range done {
		t.cancelTimer(snap.ID)
		log.Info().Str("module", "app.calls").Str("call", string(snap.ID)).Str("user", string(user)).Msg("call released on disconnect")
		t.broadcast(ctx, domain.EventCallEnded, snap)
	}
}

// ActiveCall returns a copy of the channel's non-terminal call, if any.
func (t *CallTable) ActiveCall(channelID domain.ChannelID) (*domain.Call, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.active[channelID]
	if !ok {
		return nil, false
	}
	c, ok := t.calls[id]
	if !ok || c.Status.Terminal() {
		return nil, false
	}
	snap := *c
	return &snap, true
}

func (t *CallTable) channelOf(callID domain.CallID) (domain.ChannelID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.calls[callID]
	if !ok {
		return "", ErrCallNotFound
	}
	return c.ChannelID, nil
}

// finishLocked moves the call to a terminal state, frees the channel slot
// and schedules the record for pruning. Caller holds t.mu.
func (t *CallTable) finishLocked(c *domain.Call, status domain.CallStatus) domain.Call {
	now := time.Now()
	c.Status = status
	c.EndedAt = &now
	if id, ok := t.active[c.ChannelID]; ok && id == c.ID {
		delete(t.active, c.ChannelID)
	}
	if t.retention > 0 {
		id := c.ID
		time.AfterFunc(t.retention, func() { t.prune(id) })
	} else {
		delete(t.calls, c.ID)
	}
	return *c
}

func (t *CallTable) prune(callID domain.CallID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.calls[callID]; ok && c.Status.Terminal() {
		delete(t.calls, callID)
	}
}

func (t *CallTable) broadcast(ctx context.Context, eventType domain.EventType, snap domain.Call) {
	ev := domain.NewEvent(eventType, snap.ChannelID, snap)
	t.router.RouteChannel(ctx, ev, "")
}

func (t *CallTable) armRingingTimeout(callID domain.CallID) {
	if t.ringingTimeout <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timers[callID] = time.AfterFunc(t.ringingTimeout, func() { t.expire(callID) })
}

func (t *CallTable) expire(callID domain.CallID) {
	t.mu.Lock()
	c, found := t.calls[callID]
	if !found || c.Status != domain.CallRinging {
		delete(t.timers, callID)
		t.mu.Unlock()
		return
	}
	snap := t.finishLocked(c, domain.CallMissed)
	delete(t.timers, callID)
	t.mu.Unlock()

	log.Info().Str("module", "app.calls").Str("call", string(callID)).Msg("call missed, ringing timed out")
	t.broadcast(context.Background(), domain.EventCallMissed, snap)
}

func (t *CallTable) cancelTimer(callID domain.CallID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[callID]; ok {
		timer.Stop()
		delete(t.timers, callID)
	}
}

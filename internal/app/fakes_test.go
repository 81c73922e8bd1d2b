package app

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Perch/internal/core"
	"github.com/dkeye/Perch/internal/domain"
)

// fakeConn records every frame it accepts. Set full to simulate a consumer
// that never drains its queue.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return core.ErrBackpressure
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) events() []domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Event, 0, len(f.frames))
	for _, fr := range f.frames {
		var ev domain.Event
		if err := json.Unmarshal(fr, &ev); err == nil {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeConn) count(t domain.EventType) int {
	n := 0
	for _, ev := range f.events() {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (f *fakeConn) last(t domain.EventType) (domain.Event, bool) {
	var out domain.Event
	found := false
	for _, ev := range f.events() {
		if ev.Type == t {
			out = ev
			found = true
		}
	}
	return out, found
}

// stubDirectory is a fixed membership table counting store round trips.
type stubDirectory struct {
	mu      sync.RWMutex
	members map[domain.ChannelID][]domain.UserID
	loads   atomic.Int64
	err     error
}

func newStubDirectory() *stubDirectory {
	return &stubDirectory{members: make(map[domain.ChannelID][]domain.UserID)}
}

func (d *stubDirectory) set(ch domain.ChannelID, users ...domain.UserID) {
	d.mu.Lock()
	d.members[ch] = users
	d.mu.Unlock()
}

func (d *stubDirectory) ChannelMembers(_ context.Context, ch domain.ChannelID) ([]domain.UserID, error) {
	d.loads.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.members[ch], nil
}

func (d *stubDirectory) ChannelsOf(_ context.Context, user domain.UserID) ([]domain.ChannelID, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []domain.ChannelID
	for ch, users := range d.members {
		for _, u := range users {
			if u == user {
				out = append(out, ch)
				break
			}
		}
	}
	return out, nil
}

func (d *stubDirectory) IsMember(ctx context.Context, ch domain.ChannelID, user domain.UserID) (bool, error) {
	users, err := d.ChannelMembers(ctx, ch)
	if err != nil {
		return false, err
	}
	for _, u := range users {
		if u == user {
			return true, nil
		}
	}
	return false, nil
}

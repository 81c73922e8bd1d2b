package app

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Perch/internal/domain"
)

func TestTypingRelaysImmediatelyToOtherMembers(t *testing.T) {
	dir := newStubDirectory()
	dir.set("ch1", "alice", "bob", "carol")
	reg := NewRegistry()
	idx := NewMembershipIndex(dir)
	router := NewRouter(reg, idx, SimplePolicy{})
	typing := NewTyping(router)

	origin, bob, carol := &fakeConn{}, &fakeConn{}, &fakeConn{}
	originID := reg.Register("alice", origin)
	reg.Register("bob", bob)
	reg.Register("carol", carol)

	alice := &domain.User{ID: "alice", Username: "Alice"}
	typing.OnTyping(context.Background(), "ch1", alice, originID)

	// Relayed in the same dispatch cycle, no coalescing, not echoed to the
	// originating socket.
	assert.Empty(t, origin.events())
	for _, conn := range []*fakeConn{bob, carol} {
		require.Equal(t, 1, conn.count(domain.EventTyping))
		ev, _ := conn.last(domain.EventTyping)
		assert.Equal(t, "ch1", ev.ChannelID)

		var p typingPayload
		require.NoError(t, json.Unmarshal(ev.Payload, &p))
		assert.Equal(t, domain.UserID("alice"), p.UserID)
		assert.Equal(t, domain.ChannelID("ch1"), p.ChannelID)
		assert.Equal(t, "Alice", p.UserName)
	}
}

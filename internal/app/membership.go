package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Perch/internal/core"
	"github.com/dkeye/Perch/internal/domain"
)

// MembershipIndex is a read-mostly cache over the external store's channel
// membership. Not authoritative: writes invalidate, the next read reloads.
type MembershipIndex struct {
	dir core.Directory

	mu      sync.RWMutex
	members map[domain.ChannelID][]domain.UserID
}

func NewMembershipIndex(dir core.Directory) *MembershipIndex {
	return &MembershipIndex{
		dir:     dir,
		members: make(map[domain.ChannelID][]domain.UserID),
	}
}

// Members resolves the channel's member set, falling back to the directory
// on cache miss.
func (m *MembershipIndex) Members(ctx context.Context, channelID domain.ChannelID) ([]domain.UserID, error) {
	m.mu.RLock()
	cached, ok := m.members[channelID]
	m.mu.RUnlock()
	if ok {
		return cached, nil
	}

	fresh, err := m.dir.ChannelMembers(ctx, channelID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	// Another loader may have won the race; last write is as good as any,
	// both came from the store.
	m.members[channelID] = fresh
	m.mu.Unlock()
	log.Debug().Str("module", "app.membership").Str("channel", string(channelID)).Int("members", len(fresh)).Msg("membership loaded")
	return fresh, nil
}

func (m *MembershipIndex) IsMember(ctx context.Context, channelID domain.ChannelID, userID domain.UserID) (bool, error) {
	members, err := m.Members(ctx, channelID)
	if err != nil {
		return false, err
	}
	for _, u := range members {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

// ChannelsOf is a passthrough: the per-user channel list is read once per
// presence edge, not per dispatch, so it is not worth a cache slot.
func (m *MembershipIndex) ChannelsOf(ctx context.Context, userID domain.UserID) ([]domain.ChannelID, error) {
	return m.dir.ChannelsOf(ctx, userID)
}

// Invalidate drops the cached member set. Called on channel.created and
// membership-change signals; the next Members call lazy-reloads.
func (m *MembershipIndex) Invalidate(channelID domain.ChannelID) {
	m.mu.Lock()
	delete(m.members, channelID)
	m.mu.Unlock()
	log.Debug().Str("module", "app.membership").Str("channel", string(channelID)).Msg("membership invalidated")
}

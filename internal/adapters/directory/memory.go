// Package directory provides an in-memory core.Directory. The real resource
// API is an external collaborator; this implementation backs development
// setups and tests.
package directory

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Perch/internal/domain"
)

var ErrUnknownChannel = errors.New("unknown channel")

type Memory struct {
	mu       sync.RWMutex
	channels map[domain.ChannelID]*domain.Channel
	members  map[domain.ChannelID]map[domain.UserID]domain.Role

	// OnChange is invoked after a membership mutation, outside the lock.
	// The hub hooks cache invalidation here.
	OnChange func(domain.ChannelID)
}

func NewMemory() *Memory {
	return &Memory{
		channels: make(map[domain.ChannelID]*domain.Channel),
		members:  make(map[domain.ChannelID]map[domain.UserID]domain.Role),
	}
}

func (m *Memory) CreateChannel(ch domain.Channel, owner domain.UserID) {
	m.mu.Lock()
	m.channels[ch.ID] = &ch
	m.members[ch.ID] = map[domain.UserID]domain.Role{owner: domain.RoleOwner}
	m.mu.Unlock()
	m.changed(ch.ID)
}

func (m *Memory) AddMember(channelID domain.ChannelID, userID domain.UserID, role domain.Role) error {
	m.mu.Lock()
	set, ok := m.members[channelID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownChannel
	}
	set[userID] = role
	m.mu.Unlock()
	m.changed(channelID)
	return nil
}

func (m *Memory) RemoveMember(channelID domain.ChannelID, userID domain.UserID) error {
	m.mu.Lock()
	set, ok := m.members[channelID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownChannel
	}
	delete(set, userID)
	m.mu.Unlock()
	m.changed(channelID)
	return nil
}

func (m *Memory) ChannelMembers(_ context.Context, channelID domain.ChannelID) ([]domain.UserID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.members[channelID]
	if !ok {
		return nil, ErrUnknownChannel
	}
	out := make([]domain.UserID, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	return out, nil
}

func (m *Memory) ChannelsOf(_ context.Context, userID domain.UserID) ([]domain.ChannelID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ChannelID
	for ch, set := range m.members {
		if _, ok := set[userID]; ok {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (m *Memory) IsMember(_ context.Context, channelID domain.ChannelID, userID domain.UserID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.members[channelID]
	if !ok {
		return false, nil
	}
	_, ok = set[userID]
	return ok, nil
}

func (m *Memory) changed(channelID domain.ChannelID) {
	if m.OnChange != nil {
		m.OnChange(channelID)
	}
}

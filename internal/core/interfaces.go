package core

import (
	"context"
	"errors"

	"github.com/dkeye/Perch/internal/domain"
)

// Frame is a serialized event ready for the wire.
type Frame []byte

var ErrBackpressure = errors.New("backpressure")

// SignalConnection abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend enqueues a frame without blocking. It returns
	// ErrBackpressure when the outbound queue is full; the frame is
	// dropped for this connection only.
	TrySend(Frame) error
	Close()
}

// Directory is the hub's view of the external store: channel membership and
// nothing else. The store is the system of record; the hub caches on top.
type Directory interface {
	ChannelMembers(ctx context.Context, channelID domain.ChannelID) ([]domain.UserID, error)
	ChannelsOf(ctx context.Context, userID domain.UserID) ([]domain.ChannelID, error)
	IsMember(ctx context.Context, channelID domain.ChannelID, userID domain.UserID) (bool, error)
}

// TokenValidator checks the bearer token from the auth frame against the
// external auth service.
type TokenValidator interface {
	Validate(token string) (*domain.User, error)
}

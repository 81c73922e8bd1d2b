package domain

import (
	"time"

	"github.com/google/uuid"
)

type CallID string

type CallStatus string

const (
	CallRinging    CallStatus = "ringing"
	CallInProgress CallStatus = "in_progress"
	CallEnded      CallStatus = "ended"
	CallDeclined   CallStatus = "declined"
	CallMissed     CallStatus = "missed"
)

// Terminal reports whether no further transition is allowed.
func (s CallStatus) Terminal() bool {
	return s == CallEnded || s == CallDeclined || s == CallMissed
}

type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

// Call is one call attempt on a channel. At most one non-terminal Call may
// exist per channel at a time.
type Call struct {
	ID          CallID     `json:"id"`
	ChannelID   ChannelID  `json:"channel_id"`
	InitiatorID UserID     `json:"initiator_id"`
	AcceptedBy  UserID     `json:"accepted_by,omitempty"`
	Type        CallType   `json:"call_type"`
	Status      CallStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

func NewCall(channelID ChannelID, initiator UserID, callType CallType) *Call {
	return &Call{
		ID:          CallID(uuid.NewString()),
		ChannelID:   channelID,
		InitiatorID: initiator,
		Type:        callType,
		Status:      CallRinging,
		CreatedAt:   time.Now(),
	}
}

// Participant reports whether the user is on the call right now: the
// initiator always, the accepter once the call is in progress.
func (c *Call) Participant(user UserID) bool {
	if user == c.InitiatorID {
		return true
	}
	return c.AcceptedBy != "" && user == c.AcceptedBy
}

package domain

import "encoding/json"

type EventType string

const (
	EventAuth EventType = "auth"

	EventMessageNew      EventType = "message.new"
	EventMessageUpdated  EventType = "message.updated"
	EventMessageDeleted  EventType = "message.deleted"
	EventReactionAdded   EventType = "reaction.added"
	EventReactionRemoved EventType = "reaction.removed"
	EventTyping          EventType = "typing"
	EventPresenceUpdate  EventType = "presence.update"
	EventChannelCreated  EventType = "channel.created"
	EventChannelUpdated  EventType = "channel.updated"
	EventChannelDeleted  EventType = "channel.deleted"
	EventMemberJoined    EventType = "member.joined"
	EventMemberLeft      EventType = "member.left"
	EventDMCreated       EventType = "dm.created"
	EventMentionNew      EventType = "mention.new"

	EventCallInitiate     EventType = "call.initiate"
	EventCallRinging      EventType = "call.ringing"
	EventCallAccept       EventType = "call.accept"
	EventCallAccepted     EventType = "call.accepted"
	EventCallDecline      EventType = "call.decline"
	EventCallDeclined     EventType = "call.declined"
	EventCallOffer        EventType = "call.offer"
	EventCallAnswer       EventType = "call.answer"
	EventCallICECandidate EventType = "call.ice_candidate"
	EventCallHangup       EventType = "call.hangup"
	EventCallEnded        EventType = "call.ended"
	EventCallMissed       EventType = "call.missed"

	EventError EventType = "error"
)

// Event is the wire envelope: one JSON object per frame.
// Immutable once constructed; never mutated after dispatch.
type Event struct {
	Type      EventType       `json:"type"`
	ChannelID string          `json:"channel_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload into an envelope. A payload that cannot be
// marshaled is a programming error; the envelope is still returned with an
// empty payload so callers stay on the happy path.
func NewEvent(t EventType, channelID ChannelID, payload any) Event {
	data, _ := json.Marshal(payload)
	return Event{Type: t, ChannelID: string(channelID), Payload: data}
}

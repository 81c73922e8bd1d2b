package domain

type (
	ChannelID   string
	ChannelName string
)

type ChannelType string

const (
	ChannelPublic  ChannelType = "public"
	ChannelPrivate ChannelType = "private"
	ChannelSystem  ChannelType = "system"
	ChannelDirect  ChannelType = "direct"
	ChannelGroupDM ChannelType = "group_dm"
)

type Channel struct {
	ID   ChannelID   `json:"id"`
	Name ChannelName `json:"name"`
	Type ChannelType `json:"type"`
}

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Membership ties a user to a channel. The external store is the system of
// record; the hub only caches these.
type Membership struct {
	ChannelID ChannelID `json:"channel_id"`
	UserID    UserID    `json:"user_id"`
	Role      Role      `json:"role"`
}

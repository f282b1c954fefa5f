package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Membership is the authoritative join between users and rooms.
// Exactly one document per (room_id, user_id); LeftAt == nil means active.
type Membership struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	RoomID      string             `json:"roomId" bson:"room_id"`
	UserID      string             `json:"userId" bson:"user_id"`
	Role        string             `json:"role" bson:"role"`
	IsMuted     bool               `json:"isMuted" bson:"is_muted"`
	IsArchived  bool               `json:"isArchived" bson:"is_archived"`
	UnreadCount int64              `json:"unreadCount" bson:"unread_count"`
	LastReadAt  *time.Time         `json:"lastReadAt" bson:"last_read_at"`
	JoinedAt    time.Time          `json:"joinedAt" bson:"joined_at"`
	LeftAt      *time.Time         `json:"leftAt" bson:"left_at"`
}

// IsActive reports whether the user currently belongs to the room
func (m *Membership) IsActive() bool {
	return m.LeftAt == nil
}

// IsAdmin reports whether the membership is an active admin
func (m *Membership) IsAdmin() bool {
	return m.IsActive() && m.Role == RoleAdmin
}

// MemberProfile is a membership joined with the member's public profile
type MemberProfile struct {
	User     PublicUser `json:"user"`
	Role     string     `json:"role"`
	JoinedAt time.Time  `json:"joinedAt"`
}

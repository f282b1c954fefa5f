package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	RoomTypeDM    = "dm"
	RoomTypeGroup = "group"
)

// Room represents a conversation document in MongoDB. Participants live in
// the memberships collection, never embedded here.
type Room struct {
	ID            primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	RoomID        string             `json:"roomId" bson:"room_id"`
	Type          string             `json:"type" bson:"type"`
	Name          string             `json:"name" bson:"name"`
	CreatedBy     string             `json:"createdBy" bson:"created_by"`
	LastMessage   *LastMessage       `json:"lastMessage" bson:"last_message"`
	LastMessageAt *time.Time         `json:"lastMessageAt" bson:"last_message_at"`
	CreatedAt     time.Time          `json:"createdAt" bson:"created_at"`
}

// LastMessage stores the most recent message preview
type LastMessage struct {
	MessageID string    `json:"messageId" bson:"message_id"`
	Text      string    `json:"text" bson:"text"`
	SenderID  string    `json:"senderId" bson:"sender_id"`
	SentAt    time.Time `json:"sentAt" bson:"sent_at"`
}

// IsGroup reports whether the room is a group conversation
func (r *Room) IsGroup() bool {
	return r.Type == RoomTypeGroup
}

// ConversationSummary is one row of a user's conversation list
type ConversationSummary struct {
	RoomID        string       `json:"roomId"`
	Type          string       `json:"type"`
	Name          string       `json:"name"`
	LastMessage   *LastMessage `json:"lastMessage"`
	LastMessageAt *time.Time   `json:"lastMessageAt"`
	UnreadCount   int64        `json:"unreadCount"`
	Role          string       `json:"role"`
	IsMuted       bool         `json:"isMuted"`
	IsArchived    bool         `json:"isArchived"`
	Participants  []PublicUser `json:"participants"`
}

// ConversationRow is the raw aggregation result behind a ConversationSummary:
// the caller's membership, its room and the other active memberships.
type ConversationRow struct {
	Membership Membership   `bson:"membership"`
	Room       Room         `bson:"room"`
	Others     []Membership `bson:"others"`
}

package model

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MessageStatus is the delivery lifecycle stage. Values are ordered so a
// forward transition is always a strictly greater value.
type MessageStatus int

const (
	MessageSent      MessageStatus = 1
	MessageDelivered MessageStatus = 2
	MessageRead      MessageStatus = 3
)

const MaxMessageLength = 500

func (s MessageStatus) String() string {
	switch s {
	case MessageSent:
		return "sent"
	case MessageDelivered:
		return "delivered"
	case MessageRead:
		return "read"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

func (s MessageStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *MessageStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "sent":
		*s = MessageSent
	case "delivered":
		*s = MessageDelivered
	case "read":
		*s = MessageRead
	default:
		return fmt.Errorf("unknown message status %q", string(b))
	}
	return nil
}

// Message represents a chat message in MongoDB
type Message struct {
	ID              primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	SenderID        string             `json:"senderId" bson:"sender_id"`
	RoomID          string             `json:"roomId" bson:"room_id"`
	Text            string             `json:"text" bson:"text"`
	Status          MessageStatus      `json:"status" bson:"status"`
	CreatedAt       time.Time          `json:"createdAt" bson:"created_at"`
	DeliveredAt     *time.Time         `json:"deliveredAt,omitempty" bson:"delivered_at"`
	ReadAt          *time.Time         `json:"readAt,omitempty" bson:"read_at"`
	IsEdited        bool               `json:"isEdited" bson:"is_edited"`
	EditedAt        *time.Time         `json:"editedAt,omitempty" bson:"edited_at"`
	ClientMessageID string             `json:"clientMessageId,omitempty" bson:"client_message_id,omitempty"`

	// UnreadApplied is set once this message's unread bump has been claimed
	UnreadApplied bool `json:"-" bson:"unread_applied"`
}

// MessagePage is one page of room history, oldest to newest
type MessagePage struct {
	Messages          []Message  `json:"messages"`
	HasMore           bool       `json:"hasMore"`
	OldestMessageTime *time.Time `json:"oldestMessageTime"`
}

// ErrorPayload represents an error response sent to client via WebSocket
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Event   string `json:"event,omitempty"`
}

package model

import "time"

// -----------------------------------------------------------------
// WebSocket Event Payloads - Client to Server
// -----------------------------------------------------------------

// JoinRoomPayload subscribes the session to a room it belongs to
type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// SendMessagePayload carries a new text message
type SendMessagePayload struct {
	RoomID          string `json:"roomId"`
	UserID          string `json:"userId"`
	Text            string `json:"text"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// TypingPayload - for typing status
type TypingPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// MessageDeliveredPayload - lightweight event for delivery confirmation
type MessageDeliveredPayload struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
}

// MessageReadPayload - for read receipts. Either MessageID or MessageIDs is set.
type MessageReadPayload struct {
	MessageID  string   `json:"messageId,omitempty"`
	MessageIDs []string `json:"messageIds,omitempty"`
	RoomID     string   `json:"roomId"`
}

// IDs merges the single and bulk forms, dropping blanks and duplicates
func (p MessageReadPayload) IDs() []string {
	seen := make(map[string]struct{}, len(p.MessageIDs)+1)
	ids := make([]string, 0, len(p.MessageIDs)+1)
	for _, id := range append([]string{p.MessageID}, p.MessageIDs...) {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// MarkRoomReadPayload acknowledges every message in a room
type MarkRoomReadPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// -----------------------------------------------------------------
// WebSocket Event Payloads - Server to Client
// -----------------------------------------------------------------

// JoinedRoomEvent acks a join_room to the caller
type JoinedRoomEvent struct {
	RoomID string `json:"roomId"`
}

// UserJoinedEvent tells the rest of the room a session joined
type UserJoinedEvent struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// UserTypingEvent relays a typing indicator
type UserTypingEvent struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// MessageStatusUpdateEvent announces forward status transitions. MessageID is
// set for a single delivery, MessageIDs for read receipts.
type MessageStatusUpdateEvent struct {
	RoomID      string        `json:"roomId"`
	MessageID   string        `json:"messageId,omitempty"`
	MessageIDs  []string      `json:"messageIds,omitempty"`
	Status      MessageStatus `json:"status"`
	DeliveredAt *time.Time    `json:"deliveredAt,omitempty"`
	ReadAt      *time.Time    `json:"readAt,omitempty"`
	ReadBy      string        `json:"readBy,omitempty"`
}

// UnreadResetEvent confirms a mark_room_read to the caller
type UnreadResetEvent struct {
	RoomID      string `json:"roomId"`
	UnreadCount int64  `json:"unreadCount"`
}

// UserOnlineEvent is broadcast when a user connects
type UserOnlineEvent struct {
	UserID string `json:"userId"`
}

// UserOfflineEvent is broadcast when a user disconnects
type UserOfflineEvent struct {
	UserID   string    `json:"userId"`
	LastSeen time.Time `json:"lastSeen"`
}

// OnlineUsersListEvent is sent to a session right after connect
type OnlineUsersListEvent struct {
	Users []PublicUser `json:"users"`
}

// RoomMembershipEvent is pushed on a user's private channel when REST calls
// change which rooms they belong to.
type RoomMembershipEvent struct {
	RoomID      string `json:"roomId"`
	UserID      string `json:"userId,omitempty"`
	PromotedID  string `json:"promotedUserId,omitempty"`
	Room        *Room  `json:"room,omitempty"`
	PerformedBy string `json:"performedBy,omitempty"`
}

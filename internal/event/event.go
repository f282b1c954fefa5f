package event

import "encoding/json"

// Client to server
const (
	EventJoinRoom         = "join_room"
	EventSendMessage      = "send_message"
	EventTyping           = "typing"
	EventMessageDelivered = "message_delivered"
	EventMessageRead      = "message_read"
	EventMarkRoomRead     = "mark_room_read"
)

// Server to client
const (
	EventJoinedRoom          = "joined_room"
	EventUserJoined          = "user_joined"
	EventReceiveMessage      = "receive_message"
	EventUserTyping          = "user_typing"
	EventMessageStatusUpdate = "message_status_update"
	EventUnreadReset         = "unread_reset"
	EventUserOnline          = "user_online"
	EventUserOffline         = "user_offline"
	EventOnlineUsersList     = "online_users_list"
	EventError               = "error"

	// private-channel notices for REST-side membership changes
	EventRoomAdded   = "room_added"
	EventRoomRemoved = "room_removed"
	EventMemberLeft  = "member_left"
)

// WsEvent is the envelope for every frame in both directions
type WsEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// New marshals payload into an envelope. Payload types are plain structs, so
// a marshal failure is a programming error and yields an empty payload.
func New(name string, payload any) WsEvent {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	return WsEvent{Event: name, Payload: raw}
}

// Decode unmarshals the payload into v
func (e WsEvent) Decode(v any) error {
	if len(e.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(e.Payload, v)
}

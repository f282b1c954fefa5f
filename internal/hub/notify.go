package hub

import (
	"Parley/internal/event"
	"Parley/internal/model"
	"Parley/internal/service"
)

// The methods below push REST-side changes to live sessions. New rooms are
// only announced; a session subscribes with join_room.

// RoomAdded tells each user they now belong to room
func (h *Hub) RoomAdded(room *model.Room, userIDs []string, performedBy string) {
	for _, userID := range userIDs {
		h.SendToUser(userID, event.New(event.EventRoomAdded, model.RoomMembershipEvent{
			RoomID:      room.RoomID,
			UserID:      userID,
			Room:        room,
			PerformedBy: performedBy,
		}))
		h.PublishToRoom(room.RoomID, event.New(event.EventUserJoined, model.UserJoinedEvent{
			RoomID: room.RoomID,
			UserID: userID,
		}), nil)
	}
}

// MemberRemoved detaches userID's sessions from the room and tells both sides
func (h *Hub) MemberRemoved(roomID, userID, performedBy string) {
	h.UnsubscribeUser(userID, roomID)
	notice := model.RoomMembershipEvent{RoomID: roomID, UserID: userID, PerformedBy: performedBy}
	h.SendToUser(userID, event.New(event.EventRoomRemoved, notice))
	h.PublishToRoom(roomID, event.New(event.EventMemberLeft, notice), nil)
}

// MemberLeft detaches the leaver and announces any admin promotion
func (h *Hub) MemberLeft(result *service.LeaveResult) {
	h.UnsubscribeUser(result.UserID, result.RoomID)
	notice := model.RoomMembershipEvent{
		RoomID:     result.RoomID,
		UserID:     result.UserID,
		PromotedID: result.PromotedUserID,
	}
	h.SendToUser(result.UserID, event.New(event.EventRoomRemoved, notice))
	h.PublishToRoom(result.RoomID, event.New(event.EventMemberLeft, notice), nil)
}

// RoomRead mirrors a REST mark-read onto the realtime channel
func (h *Hub) RoomRead(receipt *service.ReadReceipt) {
	h.publishReceipt(receipt, receipt.ReadBy)
	h.SendToUser(receipt.ReadBy, event.New(event.EventUnreadReset, model.UnreadResetEvent{RoomID: receipt.RoomID}))
}

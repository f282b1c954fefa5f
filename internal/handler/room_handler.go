package handler

import (
	"Parley/internal/model"
	"Parley/internal/service"
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// RoomNotifier pushes REST-side changes to live sessions
type RoomNotifier interface {
	RoomAdded(room *model.Room, userIDs []string, performedBy string)
	MemberRemoved(roomID, userID, performedBy string)
	MemberLeft(result *service.LeaveResult)
	RoomRead(receipt *service.ReadReceipt)
}

type RoomHandler interface {
	CreateDM(c *gin.Context)
	CreateGroup(c *gin.Context)
	ListMembers(c *gin.Context)
	AddMembers(c *gin.Context)
	RemoveMember(c *gin.Context)
	Leave(c *gin.Context)
	GetMessages(c *gin.Context)
	MarkRead(c *gin.Context)
	UpdateSettings(c *gin.Context)
	GetConversations(c *gin.Context)
}

type roomHandler struct {
	membership service.MembershipService
	messages   service.MessageService
	notifier   RoomNotifier
}

func NewRoomHandler(membership service.MembershipService, messages service.MessageService, notifier RoomNotifier) RoomHandler {
	return &roomHandler{
		membership: membership,
		messages:   messages,
		notifier:   notifier,
	}
}

type createDMRequest struct {
	Username string `json:"username"`
}

type createGroupRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

type addMembersRequest struct {
	Usernames []string `json:"usernames"`
}

type settingsRequest struct {
	IsMuted    *bool `json:"isMuted"`
	IsArchived *bool `json:"isArchived"`
}

type markReadResponse struct {
	RoomID      string   `json:"roomId"`
	UnreadCount int64    `json:"unreadCount"`
	MessageIDs  []string `json:"messageIds"`
}

func (h *roomHandler) CreateDM(c *gin.Context) {
	var req createDMRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	ctx := c.Request.Context()
	userID := currentUser(c)
	room, created, err := h.membership.ResolveOrCreateDM(ctx, userID, req.Username)
	if err != nil {
		respondError(c, err)
		return
	}

	if !created {
		respond(c, http.StatusOK, "Direct message retrieved successfully", room)
		return
	}
	h.announceRoom(ctx, room, userID)
	respond(c, http.StatusCreated, "Direct message created successfully", room)
}

func (h *roomHandler) CreateGroup(c *gin.Context) {
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	ctx := c.Request.Context()
	userID := currentUser(c)
	room, err := h.membership.CreateGroup(ctx, req.Name, userID, req.Members)
	if err != nil {
		respondError(c, err)
		return
	}

	h.announceRoom(ctx, room, userID)
	respond(c, http.StatusCreated, "Group created successfully", room)
}

func (h *roomHandler) ListMembers(c *gin.Context) {
	members, err := h.membership.ListMembers(c.Request.Context(), c.Param("roomId"), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Members retrieved successfully", members)
}

func (h *roomHandler) AddMembers(c *gin.Context) {
	var req addMembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	ctx := c.Request.Context()
	roomID, userID := c.Param("roomId"), currentUser(c)
	result, err := h.membership.AddMembers(ctx, roomID, userID, req.Usernames)
	if err != nil {
		respondError(c, err)
		return
	}

	if len(result.JoinedUserIDs) > 0 {
		if room, _, err := h.membership.RequireActiveMember(ctx, roomID, userID); err == nil {
			h.notifier.RoomAdded(room, result.JoinedUserIDs, userID)
		}
	}
	respond(c, http.StatusOK, "Members added successfully", result)
}

func (h *roomHandler) RemoveMember(c *gin.Context) {
	roomID, userID := c.Param("roomId"), currentUser(c)
	removedID, err := h.membership.RemoveMember(c.Request.Context(), roomID, userID, c.Param("username"))
	if err != nil {
		respondError(c, err)
		return
	}

	h.notifier.MemberRemoved(roomID, removedID, userID)
	respond(c, http.StatusOK, "Member removed successfully", gin.H{"roomId": roomID, "userId": removedID})
}

func (h *roomHandler) Leave(c *gin.Context) {
	result, err := h.membership.Leave(c.Request.Context(), c.Param("roomId"), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}

	h.notifier.MemberLeft(result)
	respond(c, http.StatusOK, "Left group successfully", result)
}

func (h *roomHandler) GetMessages(c *gin.Context) {
	var params service.PageParams

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "limit must be a number")
			return
		}
		params.Limit = limit
	}
	if raw := c.Query("before"); raw != "" {
		before, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			badRequest(c, "before must be an RFC 3339 timestamp")
			return
		}
		params.Before = &before
	}

	page, err := h.messages.Paginate(c.Request.Context(), c.Param("roomId"), currentUser(c), params)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Messages retrieved successfully", page)
}

func (h *roomHandler) MarkRead(c *gin.Context) {
	ctx := c.Request.Context()
	roomID, userID := c.Param("roomId"), currentUser(c)

	receipt, err := h.messages.MarkRoomRead(ctx, roomID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if _, err := h.membership.MarkRead(ctx, roomID, userID); err != nil {
		respondError(c, err)
		return
	}

	h.notifier.RoomRead(receipt)

	ids := receipt.MessageIDs
	if ids == nil {
		ids = []string{}
	}
	respond(c, http.StatusOK, "Room marked as read", markReadResponse{RoomID: roomID, MessageIDs: ids})
}

func (h *roomHandler) UpdateSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	m, err := h.membership.UpdateSettings(c.Request.Context(), c.Param("roomId"), currentUser(c), req.IsMuted, req.IsArchived)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Settings updated successfully", m)
}

func (h *roomHandler) GetConversations(c *gin.Context) {
	conversations, err := h.membership.GetUserConversations(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Conversations retrieved successfully", conversations)
}

// announceRoom tells every member of a new room about it
func (h *roomHandler) announceRoom(ctx context.Context, room *model.Room, performedBy string) {
	members, err := h.membership.ListActiveMembers(ctx, room.RoomID)
	if err != nil {
		return
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	h.notifier.RoomAdded(room, ids, performedBy)
}

package handler

import (
	"Parley/internal/service"
	"net/http"

	"github.com/gin-gonic/gin"
)

type UserHandler interface {
	GetAllUsers(c *gin.Context)
	GetOnlineUsers(c *gin.Context)
	GetUser(c *gin.Context)
	CreateUser(c *gin.Context)
}

type userHandler struct {
	service  service.UserService
	presence service.PresenceService
}

func NewUserHandler(service service.UserService, presence service.PresenceService) UserHandler {
	return &userHandler{
		service:  service,
		presence: presence,
	}
}

func (h *userHandler) CreateUser(c *gin.Context) {
	var in service.CreateUserInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	user, err := h.service.CreateUser(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, "User created successfully", user.Public())
}

func (h *userHandler) GetAllUsers(c *gin.Context) {
	users, err := h.service.ListUsers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Users retrieved successfully", users)
}

func (h *userHandler) GetOnlineUsers(c *gin.Context) {
	users, err := h.presence.ListOnline(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Online users retrieved successfully", users)
}

func (h *userHandler) GetUser(c *gin.Context) {
	user, err := h.service.GetByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "User retrieved successfully", user)
}

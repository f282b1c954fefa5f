package approuters

import (
	"Parley/internal/configuration"
	"Parley/internal/handler"

	"github.com/gin-gonic/gin"
)

func UserRouters(router *gin.Engine, container *configuration.Container) {
	userRoute := router.Group("/cf/api/users")
	{
		userRoute.POST("", container.UserHandler.CreateUser)
		userRoute.GET("", container.UserHandler.GetAllUsers)
		userRoute.GET("/online", container.UserHandler.GetOnlineUsers)
		userRoute.GET("/:username", container.UserHandler.GetUser)
	}
}

func RoomRouters(router *gin.Engine, container *configuration.Container) {
	rooms := container.RoomHandler

	roomRoute := router.Group("/cf/api/rooms", handler.RequireUser())
	{
		roomRoute.POST("/dm", rooms.CreateDM)
		roomRoute.GET("/:roomId/messages", rooms.GetMessages)
		roomRoute.POST("/:roomId/read", rooms.MarkRead)
		roomRoute.PATCH("/:roomId/settings", rooms.UpdateSettings)
	}

	groupRoute := router.Group("/cf/api/groups", handler.RequireUser())
	{
		groupRoute.POST("", rooms.CreateGroup)
		groupRoute.GET("/:roomId/members", rooms.ListMembers)
		groupRoute.POST("/:roomId/members", rooms.AddMembers)
		groupRoute.DELETE("/:roomId/members/:username", rooms.RemoveMember)
		groupRoute.POST("/:roomId/leave", rooms.Leave)
	}

	router.GET("/cf/api/conversations", handler.RequireUser(), rooms.GetConversations)
}

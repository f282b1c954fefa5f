package handler

import (
	"Parley/internal/hub"
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

const busiestRoomCount = 10

// RoomRanker ranks rooms by recent send activity
type RoomRanker interface {
	TopRooms(ctx context.Context, n int64) ([]string, error)
}

// MonitorHandler handles monitoring API endpoints
type MonitorHandler interface {
	GetHubStats(c *gin.Context)
}

type monitorHandler struct {
	monitorService *hub.MonitorService
	ranker         RoomRanker
}

// NewMonitorHandler creates a new monitor handler. ranker may be nil.
func NewMonitorHandler(monitorService *hub.MonitorService, ranker RoomRanker) MonitorHandler {
	return &monitorHandler{
		monitorService: monitorService,
		ranker:         ranker,
	}
}

// GetHubStats returns current hub statistics
// @Summary Get WebSocket hub statistics
// @Description Returns information about connected sessions and subscribed rooms
// @Tags Monitor
// @Produce json
// @Success 200 {object} model.MonitorResponse
// @Router /cf/api/monitor/stats [get]
func (h *monitorHandler) GetHubStats(c *gin.Context) {
	stats := h.monitorService.GetStats()

	if h.ranker != nil {
		if top, err := h.ranker.TopRooms(c.Request.Context(), busiestRoomCount); err == nil {
			stats.BusiestRooms = top
		} else {
			_ = c.Error(err)
		}
	}

	respond(c, http.StatusOK, "Hub statistics retrieved successfully", stats)
}

package hub

import (
	"Parley/internal/model"
	"sort"
)

// MonitorService provides methods to gather hub statistics
type MonitorService struct {
	hub *Hub
}

// NewMonitorService creates a new monitor service
func NewMonitorService(hub *Hub) *MonitorService {
	return &MonitorService{hub: hub}
}

// GetStats gathers and returns all hub statistics
func (ms *MonitorService) GetStats() model.MonitorResponse {
	connectionStats := ms.getConnectionStats()

	status := "healthy"
	if connectionStats.TotalConnected == 0 {
		status = "idle"
	}

	return model.MonitorResponse{
		Status:      status,
		Connections: connectionStats,
		Rooms:       ms.getRoomStats(),
		Clients:     ms.getClientList(),
	}
}

func (ms *MonitorService) getConnectionStats() model.ConnectionStats {
	ms.hub.usersMu.RLock()
	defer ms.hub.usersMu.RUnlock()

	stats := model.ConnectionStats{UniqueUsers: len(ms.hub.users)}
	for _, sessions := range ms.hub.users {
		stats.TotalConnected += len(sessions)
	}
	return stats
}

// getRoomStats walks every shard for rooms with live subscribers
func (ms *MonitorService) getRoomStats() model.RoomStats {
	stats := model.RoomStats{
		RoomDetails: make([]model.RoomInfo, 0),
	}

	for _, bucket := range ms.hub.shards {
		bucket.RLock()
		for roomID, room := range bucket.rooms {
			seen := make(map[string]bool, len(room))
			userIDs := make([]string, 0, len(room))
			for _, c := range room {
				if !seen[c.userID] {
					seen[c.userID] = true
					userIDs = append(userIDs, c.userID)
				}
			}
			sort.Strings(userIDs)

			stats.RoomDetails = append(stats.RoomDetails, model.RoomInfo{
				RoomID:   roomID,
				Sessions: len(room),
				UserIDs:  userIDs,
			})
			stats.TotalRooms++
		}
		bucket.RUnlock()
	}

	sort.Slice(stats.RoomDetails, func(i, j int) bool {
		return stats.RoomDetails[i].RoomID < stats.RoomDetails[j].RoomID
	})
	return stats
}

func (ms *MonitorService) getClientList() []model.ClientInfo {
	sessions := ms.hub.allSessions()
	clients := make([]model.ClientInfo, 0, len(sessions))
	for _, c := range sessions {
		rooms := c.Rooms()
		sort.Strings(rooms)
		clients = append(clients, model.ClientInfo{
			ClientID: c.ID,
			UserID:   c.userID,
			Rooms:    rooms,
		})
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ClientID < clients[j].ClientID })
	return clients
}

package model

// -----------------------------------------------------------------
// Monitor API Response Models
// -----------------------------------------------------------------

// MonitorResponse is the main response for the monitor API
type MonitorResponse struct {
	Status      string          `json:"status"`      // "healthy", "idle"
	Connections ConnectionStats `json:"connections"` // Client connection stats
	Rooms       RoomStats       `json:"rooms"`       // Subscribed room stats
	Clients     []ClientInfo    `json:"clients"`     // List of connected clients

	BusiestRooms []string `json:"busiestRooms,omitempty"` // Most active rooms, when tracked
}

// ConnectionStats holds connection-related statistics
type ConnectionStats struct {
	TotalConnected int `json:"totalConnected"` // Sessions currently connected
	UniqueUsers    int `json:"uniqueUsers"`    // Distinct users behind those sessions
}

// RoomStats holds room subscription statistics
type RoomStats struct {
	TotalRooms  int        `json:"totalRooms"`  // Rooms with at least one subscribed session
	RoomDetails []RoomInfo `json:"roomDetails"` // Details of each room
}

// RoomInfo contains information about a single room
type RoomInfo struct {
	RoomID   string   `json:"roomId"`
	Sessions int      `json:"sessions"`
	UserIDs  []string `json:"userIds"`
}

// ClientInfo contains information about a connected client
type ClientInfo struct {
	ClientID string   `json:"clientId"`
	UserID   string   `json:"userId"`
	Rooms    []string `json:"rooms"`
}

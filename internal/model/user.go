package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User represents a user document in MongoDB
type User struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Username    string             `json:"username" bson:"username"`
	Email       string             `json:"email" bson:"email"`
	DisplayName string             `json:"displayName" bson:"display_name"`
	Avatar      string             `json:"avatar" bson:"avatar"`
	IsOnline    bool               `json:"isOnline" bson:"is_online"`
	LastSeen    *time.Time         `json:"lastSeen" bson:"last_seen"`
	CreatedAt   time.Time          `json:"createdAt" bson:"created_at"`
	UpdatedAt   *time.Time         `json:"updatedAt" bson:"updated_at"`
}

// PublicUser is the profile shape exposed to other users
type PublicUser struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"displayName"`
	Avatar      string     `json:"avatar"`
	IsOnline    bool       `json:"isOnline"`
	LastSeen    *time.Time `json:"lastSeen"`
}

// Public strips private fields (email, audit timestamps)
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:          u.ID.Hex(),
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Avatar:      u.Avatar,
		IsOnline:    u.IsOnline,
		LastSeen:    u.LastSeen,
	}
}

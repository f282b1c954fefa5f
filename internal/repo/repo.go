package repo

import (
	"Parley/internal/model"
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("document not found")
	ErrDuplicate        = errors.New("duplicate document")
	ErrInvalidMessage   = errors.New("invalid message: message cannot be nil")
	ErrInvalidRoomID    = errors.New("invalid room ID: cannot be empty")
	ErrOperationTimeout = errors.New("operation timeout exceeded")
)

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	FindByUsernames(ctx context.Context, usernames []string) ([]model.User, error)
	FindByIDs(ctx context.Context, ids []string) ([]model.User, error)
	List(ctx context.Context) ([]model.User, error)
	ListOnline(ctx context.Context) ([]model.User, error)
	SetPresence(ctx context.Context, id string, online bool, at time.Time) (*model.User, error)
}

type RoomRepository interface {
	// Create inserts the room; ErrDuplicate when room_id is taken.
	Create(ctx context.Context, room *model.Room) error
	FindByRoomID(ctx context.Context, roomID string) (*model.Room, error)
	// AdvanceLastMessage replaces the cached preview only when it is newer
	// than the one stored.
	AdvanceLastMessage(ctx context.Context, roomID string, last model.LastMessage) error
}

type MembershipRepository interface {
	// Insert creates a membership; ErrDuplicate when (room_id, user_id) exists.
	Insert(ctx context.Context, m *model.Membership) error
	Find(ctx context.Context, roomID, userID string) (*model.Membership, error)
	FindActive(ctx context.Context, roomID, userID string) (*model.Membership, error)
	// ListActive returns active memberships ordered by joined_at ascending.
	ListActive(ctx context.Context, roomID string) ([]model.Membership, error)
	ListActiveByUser(ctx context.Context, userID string) ([]model.Membership, error)
	// Reactivate clears left_at on a left membership; false when none matched.
	Reactivate(ctx context.Context, roomID, userID string, at time.Time) (bool, error)
	// Deactivate sets left_at on an active membership and returns it as it was.
	Deactivate(ctx context.Context, roomID, userID string, at time.Time) (*model.Membership, error)
	CountActiveAdmins(ctx context.Context, roomID string) (int64, error)
	// PromoteEarliest makes the earliest-joined active member an admin.
	PromoteEarliest(ctx context.Context, roomID string) (*model.Membership, error)
	// IncrementUnread bumps every other active member by one. A non-zero
	// sentAt skips members whose last read is at or after it.
	IncrementUnread(ctx context.Context, roomID, exceptUserID string, sentAt time.Time) (int64, error)
	ResetUnread(ctx context.Context, roomID, userID string, at time.Time) (*model.Membership, error)
	UpdateSettings(ctx context.Context, roomID, userID string, muted, archived *bool) (*model.Membership, error)
	// Conversations joins the user's active memberships with their rooms and
	// the other active memberships, newest activity first.
	Conversations(ctx context.Context, userID string) ([]model.ConversationRow, error)
}

// PageQuery selects messages strictly older than Before (when set), newest first.
type PageQuery struct {
	RoomID string
	Before *time.Time
	Limit  int64
}

type MessageRepository interface {
	InsertMessage(ctx context.Context, msg *model.Message) (string, error)
	FindByID(ctx context.Context, id string) (*model.Message, error)
	Page(ctx context.Context, q PageQuery) ([]model.Message, error)
	Latest(ctx context.Context, roomID string) (*model.Message, error)
	// MarkDelivered moves a Sent message to Delivered; false when it was
	// already past Sent.
	MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error)
	// MarkRead moves each listed message that is not yet Read to Read and
	// returns the ids actually changed. roomID, when set, scopes the ids.
	MarkRead(ctx context.Context, roomID string, ids []string, at time.Time) ([]string, error)
	// MarkRoomRead reads every message in the room not sent by readerID.
	MarkRoomRead(ctx context.Context, roomID, readerID string, at time.Time) ([]string, error)
	// ClaimUnread flips unread_applied on; false when it was already on.
	// Exactly one caller wins the claim for a message.
	ClaimUnread(ctx context.Context, id string) (bool, error)
	// ReleaseUnread hands a claim back after the bump itself failed.
	ReleaseUnread(ctx context.Context, id string) error
	// PendingUnread lists the room's unclaimed messages, oldest first.
	PendingUnread(ctx context.Context, roomID string) ([]model.Message, error)
}

package service

import (
	"Parley/internal/model"
	"Parley/internal/repo"
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	DefaultPageLimit = 30
	MaxPageLimit     = 75
)

// EventPublisher streams ledger events to downstream consumers
type EventPublisher interface {
	PublishMessageCreated(ctx context.Context, msg *model.Message) error
}

type SendInput struct {
	RoomID          string
	SenderID        string
	Text            string
	ClientMessageID string
}

type PageParams struct {
	Limit  int
	Before *time.Time
}

// ReadReceipt lists the messages a read acknowledgment actually changed
type ReadReceipt struct {
	RoomID     string
	MessageIDs []string
	ReadAt     time.Time
	ReadBy     string
}

type ReconcileResult struct {
	RoomID          string `json:"roomId"`
	LastMessageID   string `json:"lastMessageId,omitempty"`
	MessagesApplied int    `json:"messagesApplied"`
	PromotedUserID  string `json:"promotedUserId,omitempty"`
}

type MessageService interface {
	Send(ctx context.Context, in SendInput) (*model.Message, error)
	Paginate(ctx context.Context, roomID, requesterID string, p PageParams) (*model.MessagePage, error)
	MarkDelivered(ctx context.Context, messageID string) (*model.Message, bool, error)
	MarkRead(ctx context.Context, roomID string, messageIDs []string) (*ReadReceipt, error)
	MarkRoomRead(ctx context.Context, roomID, userID string) (*ReadReceipt, error)
	ReconcileRoom(ctx context.Context, roomID string) (*ReconcileResult, error)
}

type messageService struct {
	messages   repo.MessageRepository
	rooms      repo.RoomRepository
	membership MembershipService
	scheduler  ReconcileScheduler
	publisher  EventPublisher
	logger     *zap.Logger
	now        func() time.Time
}

func NewMessageService(
	messages repo.MessageRepository,
	rooms repo.RoomRepository,
	membership MembershipService,
	scheduler ReconcileScheduler,
	publisher EventPublisher,
	logger *zap.Logger,
) MessageService {
	return &messageService{
		messages:   messages,
		rooms:      rooms,
		membership: membership,
		scheduler:  scheduler,
		publisher:  publisher,
		logger:     logger,
		now:        time.Now,
	}
}

// Send persists a message and then updates the room's preview and the other
// members' unread counters. Only the insert decides success; the follow-up
// writes are repaired by a reconcile task when they fail.
func (s *messageService) Send(ctx context.Context, in SendInput) (*model.Message, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, validation("message text is required")
	}
	if utf8.RuneCountInString(text) > model.MaxMessageLength {
		return nil, validation("message text must be at most %d characters", model.MaxMessageLength)
	}
	if in.SenderID == "" {
		return nil, validation("sender id is required")
	}
	if _, _, err := s.membership.RequireActiveMember(ctx, in.RoomID, in.SenderID); err != nil {
		return nil, err
	}

	msg := &model.Message{
		SenderID:        in.SenderID,
		RoomID:          in.RoomID,
		Text:            text,
		Status:          model.MessageSent,
		CreatedAt:       s.now(),
		ClientMessageID: in.ClientMessageID,
	}
	if _, err := s.messages.InsertMessage(ctx, msg); err != nil {
		return nil, internal(err, "failed to send message")
	}

	// the message exists now; nothing below may undo that
	post := context.WithoutCancel(ctx)
	repair := false

	last := model.LastMessage{
		MessageID: msg.ID.Hex(),
		Text:      msg.Text,
		SenderID:  msg.SenderID,
		SentAt:    msg.CreatedAt,
	}
	if err := s.rooms.AdvanceLastMessage(post, msg.RoomID, last); err != nil {
		s.logger.Error("failed to update last message cache",
			zap.String("room_id", msg.RoomID),
			zap.String("message_id", msg.ID.Hex()),
			zap.Error(err),
		)
		repair = true
	}
	if _, err := s.applyUnread(post, msg); err != nil {
		s.logger.Error("failed to increment unread counters",
			zap.String("room_id", msg.RoomID),
			zap.String("message_id", msg.ID.Hex()),
			zap.Error(err),
		)
		repair = true
	}
	if repair {
		s.schedule(post, msg.RoomID)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishMessageCreated(post, msg); err != nil {
			s.logger.Warn("failed to publish message event",
				zap.String("message_id", msg.ID.Hex()),
				zap.Error(err),
			)
		}
	}

	s.logger.Debug("message sent",
		zap.String("room_id", msg.RoomID),
		zap.String("user_id", msg.SenderID),
		zap.String("message_id", msg.ID.Hex()),
	)
	return msg, nil
}

func (s *messageService) Paginate(ctx context.Context, roomID, requesterID string, p PageParams) (*model.MessagePage, error) {
	limit := p.Limit
	switch {
	case limit < 0:
		return nil, validation("limit must be positive")
	case limit == 0:
		limit = DefaultPageLimit
	case limit > MaxPageLimit:
		limit = MaxPageLimit
	}

	if _, _, err := s.membership.RequireActiveMember(ctx, roomID, requesterID); err != nil {
		return nil, err
	}

	rows, err := s.messages.Page(ctx, repo.PageQuery{
		RoomID: roomID,
		Before: p.Before,
		Limit:  int64(limit + 1),
	})
	if err != nil {
		return nil, internal(err, "failed to load messages")
	}

	page := &model.MessagePage{HasMore: len(rows) > limit}
	if page.HasMore {
		rows = rows[:limit]
	}
	if len(rows) > 0 {
		oldest := rows[len(rows)-1].CreatedAt
		page.OldestMessageTime = &oldest
	}

	// newest first from the store, oldest first on the wire
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	page.Messages = rows
	return page, nil
}

// MarkDelivered reports whether the status changed. A repeated or late
// delivery signal leaves the message untouched and is not an error.
func (s *messageService) MarkDelivered(ctx context.Context, messageID string) (*model.Message, bool, error) {
	if messageID == "" {
		return nil, false, validation("message id is required")
	}
	changed, err := s.messages.MarkDelivered(ctx, messageID, s.now())
	if err != nil {
		return nil, false, internal(err, "message not found")
	}
	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return nil, false, internal(err, "message not found")
	}
	return msg, changed, nil
}

func (s *messageService) MarkRead(ctx context.Context, roomID string, messageIDs []string) (*ReadReceipt, error) {
	ids := Dedupe(Filter(messageIDs, func(id string) bool { return id != "" }))
	if len(ids) == 0 {
		return nil, validation("at least one message id is required")
	}

	at := s.now()
	changed, err := s.messages.MarkRead(ctx, roomID, ids, at)
	if err != nil {
		return nil, internal(err, "failed to mark messages read")
	}
	return &ReadReceipt{RoomID: roomID, MessageIDs: changed, ReadAt: at}, nil
}

func (s *messageService) MarkRoomRead(ctx context.Context, roomID, userID string) (*ReadReceipt, error) {
	if _, _, err := s.membership.RequireActiveMember(ctx, roomID, userID); err != nil {
		return nil, err
	}

	at := s.now()
	changed, err := s.messages.MarkRoomRead(ctx, roomID, userID, at)
	if err != nil {
		return nil, internal(err, "failed to mark room read")
	}
	return &ReadReceipt{RoomID: roomID, MessageIDs: changed, ReadAt: at, ReadBy: userID}, nil
}

// ReconcileRoom repairs the derived state of a room from the ledger: the
// preview only moves forward and every message whose unread bump never
// landed is applied once. Running it twice yields the same result.
func (s *messageService) ReconcileRoom(ctx context.Context, roomID string) (*ReconcileResult, error) {
	room, err := s.rooms.FindByRoomID(ctx, roomID)
	if err != nil {
		return nil, internal(err, "room not found")
	}
	result := &ReconcileResult{RoomID: roomID}

	latest, err := s.messages.Latest(ctx, roomID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
	case err != nil:
		return result, internal(err, "failed to load latest message")
	default:
		last := model.LastMessage{
			MessageID: latest.ID.Hex(),
			Text:      latest.Text,
			SenderID:  latest.SenderID,
			SentAt:    latest.CreatedAt,
		}
		if err := s.rooms.AdvanceLastMessage(ctx, roomID, last); err != nil {
			return result, internal(err, "failed to restore last message")
		}
		result.LastMessageID = last.MessageID
	}

	pending, err := s.messages.PendingUnread(ctx, roomID)
	if err != nil {
		return result, internal(err, "failed to list pending messages")
	}
	for i := range pending {
		applied, err := s.applyUnread(ctx, &pending[i])
		if err != nil {
			return result, err
		}
		if applied {
			result.MessagesApplied++
		}
	}

	if room.IsGroup() {
		promoted, err := s.membership.EnsureAdmin(ctx, roomID)
		if err != nil {
			return result, err
		}
		result.PromotedUserID = promoted
	}

	s.logger.Info("room reconciled",
		zap.String("room_id", roomID),
		zap.Int("messages_applied", result.MessagesApplied),
		zap.String("promoted_user_id", result.PromotedUserID),
	)
	return result, nil
}

// applyUnread bumps the other members' counters for msg at most once. The
// claim is taken before the $inc and handed back if the $inc fails, so a
// lost release under-counts rather than doubling.
func (s *messageService) applyUnread(ctx context.Context, msg *model.Message) (bool, error) {
	id := msg.ID.Hex()
	claimed, err := s.messages.ClaimUnread(ctx, id)
	if err != nil {
		return false, internal(err, "failed to claim unread update")
	}
	if !claimed {
		return false, nil
	}
	if _, err := s.membership.IncrementUnreadForOthers(ctx, msg.RoomID, msg.SenderID, msg.CreatedAt); err != nil {
		if rerr := s.messages.ReleaseUnread(ctx, id); rerr != nil {
			s.logger.Error("failed to release unread claim",
				zap.String("message_id", id),
				zap.Error(rerr),
			)
		}
		return false, err
	}
	return true, nil
}

func (s *messageService) schedule(ctx context.Context, roomID string) {
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.ScheduleReconcile(ctx, roomID); err != nil {
		s.logger.Error("failed to schedule reconcile", zap.String("room_id", roomID), zap.Error(err))
	}
}

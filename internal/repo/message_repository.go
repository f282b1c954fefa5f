package repo

import (
	"Parley/internal/db"
	"Parley/internal/model"
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type messageRepository struct {
	mongoRepo *db.Repository[model.Message]
	logger    *zap.Logger
}

func NewMessageRepository(con *mongo.Database, logger *zap.Logger) MessageRepository {
	return &messageRepository{
		mongoRepo: db.NewRepository[model.Message](con, db.MessagesCollection),
		logger:    logger,
	}
}

// -----------------------------------------------------------------------------
// InsertMessage
// -----------------------------------------------------------------------------

// InsertMessage assigns the ObjectID up front, so a retry that hits a
// duplicate _id means an earlier attempt already landed.
func (m *messageRepository) InsertMessage(ctx context.Context, msg *model.Message) (string, error) {
	if err := m.validateMessage(msg); err != nil {
		return "", err
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	if msg.ID.IsZero() {
		msg.ID = primitive.NewObjectID()
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := waitForRetry(ctx, attempt); err != nil {
				return "", err
			}
		}

		_, err := m.mongoRepo.Create(ctx, *msg)
		if err == nil || (attempt > 0 && db.IsDuplicateKey(err)) {
			m.logger.Info("message inserted successfully",
				zap.String("message_id", msg.ID.Hex()),
				zap.String("room_id", msg.RoomID),
				zap.Int("attempt", attempt+1),
			)
			return msg.ID.Hex(), nil
		}

		lastErr = err

		// Don't retry on context cancellation or non-retryable errors
		if !isRetryableError(err) {
			break
		}

		m.logger.Warn("insert attempt failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxRetries),
		)
	}

	m.logger.Error("failed to insert message after all retries",
		zap.Error(lastErr),
		zap.String("room_id", msg.RoomID),
	)

	return "", fmt.Errorf("insert message failed: %w", translate(lastErr))
}

func (m *messageRepository) FindByID(ctx context.Context, id string) (*model.Message, error) {
	oid, err := db.ParseID(id)
	if err != nil {
		return nil, ErrNotFound
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	msg, err := withRetry(ctx, m.logger, "message.find", func(ctx context.Context) (*model.Message, error) {
		return m.mongoRepo.FindOne(ctx, bson.M{"_id": oid})
	})
	if err != nil {
		return nil, translate(err)
	}
	return msg, nil
}

// -----------------------------------------------------------------------------
// Page
// -----------------------------------------------------------------------------

func (m *messageRepository) Page(ctx context.Context, q PageQuery) ([]model.Message, error) {
	if q.RoomID == "" {
		return nil, ErrInvalidRoomID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	f := db.NewFilter().Eq("room_id", q.RoomID)
	if q.Before != nil {
		f.Lt("created_at", *q.Before)
	}
	filter := f.Build()

	m.logger.Debug("paging messages",
		zap.String("room_id", q.RoomID),
		zap.Int64("limit", q.Limit),
		zap.Any("filter", filter),
	)

	msgs, err := withRetry(ctx, m.logger, "message.page", func(ctx context.Context) ([]model.Message, error) {
		return m.mongoRepo.FindSorted(ctx, filter, "created_at", true, q.Limit)
	})
	if err != nil {
		return nil, m.handleReadError(err, q.RoomID)
	}
	return msgs, nil
}

func (m *messageRepository) Latest(ctx context.Context, roomID string) (*model.Message, error) {
	msgs, err := m.Page(ctx, PageQuery{RoomID: roomID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return &msgs[0], nil
}

// -----------------------------------------------------------------------------
// Status transitions. Every update filters on the current status, so a
// transition can never move a message backwards.
// -----------------------------------------------------------------------------

func (m *messageRepository) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	oid, err := db.ParseID(id)
	if err != nil {
		return false, ErrNotFound
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("_id", oid).Lt("status", model.MessageDelivered).Build()
	res, err := withRetry(ctx, m.logger, "message.mark_delivered", func(ctx context.Context) (*mongo.UpdateResult, error) {
		return m.mongoRepo.Update(ctx, filter, bson.M{
			"status":       model.MessageDelivered,
			"delivered_at": at,
		})
	})
	if err != nil {
		return false, translate(err)
	}
	if res.ModifiedCount > 0 {
		return true, nil
	}

	exists, err := m.mongoRepo.Exists(ctx, bson.M{"_id": oid})
	if err != nil {
		return false, translate(err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (m *messageRepository) MarkRead(ctx context.Context, roomID string, ids []string, at time.Time) ([]string, error) {
	return m.readEach(ctx, roomID, db.ParseIDs(ids), at)
}

func (m *messageRepository) MarkRoomRead(ctx context.Context, roomID, readerID string, at time.Time) ([]string, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("room_id", roomID).
		Ne("sender_id", readerID).
		Lt("status", model.MessageRead).
		Build()

	opts := options.Find().SetProjection(bson.M{"_id": 1})
	pending, err := m.mongoRepo.FindAll(ctx, filter, opts)
	if err != nil {
		return nil, m.handleReadError(err, roomID)
	}

	oids := make([]primitive.ObjectID, 0, len(pending))
	for _, p := range pending {
		oids = append(oids, p.ID)
	}
	return m.readEach(ctx, roomID, oids, at)
}

// readEach issues one conditional update per message. A message only counts
// as changed when this call moved it, so concurrent readers never both
// report the same id.
func (m *messageRepository) readEach(ctx context.Context, roomID string, oids []primitive.ObjectID, at time.Time) ([]string, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	changed := make([]string, 0, len(oids))
	for _, oid := range oids {
		f := db.NewFilter().Eq("_id", oid).Lt("status", model.MessageRead)
		if roomID != "" {
			f.Eq("room_id", roomID)
		}
		res, err := m.mongoRepo.Update(ctx, f.Build(), bson.M{
			"status":  model.MessageRead,
			"read_at": at,
		})
		if err != nil {
			return changed, translate(err)
		}
		if res.ModifiedCount > 0 {
			changed = append(changed, oid.Hex())
		}
	}
	return changed, nil
}

// -----------------------------------------------------------------------------
// Unread claims. A message's unread bump is applied by whoever flips
// unread_applied first, so Send and reconcile never both count it.
// -----------------------------------------------------------------------------

// ClaimUnread is not retried. An ambiguous failure can leave the message
// claimed without its bump, which under-counts and never doubles.
func (m *messageRepository) ClaimUnread(ctx context.Context, id string) (bool, error) {
	oid, err := db.ParseID(id)
	if err != nil {
		return false, ErrNotFound
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("_id", oid).Ne("unread_applied", true).Build()
	res, err := m.mongoRepo.Update(ctx, filter, bson.M{"unread_applied": true})
	if err != nil {
		return false, translate(err)
	}
	return res.ModifiedCount > 0, nil
}

func (m *messageRepository) ReleaseUnread(ctx context.Context, id string) error {
	oid, err := db.ParseID(id)
	if err != nil {
		return ErrNotFound
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("_id", oid).Eq("unread_applied", true).Build()
	_, err = withRetry(ctx, m.logger, "message.release_unread", func(ctx context.Context) (*mongo.UpdateResult, error) {
		return m.mongoRepo.Update(ctx, filter, bson.M{"unread_applied": false})
	})
	return translate(err)
}

func (m *messageRepository) PendingUnread(ctx context.Context, roomID string) ([]model.Message, error) {
	if roomID == "" {
		return nil, ErrInvalidRoomID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("room_id", roomID).Ne("unread_applied", true).Build()
	msgs, err := withRetry(ctx, m.logger, "message.pending_unread", func(ctx context.Context) ([]model.Message, error) {
		return m.mongoRepo.FindSorted(ctx, filter, "created_at", false, 0)
	})
	if err != nil {
		return nil, m.handleReadError(err, roomID)
	}
	return msgs, nil
}

// -----------------------------------------------------------------------------
// Private Helper Methods
// -----------------------------------------------------------------------------

func (m *messageRepository) validateMessage(msg *model.Message) error {
	if msg == nil {
		return ErrInvalidMessage
	}
	if msg.RoomID == "" {
		return ErrInvalidRoomID
	}
	return nil
}

func (m *messageRepository) handleReadError(err error, roomID string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		m.logger.Error("read timeout", zap.String("room_id", roomID))
		return ErrOperationTimeout
	}

	if errors.Is(err, context.Canceled) {
		m.logger.Debug("read cancelled", zap.String("room_id", roomID))
		return err
	}

	m.logger.Error("read failed", zap.Error(err), zap.String("room_id", roomID))
	return fmt.Errorf("read messages failed: %w", err)
}

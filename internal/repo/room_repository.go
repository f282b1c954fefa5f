package repo

import (
	"Parley/internal/db"
	"Parley/internal/model"
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type roomRepository struct {
	mongoRepo *db.Repository[model.Room]
	logger    *zap.Logger
}

func NewRoomRepository(con *mongo.Database, logger *zap.Logger) RoomRepository {
	return &roomRepository{
		mongoRepo: db.NewRepository[model.Room](con, db.RoomsCollection),
		logger:    logger,
	}
}

func (r *roomRepository) Create(ctx context.Context, room *model.Room) error {
	if room.RoomID == "" {
		return ErrInvalidRoomID
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	if room.ID.IsZero() {
		room.ID = primitive.NewObjectID()
	}
	if _, err := r.mongoRepo.Create(ctx, *room); err != nil {
		return translate(err)
	}

	r.logger.Info("room created",
		zap.String("room_id", room.RoomID),
		zap.String("type", room.Type),
	)
	return nil
}

// FindByRoomID fetches a room by its external id
func (r *roomRepository) FindByRoomID(ctx context.Context, roomID string) (*model.Room, error) {
	if roomID == "" {
		return nil, ErrInvalidRoomID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	room, err := withRetry(ctx, r.logger, "room.find", func(ctx context.Context) (*model.Room, error) {
		return r.mongoRepo.FindOne(ctx, db.NewFilter().Eq("room_id", roomID).Build())
	})
	if err != nil {
		err = translate(err)
		if err != ErrNotFound {
			r.logger.Error("failed to fetch room", zap.String("room_id", roomID), zap.Error(err))
		}
		return nil, err
	}
	return room, nil
}

// AdvanceLastMessage only moves the cache forward in time so a slow writer
// cannot overwrite a newer preview.
func (r *roomRepository) AdvanceLastMessage(ctx context.Context, roomID string, last model.LastMessage) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := bson.M{
		"room_id": roomID,
		"$or": bson.A{
			bson.M{"last_message_at": nil},
			bson.M{"last_message_at": bson.M{"$lte": last.SentAt}},
		},
	}
	_, err := withRetry(ctx, r.logger, "room.advance_last_message", func(ctx context.Context) (*mongo.UpdateResult, error) {
		return r.mongoRepo.Update(ctx, filter, bson.M{
			"last_message":    last,
			"last_message_at": last.SentAt,
		})
	})
	return translate(err)
}

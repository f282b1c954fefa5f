package repo

import (
	"Parley/internal/db"
	"Parley/internal/model"
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type membershipRepository struct {
	mongoRepo *db.Repository[model.Membership]
	logger    *zap.Logger
}

func NewMembershipRepository(con *mongo.Database, logger *zap.Logger) MembershipRepository {
	return &membershipRepository{
		mongoRepo: db.NewRepository[model.Membership](con, db.MembershipsCollection),
		logger:    logger,
	}
}

func (r *membershipRepository) Insert(ctx context.Context, m *model.Membership) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	if _, err := r.mongoRepo.Create(ctx, *m); err != nil {
		return translate(err)
	}
	return nil
}

func (r *membershipRepository) Find(ctx context.Context, roomID, userID string) (*model.Membership, error) {
	return r.findOne(ctx, db.NewFilter().Eq("room_id", roomID).Eq("user_id", userID).Build())
}

func (r *membershipRepository) FindActive(ctx context.Context, roomID, userID string) (*model.Membership, error) {
	return r.findOne(ctx, db.NewFilter().Eq("room_id", roomID).Eq("user_id", userID).Active().Build())
}

func (r *membershipRepository) ListActive(ctx context.Context, roomID string) ([]model.Membership, error) {
	return r.findSorted(ctx, db.NewFilter().Eq("room_id", roomID).Active().Build(), "joined_at")
}

func (r *membershipRepository) ListActiveByUser(ctx context.Context, userID string) ([]model.Membership, error) {
	return r.findSorted(ctx, db.NewFilter().Eq("user_id", userID).Active().Build(), "joined_at")
}

func (r *membershipRepository) Reactivate(ctx context.Context, roomID, userID string, at time.Time) (bool, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("room_id", roomID).Eq("user_id", userID).NotNull("left_at").Build()
	res, err := withRetry(ctx, r.logger, "membership.reactivate", func(ctx context.Context) (*mongo.UpdateResult, error) {
		return r.mongoRepo.Update(ctx, filter, bson.M{
			"left_at":      nil,
			"joined_at":    at,
			"role":         model.RoleMember,
			"unread_count": 0,
			"last_read_at": at,
		})
	})
	if err != nil {
		return false, translate(err)
	}
	return res.ModifiedCount > 0, nil
}

func (r *membershipRepository) Deactivate(ctx context.Context, roomID, userID string, at time.Time) (*model.Membership, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("room_id", roomID).Eq("user_id", userID).Active().Build()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)

	var before model.Membership
	err := r.mongoRepo.Collection().FindOneAndUpdate(ctx, filter, bson.M{"$set": bson.M{"left_at": at}}, opts).Decode(&before)
	if err != nil {
		return nil, translate(err)
	}
	return &before, nil
}

func (r *membershipRepository) CountActiveAdmins(ctx context.Context, roomID string) (int64, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("room_id", roomID).Eq("role", model.RoleAdmin).Active().Build()
	return withRetry(ctx, r.logger, "membership.count_admins", func(ctx context.Context) (int64, error) {
		return r.mongoRepo.Count(ctx, filter)
	})
}

// PromoteEarliest is one conditional document update: the earliest-joined
// active member is flipped to admin. Callers serialize it per room.
func (r *membershipRepository) PromoteEarliest(ctx context.Context, roomID string) (*model.Membership, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("room_id", roomID).Eq("role", model.RoleMember).Active().Build()
	sort := bson.D{{Key: "joined_at", Value: 1}, {Key: "_id", Value: 1}}
	m, err := r.mongoRepo.FindOneAndSet(ctx, filter, sort, bson.M{"role": model.RoleAdmin})
	if err != nil {
		return nil, translate(err)
	}

	r.logger.Info("member promoted to admin",
		zap.String("room_id", roomID),
		zap.String("user_id", m.UserID),
	)
	return m, nil
}

// IncrementUnread is deliberately not retried: after an ambiguous network
// failure a second $inc could over-count.
func (r *membershipRepository) IncrementUnread(ctx context.Context, roomID, exceptUserID string, sentAt time.Time) (int64, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	f := db.NewFilter().Eq("room_id", roomID).Ne("user_id", exceptUserID).Active()
	if !sentAt.IsZero() {
		f.Or(bson.M{"last_read_at": nil}, bson.M{"last_read_at": bson.M{"$lt": sentAt}})
	}
	res, err := r.mongoRepo.IncrementMany(ctx, f.Build(), "unread_count", 1)
	if err != nil {
		return 0, translate(err)
	}
	return res.ModifiedCount, nil
}

func (r *membershipRepository) ResetUnread(ctx context.Context, roomID, userID string, at time.Time) (*model.Membership, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("room_id", roomID).Eq("user_id", userID).Active().Build()
	m, err := withRetry(ctx, r.logger, "membership.reset_unread", func(ctx context.Context) (*model.Membership, error) {
		return r.mongoRepo.FindOneAndSet(ctx, filter, nil, bson.M{
			"unread_count": 0,
			"last_read_at": at,
		})
	})
	if err != nil {
		return nil, translate(err)
	}
	return m, nil
}

func (r *membershipRepository) UpdateSettings(ctx context.Context, roomID, userID string, muted, archived *bool) (*model.Membership, error) {
	update := bson.M{}
	if muted != nil {
		update["is_muted"] = *muted
	}
	if archived != nil {
		update["is_archived"] = *archived
	}
	if len(update) == 0 {
		return r.FindActive(ctx, roomID, userID)
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("room_id", roomID).Eq("user_id", userID).Active().Build()
	m, err := r.mongoRepo.FindOneAndSet(ctx, filter, nil, update)
	if err != nil {
		return nil, translate(err)
	}
	return m, nil
}

// Conversations is the Membership -> Room -> Membership join behind the
// conversation list. User profiles are resolved by the caller.
func (r *membershipRepository) Conversations(ctx context.Context, userID string) ([]model.ConversationRow, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"user_id": userID, "left_at": nil}}},
		{{Key: "$lookup", Value: bson.M{
			"from":         db.RoomsCollection,
			"localField":   "room_id",
			"foreignField": "room_id",
			"as":           "room",
		}}},
		{{Key: "$unwind", Value: "$room"}},
		{{Key: "$lookup", Value: bson.M{
			"from": db.MembershipsCollection,
			"let":  bson.M{"rid": "$room_id"},
			"pipeline": bson.A{
				bson.M{"$match": bson.M{
					"$expr": bson.M{"$and": bson.A{
						bson.M{"$eq": bson.A{"$room_id", "$$rid"}},
						bson.M{"$ne": bson.A{"$user_id", userID}},
						bson.M{"$eq": bson.A{bson.M{"$ifNull": bson.A{"$left_at", nil}}, nil}},
					}},
				}},
				bson.M{"$sort": bson.M{"joined_at": 1}},
			},
			"as": "others",
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "room.last_message_at", Value: -1}, {Key: "room.created_at", Value: -1}}}},
		{{Key: "$project", Value: bson.M{"membership": "$$ROOT", "room": 1, "others": 1}}},
	}

	rows, err := withRetry(ctx, r.logger, "membership.conversations", func(ctx context.Context) ([]model.ConversationRow, error) {
		return db.Aggregate[model.ConversationRow](ctx, r.mongoRepo.Collection(), pipeline)
	})
	if err != nil {
		r.logger.Error("failed to aggregate conversations", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to aggregate conversations: %w", err)
	}
	return rows, nil
}

func (r *membershipRepository) findOne(ctx context.Context, filter bson.M) (*model.Membership, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	m, err := withRetry(ctx, r.logger, "membership.find_one", func(ctx context.Context) (*model.Membership, error) {
		return r.mongoRepo.FindOne(ctx, filter)
	})
	if err != nil {
		return nil, translate(err)
	}
	return m, nil
}

func (r *membershipRepository) findSorted(ctx context.Context, filter bson.M, sortBy string) ([]model.Membership, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	return withRetry(ctx, r.logger, "membership.find_all", func(ctx context.Context) ([]model.Membership, error) {
		return r.mongoRepo.FindSorted(ctx, filter, sortBy, false, 0)
	})
}

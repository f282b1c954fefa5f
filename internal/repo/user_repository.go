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
	"go.uber.org/zap"
)

type userRepository struct {
	mongoRepo *db.Repository[model.User]
	logger    *zap.Logger
}

func NewUserRepository(con *mongo.Database, logger *zap.Logger) UserRepository {
	return &userRepository{
		mongoRepo: db.NewRepository[model.User](con, db.UsersCollection),
		logger:    logger,
	}
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	if _, err := r.mongoRepo.Create(ctx, *user); err != nil {
		return translate(err)
	}

	r.logger.Info("user created", zap.String("user_id", user.ID.Hex()), zap.String("username", user.Username))
	return nil
}

func (r *userRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	oid, err := db.ParseID(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

func (r *userRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, db.NewFilter().Eq("username", username).Build())
}

func (r *userRepository) FindByUsernames(ctx context.Context, usernames []string) ([]model.User, error) {
	return r.findAll(ctx, db.NewFilter().In("username", usernames).Build())
}

func (r *userRepository) FindByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	return r.findAll(ctx, db.NewFilter().In("_id", db.ParseIDs(ids)).Build())
}

func (r *userRepository) List(ctx context.Context) ([]model.User, error) {
	return r.findAll(ctx, db.Empty())
}

func (r *userRepository) ListOnline(ctx context.Context) ([]model.User, error) {
	return r.findAll(ctx, db.NewFilter().Eq("is_online", true).Build())
}

// SetPresence is a single-document update; presence has no cross-document
// invariant so the store's per-document atomicity is enough.
func (r *userRepository) SetPresence(ctx context.Context, id string, online bool, at time.Time) (*model.User, error) {
	oid, err := db.ParseID(id)
	if err != nil {
		return nil, ErrNotFound
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	user, err := withRetry(ctx, r.logger, "user.set_presence", func(ctx context.Context) (*model.User, error) {
		return r.mongoRepo.FindOneAndSet(ctx, bson.M{"_id": oid}, nil, bson.M{
			"is_online":  online,
			"last_seen":  at,
			"updated_at": at,
		})
	})
	if err != nil {
		return nil, translate(err)
	}

	r.logger.Debug("presence updated", zap.String("user_id", id), zap.Bool("online", online))
	return user, nil
}

func (r *userRepository) findOne(ctx context.Context, filter bson.M) (*model.User, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	user, err := withRetry(ctx, r.logger, "user.find_one", func(ctx context.Context) (*model.User, error) {
		return r.mongoRepo.FindOne(ctx, filter)
	})
	if err != nil {
		return nil, translate(err)
	}
	return user, nil
}

func (r *userRepository) findAll(ctx context.Context, filter bson.M) ([]model.User, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	users, err := withRetry(ctx, r.logger, "user.find_all", func(ctx context.Context) ([]model.User, error) {
		return r.mongoRepo.FindSorted(ctx, filter, "username", false, 0)
	})
	if err != nil {
		r.logger.Error("failed to query users", zap.Error(err))
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	return users, nil
}

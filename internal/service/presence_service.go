package service

import (
	"Parley/internal/model"
	"Parley/internal/repo"
	"context"
	"time"

	"go.uber.org/zap"
)

// PresenceService tracks online state in the users collection so that it
// survives restarts and is visible to REST reads.
type PresenceService interface {
	SetOnline(ctx context.Context, userID string) (*model.User, error)
	SetOffline(ctx context.Context, userID string) (*model.User, error)
	ListOnline(ctx context.Context) ([]model.PublicUser, error)
}

type presenceService struct {
	users  repo.UserRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewPresenceService(users repo.UserRepository, logger *zap.Logger) PresenceService {
	return &presenceService{
		users:  users,
		logger: logger,
		now:    time.Now,
	}
}

func (s *presenceService) SetOnline(ctx context.Context, userID string) (*model.User, error) {
	return s.set(ctx, userID, true)
}

func (s *presenceService) SetOffline(ctx context.Context, userID string) (*model.User, error) {
	return s.set(ctx, userID, false)
}

func (s *presenceService) set(ctx context.Context, userID string, online bool) (*model.User, error) {
	if userID == "" {
		return nil, validation("user id is required")
	}
	user, err := s.users.SetPresence(ctx, userID, online, s.now())
	if err != nil {
		return nil, internal(err, "user not found")
	}
	return user, nil
}

func (s *presenceService) ListOnline(ctx context.Context) ([]model.PublicUser, error) {
	users, err := s.users.ListOnline(ctx)
	if err != nil {
		return nil, internal(err, "failed to list online users")
	}
	return publicUsers(users), nil
}

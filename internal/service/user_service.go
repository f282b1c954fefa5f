package service

import (
	"Parley/internal/model"
	"Parley/internal/repo"
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_.-]{3,32}$`)

type CreateUserInput struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
}

type UserService interface {
	CreateUser(ctx context.Context, in CreateUserInput) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.PublicUser, error)
	GetByUsername(ctx context.Context, username string) (*model.PublicUser, error)
}

type userService struct {
	repo   repo.UserRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewUserService(repo repo.UserRepository, logger *zap.Logger) UserService {
	return &userService{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// NormalizeUsername lower-cases and trims a username
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (s *userService) CreateUser(ctx context.Context, in CreateUserInput) (*model.User, error) {
	username := NormalizeUsername(in.Username)
	if !usernamePattern.MatchString(username) {
		return nil, validation("username must be 3-32 characters of letters, digits, '_', '.' or '-'")
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if len(email) > 254 || !strings.Contains(email, "@") || strings.HasPrefix(email, "@") || strings.HasSuffix(email, "@") {
		return nil, validation("a valid email is required")
	}
	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = username
	}

	user := &model.User{
		Username:    username,
		Email:       email,
		DisplayName: displayName,
		Avatar:      strings.TrimSpace(in.Avatar),
		CreatedAt:   s.now(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, conflict("username or email already taken")
		}
		s.logger.Error("failed to create user", zap.String("username", username), zap.Error(err))
		return nil, internal(err, "failed to create user")
	}
	return user, nil
}

func (s *userService) ListUsers(ctx context.Context) ([]model.PublicUser, error) {
	users, err := s.repo.List(ctx)
	if err != nil {
		return nil, internal(err, "failed to list users")
	}
	return publicUsers(users), nil
}

func (s *userService) GetByUsername(ctx context.Context, username string) (*model.PublicUser, error) {
	user, err := s.repo.FindByUsername(ctx, NormalizeUsername(username))
	if err != nil {
		return nil, internal(err, "user not found")
	}
	p := user.Public()
	return &p, nil
}

func publicUsers(users []model.User) []model.PublicUser {
	out := make([]model.PublicUser, 0, len(users))
	for i := range users {
		out = append(out, users[i].Public())
	}
	return out
}

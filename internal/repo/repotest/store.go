// Package repotest provides an in-memory implementation of the repo
// contracts for tests. It mirrors the MongoDB semantics the services rely on:
// unique (room_id, user_id), conditional status updates, per-row increments.
package repotest

import (
	"Parley/internal/model"
	"Parley/internal/repo"
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Store holds every collection behind one mutex
type Store struct {
	mu          sync.Mutex
	users       map[primitive.ObjectID]*model.User
	rooms       map[string]*model.Room
	memberships map[string]*model.Membership // room_id|user_id
	messages    map[primitive.ObjectID]*model.Message

	// Failures maps an operation name (e.g. "rooms.advance") to the error
	// it should return. Used to simulate partial failures.
	Failures map[string]error
}

func New() *Store {
	return &Store{
		users:       make(map[primitive.ObjectID]*model.User),
		rooms:       make(map[string]*model.Room),
		memberships: make(map[string]*model.Membership),
		messages:    make(map[primitive.ObjectID]*model.Message),
		Failures:    make(map[string]error),
	}
}

// Fail makes op return err until cleared with Fail(op, nil)
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.Failures, op)
		return
	}
	s.Failures[op] = err
}

func (s *Store) failure(op string) error {
	return s.Failures[op]
}

func (s *Store) Users() repo.UserRepository             { return (*userRepo)(s) }
func (s *Store) Rooms() repo.RoomRepository             { return (*roomRepo)(s) }
func (s *Store) Memberships() repo.MembershipRepository { return (*membershipRepo)(s) }
func (s *Store) Messages() repo.MessageRepository       { return (*messageRepo)(s) }

// MembershipCount returns how many membership rows exist for the pair,
// active or not.
func (s *Store) MembershipCount(roomID, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.memberships {
		if m.RoomID == roomID && m.UserID == userID {
			n++
		}
	}
	return n
}

// RoomCount returns how many rooms exist
func (s *Store) RoomCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

func key(roomID, userID string) string { return roomID + "|" + userID }

// -----------------------------------------------------------------
// users
// -----------------------------------------------------------------

type userRepo Store

func (r *userRepo) Create(_ context.Context, user *model.User) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("users.create"); err != nil {
		return err
	}
	for _, u := range s.users {
		if u.Username == user.Username || u.Email == user.Email {
			return repo.ErrDuplicate
		}
	}
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	c := *user
	s.users[c.ID] = &c
	return nil
}

func (r *userRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, repo.ErrNotFound
	}
	u, ok := s.users[oid]
	if !ok {
		return nil, repo.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (r *userRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			c := *u
			return &c, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (r *userRepo) FindByUsernames(_ context.Context, usernames []string) ([]model.User, error) {
	want := make(map[string]bool, len(usernames))
	for _, n := range usernames {
		want[n] = true
	}
	return r.filter(func(u *model.User) bool { return want[u.Username] }), nil
}

func (r *userRepo) FindByIDs(_ context.Context, ids []string) ([]model.User, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return r.filter(func(u *model.User) bool { return want[u.ID.Hex()] }), nil
}

func (r *userRepo) List(_ context.Context) ([]model.User, error) {
	return r.filter(func(*model.User) bool { return true }), nil
}

func (r *userRepo) ListOnline(_ context.Context) ([]model.User, error) {
	s := (*Store)(r)
	s.mu.Lock()
	err := s.failure("users.list_online")
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.filter(func(u *model.User) bool { return u.IsOnline }), nil
}

func (r *userRepo) SetPresence(_ context.Context, id string, online bool, at time.Time) (*model.User, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("users.set_presence"); err != nil {
		return nil, err
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, repo.ErrNotFound
	}
	u, ok := s.users[oid]
	if !ok {
		return nil, repo.ErrNotFound
	}
	u.IsOnline = online
	u.LastSeen = &at
	u.UpdatedAt = &at
	c := *u
	return &c, nil
}

func (r *userRepo) filter(keep func(*model.User) bool) []model.User {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.User, 0)
	for _, u := range s.users {
		if keep(u) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// -----------------------------------------------------------------
// rooms
// -----------------------------------------------------------------

type roomRepo Store

func (r *roomRepo) Create(_ context.Context, room *model.Room) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if room.RoomID == "" {
		return repo.ErrInvalidRoomID
	}
	if _, ok := s.rooms[room.RoomID]; ok {
		return repo.ErrDuplicate
	}
	if room.ID.IsZero() {
		room.ID = primitive.NewObjectID()
	}
	c := *room
	s.rooms[room.RoomID] = &c
	return nil
}

func (r *roomRepo) FindByRoomID(_ context.Context, roomID string) (*model.Room, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	c := *room
	return &c, nil
}

func (r *roomRepo) AdvanceLastMessage(_ context.Context, roomID string, last model.LastMessage) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("rooms.advance"); err != nil {
		return err
	}
	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	if room.LastMessageAt != nil && room.LastMessageAt.After(last.SentAt) {
		return nil
	}
	l := last
	at := last.SentAt
	room.LastMessage = &l
	room.LastMessageAt = &at
	return nil
}

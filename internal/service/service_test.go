package service

import (
	"Parley/internal/model"
	"Parley/internal/repo/repotest"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type schedulerStub struct {
	mu    sync.Mutex
	rooms []string
}

func (s *schedulerStub) ScheduleReconcile(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = append(s.rooms, roomID)
	return nil
}

type publisherStub struct {
	msgs []*model.Message
}

func (p *publisherStub) PublishMessageCreated(_ context.Context, msg *model.Message) error {
	p.msgs = append(p.msgs, msg)
	return nil
}

// clock hands out strictly increasing times
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

type fixture struct {
	store      *repotest.Store
	users      UserService
	membership *membershipService
	messages   *messageService
	scheduler  *schedulerStub
	publisher  *publisherStub
	ids        map[string]string
}

func newFixture(t *testing.T, usernames ...string) *fixture {
	t.Helper()
	logger := zap.NewNop()
	store := repotest.New()
	clk := newClock()
	scheduler := &schedulerStub{}
	publisher := &publisherStub{}

	membership := NewMembershipService(store.Users(), store.Rooms(), store.Memberships(), scheduler, logger).(*membershipService)
	membership.now = clk.Now
	messages := NewMessageService(store.Messages(), store.Rooms(), membership, scheduler, publisher, logger).(*messageService)
	messages.now = clk.Now

	f := &fixture{
		store:      store,
		users:      NewUserService(store.Users(), logger),
		membership: membership,
		messages:   messages,
		scheduler:  scheduler,
		publisher:  publisher,
		ids:        make(map[string]string),
	}
	for _, name := range usernames {
		u, err := f.users.CreateUser(context.Background(), CreateUserInput{Username: name, Email: name + "@example.com"})
		if err != nil {
			t.Fatalf("create user %s: %v", name, err)
		}
		f.ids[name] = u.ID.Hex()
	}
	return f
}

func (f *fixture) membershipOf(t *testing.T, roomID, username string) *model.Membership {
	t.Helper()
	m, err := f.store.Memberships().Find(context.Background(), roomID, f.ids[username])
	if err != nil {
		t.Fatalf("find membership %s/%s: %v", roomID, username, err)
	}
	return m
}

func (f *fixture) group(t *testing.T, creator string, members ...string) string {
	t.Helper()
	room, err := f.membership.CreateGroup(context.Background(), "team", f.ids[creator], members)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	return room.RoomID
}

func assertKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want.Code())
	}
	if got := KindOf(err); got != want {
		t.Fatalf("expected %s, got %s (%v)", want.Code(), got.Code(), err)
	}
}

func TestKindOfForeignError(t *testing.T) {
	err := errors.New("boom")
	if KindOf(err) != KindInternal || MessageOf(err) != "internal server error" {
		t.Fatalf("foreign errors must map to internal")
	}
	wrapped := &Error{Kind: KindConflict, Message: "taken", Err: err}
	if !errors.Is(wrapped, err) {
		t.Fatalf("Error must unwrap its cause")
	}
}

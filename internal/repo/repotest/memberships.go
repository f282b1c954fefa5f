package repotest

import (
	"Parley/internal/model"
	"Parley/internal/repo"
	"context"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type membershipRepo Store

func (r *membershipRepo) Insert(_ context.Context, m *model.Membership) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(m.RoomID, m.UserID)
	if _, ok := s.memberships[k]; ok {
		return repo.ErrDuplicate
	}
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	c := *m
	s.memberships[k] = &c
	return nil
}

func (r *membershipRepo) Find(_ context.Context, roomID, userID string) (*model.Membership, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[key(roomID, userID)]
	if !ok {
		return nil, repo.ErrNotFound
	}
	c := *m
	return &c, nil
}

func (r *membershipRepo) FindActive(ctx context.Context, roomID, userID string) (*model.Membership, error) {
	m, err := r.Find(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if !m.IsActive() {
		return nil, repo.ErrNotFound
	}
	return m, nil
}

func (r *membershipRepo) ListActive(_ context.Context, roomID string) ([]model.Membership, error) {
	return r.list(func(m *model.Membership) bool { return m.RoomID == roomID && m.IsActive() }), nil
}

func (r *membershipRepo) ListActiveByUser(_ context.Context, userID string) ([]model.Membership, error) {
	return r.list(func(m *model.Membership) bool { return m.UserID == userID && m.IsActive() }), nil
}

func (r *membershipRepo) Reactivate(_ context.Context, roomID, userID string, at time.Time) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[key(roomID, userID)]
	if !ok || m.IsActive() {
		return false, nil
	}
	m.LeftAt = nil
	m.JoinedAt = at
	m.Role = model.RoleMember
	m.UnreadCount = 0
	m.LastReadAt = &at
	return true, nil
}

func (r *membershipRepo) Deactivate(_ context.Context, roomID, userID string, at time.Time) (*model.Membership, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[key(roomID, userID)]
	if !ok || !m.IsActive() {
		return nil, repo.ErrNotFound
	}
	before := *m
	m.LeftAt = &at
	return &before, nil
}

func (r *membershipRepo) CountActiveAdmins(_ context.Context, roomID string) (int64, error) {
	admins := r.list(func(m *model.Membership) bool { return m.RoomID == roomID && m.IsAdmin() })
	return int64(len(admins)), nil
}

func (r *membershipRepo) PromoteEarliest(_ context.Context, roomID string) (*model.Membership, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var earliest *model.Membership
	for _, m := range s.memberships {
		if m.RoomID != roomID || !m.IsActive() || m.Role != model.RoleMember {
			continue
		}
		if earliest == nil || m.JoinedAt.Before(earliest.JoinedAt) ||
			(m.JoinedAt.Equal(earliest.JoinedAt) && m.ID.Hex() < earliest.ID.Hex()) {
			earliest = m
		}
	}
	if earliest == nil {
		return nil, repo.ErrNotFound
	}
	earliest.Role = model.RoleAdmin
	c := *earliest
	return &c, nil
}

func (r *membershipRepo) IncrementUnread(_ context.Context, roomID, exceptUserID string, sentAt time.Time) (int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("memberships.increment"); err != nil {
		return 0, err
	}
	var n int64
	for _, m := range s.memberships {
		if m.RoomID != roomID || m.UserID == exceptUserID || !m.IsActive() {
			continue
		}
		if !sentAt.IsZero() && m.LastReadAt != nil && !m.LastReadAt.Before(sentAt) {
			continue
		}
		m.UnreadCount++
		n++
	}
	return n, nil
}

func (r *membershipRepo) ResetUnread(_ context.Context, roomID, userID string, at time.Time) (*model.Membership, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[key(roomID, userID)]
	if !ok || !m.IsActive() {
		return nil, repo.ErrNotFound
	}
	m.UnreadCount = 0
	m.LastReadAt = &at
	c := *m
	return &c, nil
}

func (r *membershipRepo) UpdateSettings(_ context.Context, roomID, userID string, muted, archived *bool) (*model.Membership, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[key(roomID, userID)]
	if !ok || !m.IsActive() {
		return nil, repo.ErrNotFound
	}
	if muted != nil {
		m.IsMuted = *muted
	}
	if archived != nil {
		m.IsArchived = *archived
	}
	c := *m
	return &c, nil
}

func (r *membershipRepo) Conversations(_ context.Context, userID string) ([]model.ConversationRow, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]model.ConversationRow, 0)
	for _, m := range s.memberships {
		if m.UserID != userID || !m.IsActive() {
			continue
		}
		room, ok := s.rooms[m.RoomID]
		if !ok {
			continue
		}
		row := model.ConversationRow{Membership: *m, Room: *room}
		for _, o := range s.memberships {
			if o.RoomID == m.RoomID && o.UserID != userID && o.IsActive() {
				row.Others = append(row.Others, *o)
			}
		}
		sort.Slice(row.Others, func(i, j int) bool { return row.Others[i].JoinedAt.Before(row.Others[j].JoinedAt) })
		rows = append(rows, row)
	}

	// newest activity first, rooms without messages last
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].Room.LastMessageAt, rows[j].Room.LastMessageAt
		switch {
		case a == nil && b == nil:
			return rows[i].Room.CreatedAt.After(rows[j].Room.CreatedAt)
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	return rows, nil
}

func (r *membershipRepo) list(keep func(*model.Membership) bool) []model.Membership {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Membership, 0)
	for _, m := range s.memberships {
		if keep(m) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID.Hex() < out[j].ID.Hex()
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

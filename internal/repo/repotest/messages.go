package repotest

import (
	"Parley/internal/model"
	"Parley/internal/repo"
	"context"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type messageRepo Store

func (r *messageRepo) InsertMessage(_ context.Context, msg *model.Message) (string, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg == nil {
		return "", repo.ErrInvalidMessage
	}
	if msg.RoomID == "" {
		return "", repo.ErrInvalidRoomID
	}
	if err := s.failure("messages.insert"); err != nil {
		return "", err
	}
	if msg.ID.IsZero() {
		msg.ID = primitive.NewObjectID()
	}
	c := *msg
	s.messages[c.ID] = &c
	return c.ID.Hex(), nil
}

func (r *messageRepo) FindByID(_ context.Context, id string) (*model.Message, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, repo.ErrNotFound
	}
	m, ok := s.messages[oid]
	if !ok {
		return nil, repo.ErrNotFound
	}
	c := *m
	return &c, nil
}

func (r *messageRepo) Page(_ context.Context, q repo.PageQuery) ([]model.Message, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, 0)
	for _, m := range s.messages {
		if m.RoomID != q.RoomID {
			continue
		}
		if q.Before != nil && !m.CreatedAt.Before(*q.Before) {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.Hex() > out[j].ID.Hex()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if q.Limit > 0 && int64(len(out)) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *messageRepo) Latest(ctx context.Context, roomID string) (*model.Message, error) {
	msgs, _ := r.Page(ctx, repo.PageQuery{RoomID: roomID, Limit: 1})
	if len(msgs) == 0 {
		return nil, repo.ErrNotFound
	}
	return &msgs[0], nil
}

func (r *messageRepo) MarkDelivered(_ context.Context, id string, at time.Time) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, repo.ErrNotFound
	}
	m, ok := s.messages[oid]
	if !ok {
		return false, repo.ErrNotFound
	}
	if m.Status >= model.MessageDelivered {
		return false, nil
	}
	m.Status = model.MessageDelivered
	m.DeliveredAt = &at
	return true, nil
}

func (r *messageRepo) MarkRead(_ context.Context, roomID string, ids []string, at time.Time) ([]string, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := make([]string, 0, len(ids))
	for _, id := range ids {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			continue
		}
		m, ok := s.messages[oid]
		if !ok || (roomID != "" && m.RoomID != roomID) || m.Status >= model.MessageRead {
			continue
		}
		m.Status = model.MessageRead
		m.ReadAt = &at
		changed = append(changed, id)
	}
	return changed, nil
}

func (r *messageRepo) MarkRoomRead(_ context.Context, roomID, readerID string, at time.Time) ([]string, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := make([]string, 0)
	for _, m := range s.messages {
		if m.RoomID != roomID || m.SenderID == readerID || m.Status >= model.MessageRead {
			continue
		}
		m.Status = model.MessageRead
		m.ReadAt = &at
		changed = append(changed, m.ID.Hex())
	}
	sort.Strings(changed)
	return changed, nil
}

func (r *messageRepo) ClaimUnread(_ context.Context, id string) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("messages.claim"); err != nil {
		return false, err
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, repo.ErrNotFound
	}
	m, ok := s.messages[oid]
	if !ok || m.UnreadApplied {
		return false, nil
	}
	m.UnreadApplied = true
	return true, nil
}

func (r *messageRepo) ReleaseUnread(_ context.Context, id string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return repo.ErrNotFound
	}
	if m, ok := s.messages[oid]; ok {
		m.UnreadApplied = false
	}
	return nil
}

func (r *messageRepo) PendingUnread(_ context.Context, roomID string) ([]model.Message, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, 0)
	for _, m := range s.messages {
		if m.RoomID == roomID && !m.UnreadApplied {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.Hex() < out[j].ID.Hex()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

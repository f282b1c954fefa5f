package service

import (
	"Parley/internal/model"
	"Parley/internal/repo"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	dmRoomPrefix    = "room:"
	groupRoomPrefix = "group:"

	minGroupOthers  = 2
	maxGroupNameLen = 100
)

// ReconcileScheduler queues a background repair of a room's derived state
// (last-message cache, unread counters, admin presence).
type ReconcileScheduler interface {
	ScheduleReconcile(ctx context.Context, roomID string) error
}

// AddMembersResult reports what AddMembers changed
type AddMembersResult struct {
	Added          int      `json:"added"`
	Reactivated    int      `json:"reactivated"`
	AlreadyMembers int      `json:"alreadyMembers"`
	JoinedUserIDs  []string `json:"joinedUserIds"`
}

// LeaveResult reports the outcome of a leave
type LeaveResult struct {
	RoomID         string `json:"roomId"`
	UserID         string `json:"userId"`
	PromotedUserID string `json:"promotedUserId,omitempty"`
}

type MembershipService interface {
	ResolveOrCreateDM(ctx context.Context, requesterID, otherUsername string) (*model.Room, bool, error)
	CreateGroup(ctx context.Context, name, creatorID string, memberUsernames []string) (*model.Room, error)
	AddMembers(ctx context.Context, roomID, requesterID string, usernames []string) (*AddMembersResult, error)
	RemoveMember(ctx context.Context, roomID, requesterID, targetUsername string) (string, error)
	Leave(ctx context.Context, roomID, userID string) (*LeaveResult, error)
	EnsureAdmin(ctx context.Context, roomID string) (string, error)

	IsActiveMember(ctx context.Context, roomID, userID string) (bool, error)
	RequireActiveMember(ctx context.Context, roomID, userID string) (*model.Room, *model.Membership, error)
	ListActiveMembers(ctx context.Context, roomID string) ([]model.Membership, error)
	ListMembers(ctx context.Context, roomID, requesterID string) ([]model.MemberProfile, error)
	ActiveRoomIDs(ctx context.Context, userID string) ([]string, error)

	// IncrementUnreadForOthers skips members who have read at or after sentAt
	IncrementUnreadForOthers(ctx context.Context, roomID, senderID string, sentAt time.Time) (int64, error)
	MarkRead(ctx context.Context, roomID, userID string) (*model.Membership, error)
	UpdateSettings(ctx context.Context, roomID, userID string, muted, archived *bool) (*model.Membership, error)
	GetUserConversations(ctx context.Context, userID string) ([]model.ConversationSummary, error)
}

type membershipService struct {
	users     repo.UserRepository
	rooms     repo.RoomRepository
	members   repo.MembershipRepository
	scheduler ReconcileScheduler
	logger    *zap.Logger
	locks     *roomLocks
	now       func() time.Time
}

func NewMembershipService(
	users repo.UserRepository,
	rooms repo.RoomRepository,
	members repo.MembershipRepository,
	scheduler ReconcileScheduler,
	logger *zap.Logger,
) MembershipService {
	return &membershipService{
		users:     users,
		rooms:     rooms,
		members:   members,
		scheduler: scheduler,
		logger:    logger,
		locks:     &roomLocks{},
		now:       time.Now,
	}
}

// DMRoomID is the canonical direct-message room id for two usernames.
// DMRoomID(a, b) == DMRoomID(b, a).
func DMRoomID(a, b string) string {
	x, y := NormalizeUsername(a), NormalizeUsername(b)
	if y < x {
		x, y = y, x
	}
	return dmRoomPrefix + x + "_" + y
}

// -----------------------------------------------------------------------------
// Room creation
// -----------------------------------------------------------------------------

func (s *membershipService) ResolveOrCreateDM(ctx context.Context, requesterID, otherUsername string) (*model.Room, bool, error) {
	if strings.TrimSpace(otherUsername) == "" {
		return nil, false, validation("username is required")
	}

	me, err := s.users.FindByID(ctx, requesterID)
	if err != nil {
		return nil, false, internal(err, "user not found")
	}
	other, err := s.users.FindByUsername(ctx, NormalizeUsername(otherUsername))
	if err != nil {
		return nil, false, internal(err, fmt.Sprintf("user %q not found", otherUsername))
	}
	if me.ID == other.ID {
		return nil, false, invalidOperation("cannot start a direct message with yourself")
	}

	roomID := DMRoomID(me.Username, other.Username)
	participants := []string{me.ID.Hex(), other.ID.Hex()}

	room, err := s.rooms.FindByRoomID(ctx, roomID)
	if err == nil {
		// repairs a creation that stopped between the room and its rows
		if err := s.ensureMemberships(ctx, roomID, participants, model.RoleMember); err != nil {
			return nil, false, err
		}
		return room, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, false, internal(err, "failed to resolve direct message")
	}

	now := s.now()
	room = &model.Room{
		RoomID:    roomID,
		Type:      model.RoomTypeDM,
		CreatedBy: me.ID.Hex(),
		CreatedAt: now,
	}
	created := true
	if err := s.rooms.Create(ctx, room); err != nil {
		if !errors.Is(err, repo.ErrDuplicate) {
			return nil, false, internal(err, "failed to create direct message")
		}
		// a concurrent caller created it first
		created = false
		if room, err = s.rooms.FindByRoomID(ctx, roomID); err != nil {
			return nil, false, internal(err, "failed to resolve direct message")
		}
	}

	if err := s.ensureMemberships(ctx, roomID, participants, model.RoleMember); err != nil {
		return nil, false, err
	}

	if created {
		s.logger.Info("direct message created",
			zap.String("room_id", roomID),
			zap.Strings("participants", participants),
		)
	}
	return room, created, nil
}

func (s *membershipService) CreateGroup(ctx context.Context, name, creatorID string, memberUsernames []string) (*model.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validation("group name is required")
	}
	if len([]rune(name)) > maxGroupNameLen {
		return nil, validation("group name must be at most %d characters", maxGroupNameLen)
	}

	creator, err := s.users.FindByID(ctx, creatorID)
	if err != nil {
		return nil, internal(err, "user not found")
	}

	names := normalizeUsernames(memberUsernames)
	names = Filter(names, func(n string) bool { return n != creator.Username })
	if len(names) < minGroupOthers {
		return nil, validation("a group needs at least %d other members", minGroupOthers)
	}

	others, err := s.users.FindByUsernames(ctx, names)
	if err != nil {
		return nil, internal(err, "failed to resolve members")
	}
	if missing := missingUsernames(names, others); len(missing) > 0 {
		return nil, validation("users not found: %s", strings.Join(missing, ", "))
	}

	now := s.now()
	room := &model.Room{
		RoomID:    groupRoomPrefix + uuid.NewString(),
		Type:      model.RoomTypeGroup,
		Name:      name,
		CreatedBy: creator.ID.Hex(),
		CreatedAt: now,
	}
	if err := s.rooms.Create(ctx, room); err != nil {
		return nil, internal(err, "failed to create group")
	}

	if err := s.ensureMemberships(ctx, room.RoomID, []string{creator.ID.Hex()}, model.RoleAdmin); err != nil {
		return nil, err
	}
	// insert in request order so join order follows the caller's list
	byName := make(map[string]string, len(others))
	for i := range others {
		byName[others[i].Username] = others[i].ID.Hex()
	}
	ids := make([]string, 0, len(names))
	for _, n := range names {
		ids = append(ids, byName[n])
	}
	if err := s.ensureMemberships(ctx, room.RoomID, ids, model.RoleMember); err != nil {
		return nil, err
	}

	s.logger.Info("group created",
		zap.String("room_id", room.RoomID),
		zap.String("created_by", creator.ID.Hex()),
		zap.Int("members", len(ids)+1),
	)
	return room, nil
}

// ensureMemberships inserts a row per user, leaving existing rows alone
func (s *membershipService) ensureMemberships(ctx context.Context, roomID string, userIDs []string, role string) error {
	now := s.now()
	for _, userID := range userIDs {
		m := &model.Membership{
			RoomID:     roomID,
			UserID:     userID,
			Role:       role,
			LastReadAt: &now,
			JoinedAt:   now,
		}
		if err := s.members.Insert(ctx, m); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			return internal(err, "failed to add member")
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Group membership mutations. All of them take the room lock so the
// at-least-one-admin check and its repair never interleave.
// -----------------------------------------------------------------------------

func (s *membershipService) AddMembers(ctx context.Context, roomID, requesterID string, usernames []string) (*AddMembersResult, error) {
	if _, err := s.requireGroup(ctx, roomID); err != nil {
		return nil, err
	}

	names := normalizeUsernames(usernames)
	if len(names) == 0 {
		return nil, validation("at least one username is required")
	}

	unlock := s.locks.lock(roomID)
	defer unlock()

	if err := s.requireAdmin(ctx, roomID, requesterID, "only group admins can add members"); err != nil {
		return nil, err
	}

	users, err := s.users.FindByUsernames(ctx, names)
	if err != nil {
		return nil, internal(err, "failed to resolve members")
	}
	if missing := missingUsernames(names, users); len(missing) > 0 {
		return nil, notFound("users not found: %s", strings.Join(missing, ", "))
	}

	result := &AddMembersResult{JoinedUserIDs: make([]string, 0, len(users))}
	now := s.now()
	for i := range users {
		userID := users[i].ID.Hex()
		existing, err := s.members.Find(ctx, roomID, userID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			m := &model.Membership{
				RoomID:     roomID,
				UserID:     userID,
				Role:       model.RoleMember,
				LastReadAt: &now,
				JoinedAt:   now,
			}
			if err := s.members.Insert(ctx, m); err != nil {
				if errors.Is(err, repo.ErrDuplicate) {
					result.AlreadyMembers++
					continue
				}
				return result, internal(err, "failed to add member")
			}
			result.Added++
			result.JoinedUserIDs = append(result.JoinedUserIDs, userID)
		case err != nil:
			return result, internal(err, "failed to add member")
		case existing.IsActive():
			result.AlreadyMembers++
		default:
			ok, err := s.members.Reactivate(ctx, roomID, userID, now)
			if err != nil {
				return result, internal(err, "failed to re-add member")
			}
			if ok {
				result.Reactivated++
				result.JoinedUserIDs = append(result.JoinedUserIDs, userID)
			} else {
				result.AlreadyMembers++
			}
		}
	}

	s.logger.Info("members added",
		zap.String("room_id", roomID),
		zap.String("requester_id", requesterID),
		zap.Int("added", result.Added),
		zap.Int("reactivated", result.Reactivated),
	)
	return result, nil
}

func (s *membershipService) RemoveMember(ctx context.Context, roomID, requesterID, targetUsername string) (string, error) {
	if _, err := s.requireGroup(ctx, roomID); err != nil {
		return "", err
	}

	unlock := s.locks.lock(roomID)
	defer unlock()

	if err := s.requireAdmin(ctx, roomID, requesterID, "only group admins can remove members"); err != nil {
		return "", err
	}

	target, err := s.users.FindByUsername(ctx, NormalizeUsername(targetUsername))
	if err != nil {
		return "", internal(err, fmt.Sprintf("user %q not found", targetUsername))
	}
	targetID := target.ID.Hex()
	if targetID == requesterID {
		return "", invalidOperation("admins cannot remove themselves; leave the group instead")
	}

	if _, err := s.members.Deactivate(ctx, roomID, targetID, s.now()); err != nil {
		return "", internal(err, fmt.Sprintf("%s is not an active member", target.Username))
	}

	s.logger.Info("member removed",
		zap.String("room_id", roomID),
		zap.String("user_id", targetID),
		zap.String("removed_by", requesterID),
	)
	return targetID, nil
}

func (s *membershipService) Leave(ctx context.Context, roomID, userID string) (*LeaveResult, error) {
	if _, err := s.requireGroup(ctx, roomID); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(roomID)
	defer unlock()

	before, err := s.members.Deactivate(ctx, roomID, userID, s.now())
	if err != nil {
		return nil, internal(err, "you are not an active member of this room")
	}

	result := &LeaveResult{RoomID: roomID, UserID: userID}
	if before.Role == model.RoleAdmin {
		promoted, err := s.promoteIfLeaderless(ctx, roomID)
		if err != nil {
			// the leave itself stands; a reconcile pass restores the admin
			s.logger.Error("admin succession failed",
				zap.String("room_id", roomID),
				zap.Error(err),
			)
			s.schedule(ctx, roomID)
		}
		result.PromotedUserID = promoted
	}

	s.logger.Info("member left",
		zap.String("room_id", roomID),
		zap.String("user_id", userID),
		zap.String("promoted_user_id", result.PromotedUserID),
	)
	return result, nil
}

// EnsureAdmin restores the admin invariant for a group and returns the id of
// a promoted member, if any.
func (s *membershipService) EnsureAdmin(ctx context.Context, roomID string) (string, error) {
	room, err := s.rooms.FindByRoomID(ctx, roomID)
	if err != nil {
		return "", internal(err, "room not found")
	}
	if !room.IsGroup() {
		return "", nil
	}

	unlock := s.locks.lock(roomID)
	defer unlock()

	promoted, err := s.promoteIfLeaderless(ctx, roomID)
	if err != nil {
		return "", internal(err, "failed to restore group admin")
	}
	return promoted, nil
}

// promoteIfLeaderless must run under the room lock
func (s *membershipService) promoteIfLeaderless(ctx context.Context, roomID string) (string, error) {
	admins, err := s.members.CountActiveAdmins(ctx, roomID)
	if err != nil {
		return "", err
	}
	if admins > 0 {
		return "", nil
	}

	promoted, err := s.members.PromoteEarliest(ctx, roomID)
	if errors.Is(err, repo.ErrNotFound) {
		// nobody left to lead
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return promoted.UserID, nil
}

// -----------------------------------------------------------------------------
// Queries
// -----------------------------------------------------------------------------

func (s *membershipService) IsActiveMember(ctx context.Context, roomID, userID string) (bool, error) {
	_, err := s.members.FindActive(ctx, roomID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, internal(err, "failed to check membership")
	}
	return true, nil
}

func (s *membershipService) RequireActiveMember(ctx context.Context, roomID, userID string) (*model.Room, *model.Membership, error) {
	if roomID == "" {
		return nil, nil, validation("room id is required")
	}
	room, err := s.rooms.FindByRoomID(ctx, roomID)
	if err != nil {
		return nil, nil, internal(err, "room not found")
	}
	m, err := s.members.FindActive(ctx, roomID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil, forbidden("you are not a member of this room")
	}
	if err != nil {
		return nil, nil, internal(err, "failed to check membership")
	}
	return room, m, nil
}

func (s *membershipService) ListActiveMembers(ctx context.Context, roomID string) ([]model.Membership, error) {
	members, err := s.members.ListActive(ctx, roomID)
	if err != nil {
		return nil, internal(err, "failed to list members")
	}
	return members, nil
}

func (s *membershipService) ListMembers(ctx context.Context, roomID, requesterID string) ([]model.MemberProfile, error) {
	if _, _, err := s.RequireActiveMember(ctx, roomID, requesterID); err != nil {
		return nil, err
	}
	members, err := s.ListActiveMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	profiles, err := s.profiles(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]model.MemberProfile, 0, len(members))
	for _, m := range members {
		p, ok := profiles[m.UserID]
		if !ok {
			continue
		}
		out = append(out, model.MemberProfile{User: p, Role: m.Role, JoinedAt: m.JoinedAt})
	}
	return out, nil
}

func (s *membershipService) ActiveRoomIDs(ctx context.Context, userID string) ([]string, error) {
	members, err := s.members.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, internal(err, "failed to list rooms")
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.RoomID)
	}
	return ids, nil
}

// -----------------------------------------------------------------------------
// Unread accounting
// -----------------------------------------------------------------------------

func (s *membershipService) IncrementUnreadForOthers(ctx context.Context, roomID, senderID string, sentAt time.Time) (int64, error) {
	n, err := s.members.IncrementUnread(ctx, roomID, senderID, sentAt)
	if err != nil {
		return n, internal(err, "failed to update unread counters")
	}
	return n, nil
}

func (s *membershipService) MarkRead(ctx context.Context, roomID, userID string) (*model.Membership, error) {
	if _, err := s.rooms.FindByRoomID(ctx, roomID); err != nil {
		return nil, internal(err, "room not found")
	}
	m, err := s.members.ResetUnread(ctx, roomID, userID, s.now())
	if err != nil {
		return nil, internal(err, "you are not an active member of this room")
	}
	return m, nil
}

func (s *membershipService) UpdateSettings(ctx context.Context, roomID, userID string, muted, archived *bool) (*model.Membership, error) {
	if muted == nil && archived == nil {
		return nil, validation("nothing to update")
	}
	if _, _, err := s.RequireActiveMember(ctx, roomID, userID); err != nil {
		return nil, err
	}
	m, err := s.members.UpdateSettings(ctx, roomID, userID, muted, archived)
	if err != nil {
		return nil, internal(err, "you are not an active member of this room")
	}
	return m, nil
}

// -----------------------------------------------------------------------------
// Conversation list
// -----------------------------------------------------------------------------

func (s *membershipService) GetUserConversations(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	rows, err := s.members.Conversations(ctx, userID)
	if err != nil {
		return nil, internal(err, "failed to load conversations")
	}

	var ids []string
	for _, row := range rows {
		for _, o := range row.Others {
			ids = append(ids, o.UserID)
		}
	}
	profiles, err := s.profiles(ctx, Dedupe(ids))
	if err != nil {
		return nil, err
	}

	out := make([]model.ConversationSummary, 0, len(rows))
	for _, row := range rows {
		summary := model.ConversationSummary{
			RoomID:        row.Room.RoomID,
			Type:          row.Room.Type,
			Name:          row.Room.Name,
			LastMessage:   row.Room.LastMessage,
			LastMessageAt: row.Room.LastMessageAt,
			UnreadCount:   row.Membership.UnreadCount,
			Role:          row.Membership.Role,
			IsMuted:       row.Membership.IsMuted,
			IsArchived:    row.Membership.IsArchived,
			Participants:  make([]model.PublicUser, 0, len(row.Others)),
		}
		for _, o := range row.Others {
			if o.UserID == userID || !o.IsActive() {
				continue
			}
			if p, ok := profiles[o.UserID]; ok {
				summary.Participants = append(summary.Participants, p)
			}
		}
		if !row.Room.IsGroup() && summary.Name == "" && len(summary.Participants) == 1 {
			summary.Name = summary.Participants[0].Username
		}
		out = append(out, summary)
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Private Helper Methods
// -----------------------------------------------------------------------------

func (s *membershipService) requireGroup(ctx context.Context, roomID string) (*model.Room, error) {
	if roomID == "" {
		return nil, validation("room id is required")
	}
	room, err := s.rooms.FindByRoomID(ctx, roomID)
	if err != nil {
		return nil, internal(err, "room not found")
	}
	if !room.IsGroup() {
		return nil, invalidOperation("direct message membership cannot be changed")
	}
	return room, nil
}

func (s *membershipService) requireAdmin(ctx context.Context, roomID, userID, message string) error {
	m, err := s.members.FindActive(ctx, roomID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return forbidden(message)
	}
	if err != nil {
		return internal(err, "failed to check membership")
	}
	if m.Role != model.RoleAdmin {
		return forbidden(message)
	}
	return nil
}

func (s *membershipService) profiles(ctx context.Context, ids []string) (map[string]model.PublicUser, error) {
	out := make(map[string]model.PublicUser, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	users, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, internal(err, "failed to load user profiles")
	}
	for i := range users {
		out[users[i].ID.Hex()] = users[i].Public()
	}
	return out, nil
}

func (s *membershipService) schedule(ctx context.Context, roomID string) {
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.ScheduleReconcile(context.WithoutCancel(ctx), roomID); err != nil {
		s.logger.Error("failed to schedule reconcile", zap.String("room_id", roomID), zap.Error(err))
	}
}

func normalizeUsernames(usernames []string) []string {
	out := make([]string, 0, len(usernames))
	for _, n := range usernames {
		if n = NormalizeUsername(n); n != "" {
			out = append(out, n)
		}
	}
	return Dedupe(out)
}

func missingUsernames(want []string, found []model.User) []string {
	have := make(map[string]bool, len(found))
	for i := range found {
		have[found[i].Username] = true
	}
	missing := Filter(want, func(n string) bool { return !have[n] })
	sort.Strings(missing)
	return missing
}

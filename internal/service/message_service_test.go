package service

import (
	"Parley/internal/model"
	"Parley/internal/repo"
	"context"
	"errors"
	"strings"
	"testing"
)

func (f *fixture) dm(t *testing.T, a, b string) string {
	t.Helper()
	room, _, err := f.membership.ResolveOrCreateDM(context.Background(), f.ids[a], b)
	if err != nil {
		t.Fatalf("create dm: %v", err)
	}
	return room.RoomID
}

func (f *fixture) send(t *testing.T, roomID, sender, text string) *model.Message {
	t.Helper()
	msg, err := f.messages.Send(context.Background(), SendInput{RoomID: roomID, SenderID: f.ids[sender], Text: text})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	return msg
}

func TestSendUpdatesDerivedState(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	roomID := f.dm(t, "alice", "bob")

	msg := f.send(t, roomID, "alice", "  hi  ")
	if msg.Text != "hi" || msg.Status != model.MessageSent || msg.ID.IsZero() {
		t.Fatalf("unexpected message %+v", msg)
	}

	room, err := f.store.Rooms().FindByRoomID(ctx, roomID)
	if err != nil {
		t.Fatalf("find room: %v", err)
	}
	if room.LastMessage == nil || room.LastMessage.MessageID != msg.ID.Hex() || room.LastMessage.Text != "hi" {
		t.Fatalf("unexpected last message %+v", room.LastMessage)
	}
	if got := f.membershipOf(t, roomID, "bob").UnreadCount; got != 1 {
		t.Fatalf("bob unread = %d, want 1", got)
	}
	if got := f.membershipOf(t, roomID, "alice").UnreadCount; got != 0 {
		t.Fatalf("alice unread = %d, want 0", got)
	}
	if len(f.publisher.msgs) != 1 || f.publisher.msgs[0].ID != msg.ID {
		t.Fatalf("expected the message to be published once")
	}
	if len(f.scheduler.rooms) != 0 {
		t.Fatalf("a clean send must not schedule a reconcile")
	}
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	ctx := context.Background()
	roomID := f.dm(t, "alice", "bob")

	_, err := f.messages.Send(ctx, SendInput{RoomID: roomID, SenderID: f.ids["alice"], Text: "   "})
	assertKind(t, err, KindValidation)

	_, err = f.messages.Send(ctx, SendInput{RoomID: roomID, SenderID: f.ids["alice"], Text: strings.Repeat("é", model.MaxMessageLength+1)})
	assertKind(t, err, KindValidation)

	if _, err := f.messages.Send(ctx, SendInput{RoomID: roomID, SenderID: f.ids["alice"], Text: strings.Repeat("é", model.MaxMessageLength)}); err != nil {
		t.Fatalf("a message at the limit must be accepted: %v", err)
	}

	_, err = f.messages.Send(ctx, SendInput{RoomID: roomID, SenderID: f.ids["carol"], Text: "let me in"})
	assertKind(t, err, KindForbidden)

	_, err = f.messages.Send(ctx, SendInput{RoomID: "room:nope", SenderID: f.ids["alice"], Text: "hello"})
	assertKind(t, err, KindNotFound)
}

func TestSendStoreFailureIsInternal(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	roomID := f.dm(t, "alice", "bob")
	f.store.Fail("messages.insert", errors.New("disk full"))

	_, err := f.messages.Send(context.Background(), SendInput{RoomID: roomID, SenderID: f.ids["alice"], Text: "hi"})
	assertKind(t, err, KindInternal)
	if f.membershipOf(t, roomID, "bob").UnreadCount != 0 {
		t.Fatalf("a failed insert must not touch unread counters")
	}
}

func TestPaginate(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	roomID := f.dm(t, "alice", "bob")

	sent := make([]*model.Message, 0, 31)
	for i := 0; i < 31; i++ {
		sent = append(sent, f.send(t, roomID, "alice", "msg"))
	}

	first, err := f.messages.Paginate(ctx, roomID, f.ids["bob"], PageParams{})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first.Messages) != DefaultPageLimit || !first.HasMore {
		t.Fatalf("expected %d messages with more, got %d (hasMore=%v)", DefaultPageLimit, len(first.Messages), first.HasMore)
	}
	if first.Messages[0].ID != sent[1].ID || first.Messages[29].ID != sent[30].ID {
		t.Fatalf("first page must hold the newest messages, oldest first")
	}
	if first.OldestMessageTime == nil || !first.OldestMessageTime.Equal(sent[1].CreatedAt) {
		t.Fatalf("unexpected oldest time %v", first.OldestMessageTime)
	}

	second, err := f.messages.Paginate(ctx, roomID, f.ids["bob"], PageParams{Before: first.OldestMessageTime})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second.Messages) != 1 || second.HasMore || second.Messages[0].ID != sent[0].ID {
		t.Fatalf("unexpected second page %+v", second)
	}
}

func TestPaginateLimits(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	ctx := context.Background()
	roomID := f.dm(t, "alice", "bob")
	for i := 0; i < MaxPageLimit+5; i++ {
		f.send(t, roomID, "bob", "msg")
	}

	page, err := f.messages.Paginate(ctx, roomID, f.ids["alice"], PageParams{Limit: 500})
	if err != nil {
		t.Fatalf("paginate: %v", err)
	}
	if len(page.Messages) != MaxPageLimit || !page.HasMore {
		t.Fatalf("limit must clamp to %d, got %d", MaxPageLimit, len(page.Messages))
	}

	_, err = f.messages.Paginate(ctx, roomID, f.ids["alice"], PageParams{Limit: -1})
	assertKind(t, err, KindValidation)

	_, err = f.messages.Paginate(ctx, roomID, f.ids["carol"], PageParams{})
	assertKind(t, err, KindForbidden)
}

func TestPaginateEmptyRoom(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	roomID := f.dm(t, "alice", "bob")

	page, err := f.messages.Paginate(context.Background(), roomID, f.ids["alice"], PageParams{})
	if err != nil {
		t.Fatalf("paginate: %v", err)
	}
	if len(page.Messages) != 0 || page.HasMore || page.OldestMessageTime != nil {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestStatusNeverMovesBackwards(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	roomID := f.dm(t, "alice", "bob")
	msg := f.send(t, roomID, "alice", "hi")

	got, changed, err := f.messages.MarkDelivered(ctx, msg.ID.Hex())
	if err != nil || !changed || got.Status != model.MessageDelivered || got.DeliveredAt == nil {
		t.Fatalf("first delivery must change status: %+v changed=%v err=%v", got, changed, err)
	}
	_, changed, err = f.messages.MarkDelivered(ctx, msg.ID.Hex())
	if err != nil || changed {
		t.Fatalf("repeated delivery must be a no-op (changed=%v err=%v)", changed, err)
	}

	receipt, err := f.messages.MarkRoomRead(ctx, roomID, f.ids["bob"])
	if err != nil || len(receipt.MessageIDs) != 1 || receipt.MessageIDs[0] != msg.ID.Hex() {
		t.Fatalf("unexpected receipt %+v (%v)", receipt, err)
	}

	got, changed, err = f.messages.MarkDelivered(ctx, msg.ID.Hex())
	if err != nil || changed || got.Status != model.MessageRead {
		t.Fatalf("a late delivery must not downgrade read: %+v changed=%v err=%v", got, changed, err)
	}

	_, _, err = f.messages.MarkDelivered(ctx, "ffffffffffffffffffffffff")
	assertKind(t, err, KindNotFound)
}

func TestMarkRoomReadIsIdempotent(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	roomID := f.dm(t, "alice", "bob")
	fromAlice := f.send(t, roomID, "alice", "hi")
	fromBob := f.send(t, roomID, "bob", "hey")

	receipt, err := f.messages.MarkRoomRead(ctx, roomID, f.ids["bob"])
	if err != nil {
		t.Fatalf("mark room read: %v", err)
	}
	if len(receipt.MessageIDs) != 1 || receipt.MessageIDs[0] != fromAlice.ID.Hex() || receipt.ReadBy != f.ids["bob"] {
		t.Fatalf("only the other side's messages are read: %+v", receipt)
	}

	again, err := f.messages.MarkRoomRead(ctx, roomID, f.ids["bob"])
	if err != nil || len(again.MessageIDs) != 0 {
		t.Fatalf("second call must change nothing: %+v (%v)", again, err)
	}

	own, err := f.store.Messages().FindByID(ctx, fromBob.ID.Hex())
	if err != nil || own.Status != model.MessageSent {
		t.Fatalf("the reader's own message must stay sent: %+v", own)
	}
}

func TestMarkReadIsScopedToRoom(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	ctx := context.Background()
	ab := f.dm(t, "alice", "bob")
	ac := f.dm(t, "alice", "carol")
	inAB := f.send(t, ab, "alice", "for bob")
	inAC := f.send(t, ac, "alice", "for carol")

	receipt, err := f.messages.MarkRead(ctx, ab, []string{inAB.ID.Hex(), inAC.ID.Hex(), inAB.ID.Hex(), ""})
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if len(receipt.MessageIDs) != 1 || receipt.MessageIDs[0] != inAB.ID.Hex() {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	other, _ := f.store.Messages().FindByID(ctx, inAC.ID.Hex())
	if other.Status != model.MessageSent {
		t.Fatalf("a message from another room must not be read")
	}

	_, err = f.messages.MarkRead(ctx, ab, nil)
	assertKind(t, err, KindValidation)
}

func TestReconcileRepairsPartialSend(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	roomID := f.dm(t, "alice", "bob")

	f.store.Fail("rooms.advance", errors.New("primary stepped down"))
	f.store.Fail("memberships.increment", errors.New("primary stepped down"))
	msg := f.send(t, roomID, "alice", "hi")

	room, _ := f.store.Rooms().FindByRoomID(ctx, roomID)
	if room.LastMessage != nil || f.membershipOf(t, roomID, "bob").UnreadCount != 0 {
		t.Fatalf("derived state must be stale after the failed follow-up writes")
	}
	if len(f.scheduler.rooms) != 1 || f.scheduler.rooms[0] != roomID {
		t.Fatalf("expected one reconcile scheduled, got %v", f.scheduler.rooms)
	}

	f.store.Fail("rooms.advance", nil)
	f.store.Fail("memberships.increment", nil)

	result, err := f.messages.ReconcileRoom(ctx, roomID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.LastMessageID != msg.ID.Hex() || result.MessagesApplied != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	room, _ = f.store.Rooms().FindByRoomID(ctx, roomID)
	if room.LastMessage == nil || room.LastMessage.MessageID != msg.ID.Hex() {
		t.Fatalf("last message not restored: %+v", room.LastMessage)
	}
	if got := f.membershipOf(t, roomID, "bob").UnreadCount; got != 1 {
		t.Fatalf("bob unread = %d, want 1", got)
	}

	again, err := f.messages.ReconcileRoom(ctx, roomID)
	if err != nil || again.MessagesApplied != 0 || again.LastMessageID != msg.ID.Hex() {
		t.Fatalf("second reconcile must be a no-op: %+v (%v)", again, err)
	}
}

func TestReconcileSkipsMembersWhoReadLater(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	roomID := f.dm(t, "alice", "bob")

	f.store.Fail("memberships.increment", errors.New("primary stepped down"))
	f.send(t, roomID, "alice", "one")
	f.store.Fail("memberships.increment", nil)

	if _, err := f.membership.MarkRead(ctx, roomID, f.ids["bob"]); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	f.send(t, roomID, "alice", "two")

	result, err := f.messages.ReconcileRoom(ctx, roomID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.MessagesApplied != 1 {
		t.Fatalf("expected the stale message applied once, got %+v", result)
	}
	if got := f.membershipOf(t, roomID, "bob").UnreadCount; got != 1 {
		t.Fatalf("bob unread = %d, want 1", got)
	}
}

func TestSendRetriesUnreadAfterClaimFailure(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	roomID := f.dm(t, "alice", "bob")

	f.store.Fail("messages.claim", errors.New("primary stepped down"))
	f.send(t, roomID, "alice", "hi")
	f.store.Fail("messages.claim", nil)

	if got := f.membershipOf(t, roomID, "bob").UnreadCount; got != 0 {
		t.Fatalf("bob unread = %d before reconcile, want 0", got)
	}
	if len(f.scheduler.rooms) != 1 {
		t.Fatalf("expected a reconcile scheduled, got %v", f.scheduler.rooms)
	}
	if _, err := f.messages.ReconcileRoom(ctx, roomID); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got := f.membershipOf(t, roomID, "bob").UnreadCount; got != 1 {
		t.Fatalf("bob unread = %d, want 1", got)
	}
}

// insertHook runs after once the insert has landed
type insertHook struct {
	repo.MessageRepository
	after func()
}

func (h *insertHook) InsertMessage(ctx context.Context, msg *model.Message) (string, error) {
	id, err := h.MessageRepository.InsertMessage(ctx, msg)
	if err == nil && h.after != nil {
		h.after()
	}
	return id, err
}

func TestReconcileDuringSendCountsOnce(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	roomID := f.dm(t, "alice", "bob")

	var during *ReconcileResult
	f.messages.messages = &insertHook{
		MessageRepository: f.store.Messages(),
		after: func() {
			r, err := f.messages.ReconcileRoom(ctx, roomID)
			if err != nil {
				t.Errorf("reconcile: %v", err)
			}
			during = r
		},
	}
	msg := f.send(t, roomID, "alice", "hi")

	if during == nil || during.MessagesApplied != 1 {
		t.Fatalf("reconcile between insert and bump must apply the message: %+v", during)
	}
	if got := f.membershipOf(t, roomID, "bob").UnreadCount; got != 1 {
		t.Fatalf("bob unread = %d, want 1", got)
	}

	f.messages.messages = f.store.Messages()
	again, err := f.messages.ReconcileRoom(ctx, roomID)
	if err != nil || again.MessagesApplied != 0 || again.LastMessageID != msg.ID.Hex() {
		t.Fatalf("second reconcile must be a no-op: %+v (%v)", again, err)
	}
	if got := f.membershipOf(t, roomID, "bob").UnreadCount; got != 1 {
		t.Fatalf("bob unread = %d after second reconcile, want 1", got)
	}
}

func TestReconcileKeepsNewerPreview(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	roomID := f.dm(t, "alice", "bob")

	f.send(t, roomID, "alice", "one")
	newer := model.LastMessage{MessageID: "later", Text: "later", SenderID: f.ids["bob"], SentAt: f.messages.now()}
	if err := f.store.Rooms().AdvanceLastMessage(ctx, roomID, newer); err != nil {
		t.Fatalf("advance: %v", err)
	}

	if _, err := f.messages.ReconcileRoom(ctx, roomID); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	room, _ := f.store.Rooms().FindByRoomID(ctx, roomID)
	if room.LastMessage == nil || room.LastMessage.MessageID != "later" {
		t.Fatalf("reconcile must not move the preview backwards: %+v", room.LastMessage)
	}
}

func TestReconcileRestoresGroupAdmin(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	ctx := context.Background()
	roomID := f.group(t, "alice", "bob", "carol")
	if _, err := f.store.Memberships().Deactivate(ctx, roomID, f.ids["alice"], f.membership.now()); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	result, err := f.messages.ReconcileRoom(ctx, roomID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.PromotedUserID != f.ids["bob"] || result.LastMessageID != "" {
		t.Fatalf("unexpected result %+v", result)
	}

	_, err = f.messages.ReconcileRoom(ctx, "group:missing")
	assertKind(t, err, KindNotFound)
}

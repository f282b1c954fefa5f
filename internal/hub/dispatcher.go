package hub

import (
	"Parley/internal/event"
	"Parley/internal/idem"
	"Parley/internal/model"
	"Parley/internal/service"
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
)

const (
	defaultSendLimit  = 20
	defaultSendWindow = 10 * time.Second
	idemTTL           = 10 * time.Minute
)

type RateLimiter interface {
	AllowSliding(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type ActivityRecorder interface {
	IncRoomActivity(ctx context.Context, roomID string)
}

// Dependencies are the services the dispatcher drives. Limiter, Idem and
// Activity are optional.
type Dependencies struct {
	Presence   service.PresenceService
	Membership service.MembershipService
	Messages   service.MessageService

	Limiter    RateLimiter
	SendLimit  int64
	SendWindow time.Duration
	Idem       idem.Store
	Activity   ActivityRecorder
}

var errIdentityMismatch = errors.New("payload userId does not match the session")

// -----------------------------------------------------------------
// Connect / disconnect
// -----------------------------------------------------------------

func (h *Hub) handleConnect(c *Client) {
	ctx, cancel := context.WithTimeout(h.ctx, eventTimeout)
	defer cancel()

	if _, err := h.deps.Presence.SetOnline(ctx, c.userID); err != nil {
		c.logger.Warn("connect rejected", zap.Error(err))
		c.sendError("", service.MessageOf(err), service.KindOf(err).Code())
		// give the writer a moment to flush the error before closing
		time.AfterFunc(time.Second, func() { h.Unregister(c) })
		return
	}

	roomIDs, err := h.deps.Membership.ActiveRoomIDs(ctx, c.userID)
	if err != nil {
		c.logger.Error("failed to load rooms on connect", zap.Error(err))
		c.sendError("", "failed to load your rooms", service.KindOf(err).Code())
	}
	for _, roomID := range roomIDs {
		h.Subscribe(c, roomID)
	}

	h.BroadcastAll(event.New(event.EventUserOnline, model.UserOnlineEvent{UserID: c.userID}), c)

	online, err := h.deps.Presence.ListOnline(ctx)
	if err != nil {
		c.logger.Error("failed to list online users", zap.Error(err))
		online = []model.PublicUser{}
	}
	c.Send(event.New(event.EventOnlineUsersList, model.OnlineUsersListEvent{Users: online}))

	c.logger.Info("client connected", zap.Int("rooms", len(roomIDs)))
}

// handleDisconnect marks the user offline once their last session is gone.
// Failures are logged; the offline notice is still attempted. A session
// that registered while the offline write was in flight wins.
func (h *Hub) handleDisconnect(c *Client) {
	if h.SessionCount(c.userID) > 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	lastSeen := time.Now()
	user, err := h.deps.Presence.SetOffline(ctx, c.userID)
	if err != nil {
		c.logger.Warn("failed to mark user offline", zap.Error(err))
	} else if user.LastSeen != nil {
		lastSeen = *user.LastSeen
	}

	if h.SessionCount(c.userID) > 0 {
		if _, err := h.deps.Presence.SetOnline(ctx, c.userID); err != nil {
			c.logger.Warn("failed to restore online after reconnect", zap.Error(err))
		}
		return
	}

	h.BroadcastAll(event.New(event.EventUserOffline, model.UserOfflineEvent{
		UserID:   c.userID,
		LastSeen: lastSeen,
	}), nil)
}

// -----------------------------------------------------------------
// Inbound events
// -----------------------------------------------------------------

func (h *Hub) handleEvent(ev event.WsEvent, c *Client) {
	ctx, cancel := context.WithTimeout(h.ctx, eventTimeout)
	defer cancel()

	var err error
	switch ev.Event {
	case event.EventJoinRoom:
		err = h.onJoinRoom(ctx, c, ev)
	case event.EventSendMessage:
		err = h.onSendMessage(ctx, c, ev)
	case event.EventTyping:
		err = h.onTyping(c, ev)
	case event.EventMessageDelivered:
		err = h.onMessageDelivered(ctx, c, ev)
	case event.EventMessageRead:
		err = h.onMessageRead(ctx, c, ev)
	case event.EventMarkRoomRead:
		err = h.onMarkRoomRead(ctx, c, ev)
	default:
		h.metrics.events.WithLabelValues("unknown", "rejected").Inc()
		c.sendError(ev.Event, "unknown event type", "validation_error")
		return
	}

	if err != nil {
		h.metrics.events.WithLabelValues(ev.Event, "error").Inc()
		h.reportError(c, ev.Event, err)
		return
	}
	h.metrics.events.WithLabelValues(ev.Event, "ok").Inc()
}

func (h *Hub) onJoinRoom(ctx context.Context, c *Client, ev event.WsEvent) error {
	var p model.JoinRoomPayload
	if err := decode(ev, &p); err != nil {
		return err
	}
	if err := c.checkIdentity(p.UserID); err != nil {
		return err
	}
	if _, _, err := h.deps.Membership.RequireActiveMember(ctx, p.RoomID, c.userID); err != nil {
		return err
	}

	h.Subscribe(c, p.RoomID)
	c.Send(event.New(event.EventJoinedRoom, model.JoinedRoomEvent{RoomID: p.RoomID}))
	h.PublishToRoom(p.RoomID, event.New(event.EventUserJoined, model.UserJoinedEvent{
		RoomID: p.RoomID,
		UserID: c.userID,
	}), c)
	return nil
}

func (h *Hub) onSendMessage(ctx context.Context, c *Client, ev event.WsEvent) error {
	var p model.SendMessagePayload
	if err := decode(ev, &p); err != nil {
		return err
	}
	if err := c.checkIdentity(p.UserID); err != nil {
		return err
	}

	if h.deps.Limiter != nil {
		limit, window := h.deps.SendLimit, h.deps.SendWindow
		if limit <= 0 {
			limit = defaultSendLimit
		}
		if window <= 0 {
			window = defaultSendWindow
		}
		ok, _, err := h.deps.Limiter.AllowSliding(ctx, "send:"+c.userID, limit, window)
		if err != nil {
			// the limiter is advisory; a redis outage must not stop chat
			c.logger.Warn("rate limiter unavailable", zap.Error(err))
		} else if !ok {
			return &service.Error{Kind: service.KindValidation, Message: "you are sending messages too fast"}
		}
	}

	if h.deps.Idem != nil && p.ClientMessageID != "" {
		fresh, err := h.deps.Idem.PutNX(ctx, idem.Key(c.userID, p.ClientMessageID), idemTTL)
		if err != nil {
			c.logger.Warn("idempotency store unavailable", zap.Error(err))
		} else if !fresh {
			c.logger.Debug("duplicate send dropped", zap.String("client_message_id", p.ClientMessageID))
			return nil
		}
	}

	msg, err := h.deps.Messages.Send(ctx, service.SendInput{
		RoomID:          p.RoomID,
		SenderID:        c.userID,
		Text:            p.Text,
		ClientMessageID: p.ClientMessageID,
	})
	if err != nil {
		return err
	}

	// a member sending before join_room still gets the echo
	if !c.InRoom(p.RoomID) {
		h.Subscribe(c, p.RoomID)
	}
	h.PublishToRoom(p.RoomID, event.New(event.EventReceiveMessage, msg), nil)

	if h.deps.Activity != nil {
		h.deps.Activity.IncRoomActivity(context.WithoutCancel(ctx), p.RoomID)
	}
	return nil
}

func (h *Hub) onTyping(c *Client, ev event.WsEvent) error {
	var p model.TypingPayload
	if err := decode(ev, &p); err != nil {
		return err
	}
	if err := c.checkIdentity(p.UserID); err != nil {
		return err
	}
	if p.RoomID == "" {
		return &service.Error{Kind: service.KindValidation, Message: "room id is required"}
	}
	if !c.InRoom(p.RoomID) {
		return &service.Error{Kind: service.KindForbidden, Message: "join the room before typing in it"}
	}

	h.PublishToRoom(p.RoomID, event.New(event.EventUserTyping, model.UserTypingEvent{
		RoomID:   p.RoomID,
		UserID:   c.userID,
		IsTyping: p.IsTyping,
	}), c)
	return nil
}

func (h *Hub) onMessageDelivered(ctx context.Context, c *Client, ev event.WsEvent) error {
	var p model.MessageDeliveredPayload
	if err := decode(ev, &p); err != nil {
		return err
	}

	msg, changed, err := h.deps.Messages.MarkDelivered(ctx, p.MessageID)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	h.PublishToRoom(msg.RoomID, event.New(event.EventMessageStatusUpdate, model.MessageStatusUpdateEvent{
		RoomID:      msg.RoomID,
		MessageID:   msg.ID.Hex(),
		Status:      model.MessageDelivered,
		DeliveredAt: msg.DeliveredAt,
	}), nil)
	return nil
}

func (h *Hub) onMessageRead(ctx context.Context, c *Client, ev event.WsEvent) error {
	var p model.MessageReadPayload
	if err := decode(ev, &p); err != nil {
		return err
	}
	ids := p.IDs()
	if len(ids) == 0 {
		return &service.Error{Kind: service.KindValidation, Message: "at least one message id is required"}
	}
	if _, _, err := h.deps.Membership.RequireActiveMember(ctx, p.RoomID, c.userID); err != nil {
		return err
	}

	receipt, err := h.deps.Messages.MarkRead(ctx, p.RoomID, ids)
	if err != nil {
		return err
	}
	h.publishReceipt(receipt, c.userID)
	return nil
}

func (h *Hub) onMarkRoomRead(ctx context.Context, c *Client, ev event.WsEvent) error {
	var p model.MarkRoomReadPayload
	if err := decode(ev, &p); err != nil {
		return err
	}
	if err := c.checkIdentity(p.UserID); err != nil {
		return err
	}

	receipt, err := h.deps.Messages.MarkRoomRead(ctx, p.RoomID, c.userID)
	if err != nil {
		return err
	}
	if _, err := h.deps.Membership.MarkRead(ctx, p.RoomID, c.userID); err != nil {
		return err
	}

	h.publishReceipt(receipt, c.userID)
	h.SendToUser(c.userID, event.New(event.EventUnreadReset, model.UnreadResetEvent{RoomID: p.RoomID}))
	return nil
}

// publishReceipt announces only the ids whose status actually changed
func (h *Hub) publishReceipt(receipt *service.ReadReceipt, readerID string) {
	if receipt == nil || len(receipt.MessageIDs) == 0 {
		return
	}
	readAt := receipt.ReadAt
	h.PublishToRoom(receipt.RoomID, event.New(event.EventMessageStatusUpdate, model.MessageStatusUpdateEvent{
		RoomID:     receipt.RoomID,
		MessageIDs: receipt.MessageIDs,
		Status:     model.MessageRead,
		ReadAt:     &readAt,
		ReadBy:     readerID,
	}), nil)
}

// -----------------------------------------------------------------
// Errors
// -----------------------------------------------------------------

func (h *Hub) reportError(c *Client, eventName string, err error) {
	kind := service.KindOf(err)
	if kind == service.KindInternal {
		c.logger.Error("event failed", zap.String("event", eventName), zap.Error(err))
	} else {
		c.logger.Debug("event rejected", zap.String("event", eventName), zap.Error(err))
	}
	c.sendError(eventName, service.MessageOf(err), kind.Code())
}

func (c *Client) sendError(eventName, message, code string) {
	c.Send(event.New(event.EventError, model.ErrorPayload{
		Message: message,
		Code:    code,
		Event:   eventName,
	}))
}

// checkIdentity rejects a payload that names a different user than the
// session. An empty userId means the session's user.
func (c *Client) checkIdentity(userID string) error {
	if userID != "" && userID != c.userID {
		return &service.Error{Kind: service.KindForbidden, Message: errIdentityMismatch.Error()}
	}
	return nil
}

func decode(ev event.WsEvent, v any) error {
	if err := ev.Decode(v); err != nil {
		return &service.Error{Kind: service.KindValidation, Message: "malformed payload", Err: err}
	}
	return nil
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

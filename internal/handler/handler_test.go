package handler

import (
	"Parley/internal/hub"
	"Parley/internal/model"
	"Parley/internal/repo/repotest"
	"Parley/internal/service"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type notifierStub struct {
	added   [][]string
	removed []string
	left    []*service.LeaveResult
	read    []*service.ReadReceipt
}

func (n *notifierStub) RoomAdded(_ *model.Room, userIDs []string, _ string) {
	n.added = append(n.added, userIDs)
}

func (n *notifierStub) MemberRemoved(_, userID, _ string) {
	n.removed = append(n.removed, userID)
}

func (n *notifierStub) MemberLeft(result *service.LeaveResult) {
	n.left = append(n.left, result)
}

func (n *notifierStub) RoomRead(receipt *service.ReadReceipt) {
	n.read = append(n.read, receipt)
}

type envelope struct {
	HttpStatusCode int
	IsSuccess      bool
	Status         string
	Message        string
	ErrorCode      string
	ResponseBody   json.RawMessage
}

type testServer struct {
	router   *gin.Engine
	store    *repotest.Store
	notifier *notifierStub
	messages service.MessageService
	ids      map[string]string
}

func newTestServer(t *testing.T, usernames ...string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	store := repotest.New()

	users := service.NewUserService(store.Users(), logger)
	presence := service.NewPresenceService(store.Users(), logger)
	membership := service.NewMembershipService(store.Users(), store.Rooms(), store.Memberships(), nil, logger)
	messages := service.NewMessageService(store.Messages(), store.Rooms(), membership, nil, nil, logger)
	notifier := &notifierStub{}

	userHandler := NewUserHandler(users, presence)
	rooms := NewRoomHandler(membership, messages, notifier)

	router := gin.New()
	router.POST("/cf/api/users", userHandler.CreateUser)
	router.GET("/cf/api/users", userHandler.GetAllUsers)
	router.GET("/cf/api/users/online", userHandler.GetOnlineUsers)
	router.GET("/cf/api/users/:username", userHandler.GetUser)

	roomRoute := router.Group("/cf/api/rooms", RequireUser())
	roomRoute.POST("/dm", rooms.CreateDM)
	roomRoute.GET("/:roomId/messages", rooms.GetMessages)
	roomRoute.POST("/:roomId/read", rooms.MarkRead)
	roomRoute.PATCH("/:roomId/settings", rooms.UpdateSettings)

	groupRoute := router.Group("/cf/api/groups", RequireUser())
	groupRoute.POST("", rooms.CreateGroup)
	groupRoute.GET("/:roomId/members", rooms.ListMembers)
	groupRoute.POST("/:roomId/members", rooms.AddMembers)
	groupRoute.DELETE("/:roomId/members/:username", rooms.RemoveMember)
	groupRoute.POST("/:roomId/leave", rooms.Leave)

	router.GET("/cf/api/conversations", RequireUser(), rooms.GetConversations)

	s := &testServer{
		router:   router,
		store:    store,
		notifier: notifier,
		messages: messages,
		ids:      make(map[string]string),
	}
	for _, name := range usernames {
		u, err := users.CreateUser(context.Background(), service.CreateUserInput{Username: name, Email: name + "@example.com"})
		if err != nil {
			t.Fatalf("create user %s: %v", name, err)
		}
		s.ids[name] = u.ID.Hex()
	}
	return s
}

func (s *testServer) do(t *testing.T, method, path, userID string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope %q: %v", w.Body.String(), err)
	}
	if env.HttpStatusCode != w.Code {
		t.Fatalf("envelope status %d differs from http status %d", env.HttpStatusCode, w.Code)
	}
	return w, env
}

func decodeBody(t *testing.T, env envelope, v any) {
	t.Helper()
	if err := json.Unmarshal(env.ResponseBody, v); err != nil {
		t.Fatalf("decode body %s: %v", env.ResponseBody, err)
	}
}

func TestCreateUserEndpoint(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(t, http.MethodPost, "/cf/api/users", "", map[string]string{"username": "alice", "email": "alice@example.com"})
	if w.Code != http.StatusCreated || !env.IsSuccess || env.Status != StatusSuccess {
		t.Fatalf("unexpected response %d %+v", w.Code, env)
	}
	var user model.PublicUser
	decodeBody(t, env, &user)
	if user.Username != "alice" {
		t.Fatalf("unexpected user %+v", user)
	}

	w, env = s.do(t, http.MethodPost, "/cf/api/users", "", map[string]string{"username": "alice", "email": "a2@example.com"})
	if w.Code != http.StatusConflict || env.ErrorCode != "conflict" || env.Status != StatusFail {
		t.Fatalf("expected conflict, got %d %+v", w.Code, env)
	}

	w, env = s.do(t, http.MethodPost, "/cf/api/users", "", "{not json")
	if w.Code != http.StatusBadRequest || env.ErrorCode != "validation_error" {
		t.Fatalf("expected validation error, got %d %+v", w.Code, env)
	}
}

func TestGetUserNotFound(t *testing.T) {
	s := newTestServer(t, "alice")

	w, env := s.do(t, http.MethodGet, "/cf/api/users/ALICE", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w, env = s.do(t, http.MethodGet, "/cf/api/users/ghost", "", nil)
	if w.Code != http.StatusNotFound || env.IsSuccess || env.ErrorCode != "not_found" || len(env.ResponseBody) != 0 {
		t.Fatalf("expected not_found, got %d %+v", w.Code, env)
	}
}

func TestInternalErrorsDoNotLeak(t *testing.T) {
	s := newTestServer(t)
	s.store.Fail("users.list_online", errors.New("connection reset by peer"))

	w, env := s.do(t, http.MethodGet, "/cf/api/users/online", "", nil)
	if w.Code != http.StatusInternalServerError || env.Status != StatusError || env.ErrorCode != "internal" {
		t.Fatalf("expected internal error, got %d %+v", w.Code, env)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("connection reset")) {
		t.Fatalf("store error leaked to the client: %s", w.Body.String())
	}
}

func TestRequireUser(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(t, http.MethodGet, "/cf/api/conversations", "", nil)
	if w.Code != http.StatusBadRequest || env.ErrorCode != "validation_error" {
		t.Fatalf("expected 400, got %d %+v", w.Code, env)
	}
}

func TestCreateDMEndpoint(t *testing.T) {
	s := newTestServer(t, "alice", "bob")

	w, env := s.do(t, http.MethodPost, "/cf/api/rooms/dm", s.ids["alice"], map[string]string{"username": "bob"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %+v", w.Code, env)
	}
	var room model.Room
	decodeBody(t, env, &room)
	if room.RoomID != "room:alice_bob" {
		t.Fatalf("unexpected room %+v", room)
	}
	if len(s.notifier.added) != 1 || len(s.notifier.added[0]) != 2 {
		t.Fatalf("expected one announcement to both members, got %v", s.notifier.added)
	}

	w, _ = s.do(t, http.MethodPost, "/cf/api/rooms/dm", s.ids["bob"], map[string]string{"username": "alice"})
	if w.Code != http.StatusOK || len(s.notifier.added) != 1 {
		t.Fatalf("resolving an existing dm must return 200 without announcing, got %d", w.Code)
	}

	w, env = s.do(t, http.MethodPost, "/cf/api/rooms/dm", s.ids["alice"], map[string]string{"username": "alice"})
	if w.Code != http.StatusConflict || env.ErrorCode != "invalid_operation" {
		t.Fatalf("expected invalid_operation, got %d %+v", w.Code, env)
	}
}

func TestGroupLifecycleEndpoints(t *testing.T) {
	s := newTestServer(t, "alice", "bob", "carol", "dave")

	w, env := s.do(t, http.MethodPost, "/cf/api/groups", s.ids["alice"], map[string]any{
		"name":    "team",
		"members": []string{"bob", "carol"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %+v", w.Code, env)
	}
	var room model.Room
	decodeBody(t, env, &room)
	base := "/cf/api/groups/" + room.RoomID

	w, env = s.do(t, http.MethodPost, base+"/members", s.ids["bob"], map[string]any{"usernames": []string{"dave"}})
	if w.Code != http.StatusForbidden || env.ErrorCode != "forbidden" {
		t.Fatalf("expected forbidden, got %d %+v", w.Code, env)
	}

	w, env = s.do(t, http.MethodPost, base+"/members", s.ids["alice"], map[string]any{"usernames": []string{"dave", "bob"}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %+v", w.Code, env)
	}
	var added service.AddMembersResult
	decodeBody(t, env, &added)
	if added.Added != 1 || added.AlreadyMembers != 1 {
		t.Fatalf("unexpected add result %+v", added)
	}

	w, env = s.do(t, http.MethodGet, base+"/members", s.ids["dave"], nil)
	var members []model.MemberProfile
	decodeBody(t, env, &members)
	if w.Code != http.StatusOK || len(members) != 4 {
		t.Fatalf("expected 4 members, got %d %+v", w.Code, members)
	}

	w, _ = s.do(t, http.MethodDelete, base+"/members/dave", s.ids["alice"], nil)
	if w.Code != http.StatusOK || len(s.notifier.removed) != 1 || s.notifier.removed[0] != s.ids["dave"] {
		t.Fatalf("expected dave removed, got %d %v", w.Code, s.notifier.removed)
	}

	w, env = s.do(t, http.MethodPost, base+"/leave", s.ids["alice"], nil)
	var left service.LeaveResult
	decodeBody(t, env, &left)
	if w.Code != http.StatusOK || left.PromotedUserID != s.ids["bob"] || len(s.notifier.left) != 1 {
		t.Fatalf("expected bob promoted, got %d %+v", w.Code, left)
	}
}

func TestGetMessagesEndpoint(t *testing.T) {
	s := newTestServer(t, "alice", "bob", "carol")
	s.do(t, http.MethodPost, "/cf/api/rooms/dm", s.ids["alice"], map[string]string{"username": "bob"})
	base := "/cf/api/rooms/room:alice_bob"

	for _, text := range []string{"one", "two", "three"} {
		if _, err := s.messages.Send(context.Background(), service.SendInput{RoomID: "room:alice_bob", SenderID: s.ids["alice"], Text: text}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	w, env := s.do(t, http.MethodGet, base+"/messages?limit=2", s.ids["bob"], nil)
	var page model.MessagePage
	decodeBody(t, env, &page)
	if w.Code != http.StatusOK || len(page.Messages) != 2 || !page.HasMore || page.Messages[1].Text != "three" {
		t.Fatalf("unexpected page %d %+v", w.Code, page)
	}

	cases := []string{"?limit=abc", "?before=yesterday", "?limit=-3"}
	for _, q := range cases {
		w, env = s.do(t, http.MethodGet, base+"/messages"+q, s.ids["bob"], nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d %+v", q, w.Code, env)
		}
	}

	w, env = s.do(t, http.MethodGet, base+"/messages", s.ids["carol"], nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a non-member, got %d %+v", w.Code, env)
	}
}

func TestMarkReadEndpoint(t *testing.T) {
	s := newTestServer(t, "alice", "bob")
	s.do(t, http.MethodPost, "/cf/api/rooms/dm", s.ids["alice"], map[string]string{"username": "bob"})
	msg, err := s.messages.Send(context.Background(), service.SendInput{RoomID: "room:alice_bob", SenderID: s.ids["alice"], Text: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	w, env := s.do(t, http.MethodPost, "/cf/api/rooms/room:alice_bob/read", s.ids["bob"], nil)
	var res markReadResponse
	decodeBody(t, env, &res)
	if w.Code != http.StatusOK || len(res.MessageIDs) != 1 || res.MessageIDs[0] != msg.ID.Hex() {
		t.Fatalf("unexpected response %d %+v", w.Code, res)
	}
	if len(s.notifier.read) != 1 {
		t.Fatalf("expected a read notification")
	}

	w, env = s.do(t, http.MethodPost, "/cf/api/rooms/room:alice_bob/read", s.ids["bob"], nil)
	decodeBody(t, env, &res)
	if w.Code != http.StatusOK || res.MessageIDs == nil || len(res.MessageIDs) != 0 {
		t.Fatalf("second read must report an empty list, got %+v", res)
	}

	w, env = s.do(t, http.MethodGet, "/cf/api/conversations", s.ids["bob"], nil)
	var convs []model.ConversationSummary
	decodeBody(t, env, &convs)
	if w.Code != http.StatusOK || len(convs) != 1 || convs[0].UnreadCount != 0 || convs[0].Name != "alice" {
		t.Fatalf("unexpected conversations %+v", convs)
	}
}

func TestUpdateSettingsEndpoint(t *testing.T) {
	s := newTestServer(t, "alice", "bob")
	s.do(t, http.MethodPost, "/cf/api/rooms/dm", s.ids["alice"], map[string]string{"username": "bob"})

	w, env := s.do(t, http.MethodPatch, "/cf/api/rooms/room:alice_bob/settings", s.ids["alice"], map[string]bool{"isArchived": true})
	var m model.Membership
	decodeBody(t, env, &m)
	if w.Code != http.StatusOK || !m.IsArchived || m.IsMuted {
		t.Fatalf("unexpected settings %d %+v", w.Code, m)
	}

	w, _ = s.do(t, http.MethodPatch, "/cf/api/rooms/room:alice_bob/settings", s.ids["alice"], map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("an empty update must be rejected, got %d", w.Code)
	}
}

type rankerStub struct {
	rooms []string
	err   error
}

func (r rankerStub) TopRooms(context.Context, int64) ([]string, error) {
	return r.rooms, r.err
}

func TestGetHubStats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := hub.NewHub(hub.Dependencies{}, zap.NewNop(), nil)
	t.Cleanup(h.Stop)

	handler := NewMonitorHandler(hub.NewMonitorService(h), rankerStub{rooms: []string{"room:alice_bob"}})
	router := gin.New()
	router.GET("/stats", handler.GetHubStats)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var stats model.MonitorResponse
	decodeBody(t, env, &stats)
	if w.Code != http.StatusOK || stats.Connections.TotalConnected != 0 {
		t.Fatalf("unexpected stats %d %+v", w.Code, stats)
	}
	if len(stats.BusiestRooms) != 1 || stats.BusiestRooms[0] != "room:alice_bob" {
		t.Fatalf("unexpected busiest rooms %v", stats.BusiestRooms)
	}
}

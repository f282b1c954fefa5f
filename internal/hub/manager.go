package hub

import (
	"Parley/internal/event"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	shardCount = 64 // tune: 16/64/128 depending on load
)

type inboundMessage struct {
	event  event.WsEvent
	client *Client
}

// clientBucket maps room id -> client id -> session for one shard
type clientBucket struct {
	sync.RWMutex
	rooms map[string]map[string]*Client
}

type Hub struct {
	shards     [shardCount]*clientBucket
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage

	// user id -> client id -> session, the private per-user channel
	usersMu sync.RWMutex
	users   map[string]map[string]*Client

	deps           Dependencies
	logger         *zap.Logger
	metrics        *Metrics
	allowedOrigins map[string]bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(deps Dependencies, logger *zap.Logger, allowedOrigins []string) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		register:       make(chan *Client, 1024),
		unregister:     make(chan *Client, 1024),
		inbound:        make(chan inboundMessage, 4096), // buffer for burst handling
		users:          make(map[string]map[string]*Client),
		deps:           deps,
		logger:         logger,
		metrics:        NewMetrics(),
		allowedOrigins: make(map[string]bool, len(allowedOrigins)),
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, o := range allowedOrigins {
		h.allowedOrigins[o] = true
	}

	for i := 0; i < shardCount; i++ {
		h.shards[i] = &clientBucket{
			rooms: make(map[string]map[string]*Client),
		}
	}

	// run manager loop
	go h.run()

	// start worker loop
	for i := 0; i < workerPoolSize; i++ {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			for {
				select {
				case <-h.ctx.Done():
					return
				case in := <-h.inbound:
					h.handleEvent(in.event, in.client)
				}
			}
		}()
	}

	return h
}

// Metrics exposes the hub's prometheus collectors
func (h *Hub) Metrics() *Metrics { return h.metrics }

func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.register:
			h.addClient(c)
			go h.handleConnect(c)
		case c := <-h.unregister:
			if h.removeClient(c) {
				go h.handleDisconnect(c)
			}
		}
	}
}

// Unregister queues c for removal
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	case <-time.After(unregisterTimeout):
		c.logger.Warn("failed to unregister client: timeout")
	}
}

func (h *Hub) Stop() {
	h.cancel()

	h.usersMu.RLock()
	for _, sessions := range h.users {
		for _, c := range sessions {
			c.Close()
		}
	}
	h.usersMu.RUnlock()

	h.wg.Wait()
}

// -----------------------------------------------------------------
// Session index
// -----------------------------------------------------------------

func (h *Hub) addClient(c *Client) {
	h.usersMu.Lock()
	sessions, ok := h.users[c.userID]
	if !ok {
		sessions = make(map[string]*Client)
		h.users[c.userID] = sessions
	}
	sessions[c.ID] = c
	h.usersMu.Unlock()

	h.metrics.sessions.Inc()
	c.logger.Info("session opened")
}

// removeClient drops c from every room and from the user index. It reports
// false when c was already gone.
func (h *Hub) removeClient(c *Client) bool {
	h.usersMu.Lock()
	sessions, ok := h.users[c.userID]
	if ok {
		_, ok = sessions[c.ID]
		delete(sessions, c.ID)
		if len(sessions) == 0 {
			delete(h.users, c.userID)
		}
	}
	h.usersMu.Unlock()
	if !ok {
		return false
	}

	for _, roomID := range c.Rooms() {
		h.Unsubscribe(c, roomID)
	}
	c.Close()

	h.metrics.sessions.Dec()
	c.logger.Info("session closed")
	return true
}

// SessionCount returns how many live sessions userID has
func (h *Hub) SessionCount(userID string) int {
	h.usersMu.RLock()
	defer h.usersMu.RUnlock()
	return len(h.users[userID])
}

func (h *Hub) userSessions(userID string) []*Client {
	h.usersMu.RLock()
	defer h.usersMu.RUnlock()
	sessions := h.users[userID]
	out := make([]*Client, 0, len(sessions))
	for _, c := range sessions {
		out = append(out, c)
	}
	return out
}

func (h *Hub) allSessions() []*Client {
	h.usersMu.RLock()
	defer h.usersMu.RUnlock()
	var out []*Client
	for _, sessions := range h.users {
		for _, c := range sessions {
			out = append(out, c)
		}
	}
	return out
}

// -----------------------------------------------------------------
// Room subscriptions
// -----------------------------------------------------------------

func getShard(roomID string) uint32 {
	if roomID == "" {
		return 0
	}

	h := sha1.Sum([]byte(roomID))
	return binary.BigEndian.Uint32(h[:4]) % shardCount
}

// Subscribe adds c to roomID's broadcast set
func (h *Hub) Subscribe(c *Client, roomID string) {
	b := h.shards[getShard(roomID)]
	b.Lock()
	room, ok := b.rooms[roomID]
	if !ok {
		room = make(map[string]*Client)
		b.rooms[roomID] = room
	}
	room[c.ID] = c
	b.Unlock()

	c.addRoom(roomID)
}

// Unsubscribe removes c from roomID's broadcast set
func (h *Hub) Unsubscribe(c *Client, roomID string) {
	b := h.shards[getShard(roomID)]
	b.Lock()
	if room, ok := b.rooms[roomID]; ok {
		delete(room, c.ID)
		if len(room) == 0 {
			delete(b.rooms, roomID)
		}
	}
	b.Unlock()

	c.removeRoom(roomID)
}

// UnsubscribeUser removes every session of userID from roomID
func (h *Hub) UnsubscribeUser(userID, roomID string) {
	for _, c := range h.userSessions(userID) {
		h.Unsubscribe(c, roomID)
	}
}

func (h *Hub) roomSessions(roomID string) []*Client {
	b := h.shards[getShard(roomID)]
	b.RLock()
	defer b.RUnlock()
	room := b.rooms[roomID]
	out := make([]*Client, 0, len(room))
	for _, c := range room {
		out = append(out, c)
	}
	return out
}

// -----------------------------------------------------------------
// Delivery
// -----------------------------------------------------------------

// PublishToRoom delivers ev to every session subscribed to roomID except skip
func (h *Hub) PublishToRoom(roomID string, ev event.WsEvent, skip *Client) {
	for _, c := range h.roomSessions(roomID) {
		if c == skip {
			continue
		}
		c.Send(ev)
	}
}

// SendToUser delivers ev on userID's private channel
func (h *Hub) SendToUser(userID string, ev event.WsEvent) {
	for _, c := range h.userSessions(userID) {
		c.Send(ev)
	}
}

// BroadcastAll delivers ev to every live session except skip
func (h *Hub) BroadcastAll(ev event.WsEvent, skip *Client) {
	for _, c := range h.allSessions() {
		if c == skip {
			continue
		}
		c.Send(ev)
	}
}

// -----------------------------------------------------------------
// Handshake
// -----------------------------------------------------------------

func (h *Hub) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.allowedOrigins) == 0 {
		return true
	}
	return h.allowedOrigins[origin]
}

// ServeWS upgrades the request and registers the session. The caller has
// already checked that userID is present.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	RegisterClient(userID, conn, h)
}

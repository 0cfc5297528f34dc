// Duelbox duel relay
//
// Pairs two remote players into a room over websockets, tracks whose turn it
// is, and relays card actions between them. Card payloads are opaque; game
// rules live entirely in the clients.
//
// Features:
// - Open pairing: a "join" without a room ID parks the first player in a
//   waiting slot; the next such join creates the room and starts the duel
// - Explicit rooms: a "join" with a room ID creates or fills that room,
//   rejecting a third occupant with "Room full"
// - First occupant is player1 and always opens the duel
// - playCard and endTurn both end the acting player's turn; acting out of
//   turn yields "Not your turn" and changes nothing
// - A disconnect tears the room down: the survivor is told "Opponent
//   disconnected" and closed, the room is deleted
// - Liveness sweeps ping every client each interval; a client silent for two
//   consecutive sweeps is dropped through the same teardown path
// - Random room IDs via google/uuid
// - In-browser QR endpoint to share a room join URL, backed by go-qrcode

package main

import (
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Room pairs at most two clients and carries the shared turn state. Rooms are
// owned by the Hub; clients hold only the room ID, never the room itself, so
// nothing dangles after deletion.
type Room struct {
	id         string
	occupants  []*Client // join order
	turn       Role
	turnNumber int
}

// state returns a snapshot suitable for sending to clients. Callers must hold
// the hub lock.
func (r *Room) state() *RoomState {
	players := make([]Role, 0, len(r.occupants))
	for _, c := range r.occupants {
		players = append(players, c.role)
	}

	return &RoomState{
		RoomID:     r.id,
		Turn:       r.turn,
		TurnNumber: r.turnNumber,
		Players:    players,
	}
}

// Hub owns the room registry and the waiting slot. Every mutation of room or
// client session state funnels through its methods under one lock, so each
// inbound message is handled atomically from validation to relay.
type Hub struct {
	cfg *Config

	mu      sync.Mutex
	rooms   map[string]*Room
	waiting *Client
	clients map[*Client]bool

	stop chan struct{}
}

func newHub(cfg *Config) *Hub {
	return &Hub{
		cfg:     cfg,
		rooms:   make(map[string]*Room),
		clients: make(map[*Client]bool),
		stop:    make(chan struct{}),
	}
}

// register adds a freshly-upgraded connection. The client is unattached until
// its first join.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

// handleMessage parses and dispatches one inbound payload from c.
func (h *Hub) handleMessage(c *Client, data []byte) {
	msg, err := parseClientMessage(data)
	if err != nil {
		h.mu.Lock()
		h.sendLocked(c, errorMessage("Invalid JSON"))
		h.mu.Unlock()
		return
	}

	switch msg.Type {
	case "join":
		h.join(c, msg.RoomID)
	case "playCard":
		h.playCard(c, msg)
	case "endTurn":
		h.endTurn(c)
	default:
		// ignore unknown types
	}
}

// join attaches a client either to the waiting slot or to a room. An empty
// roomID selects open pairing.
func (h *Hub) join(c *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.roomID != "" || h.waiting == c {
		h.sendLocked(c, errorMessage("Already in a room"))
		return
	}

	if roomID == "" {
		h.pairLocked(c)
		return
	}

	h.joinRoomLocked(c, roomID)
}

// pairLocked implements open pairing: park the first joiner, match the second.
func (h *Hub) pairLocked(c *Client) {
	if h.waiting == nil {
		h.waiting = c
		c.role = RolePlayer1
		h.sendLocked(c, JoinedMessage{
			Type:     "joined",
			PlayerID: RolePlayer1,
			RoomID:   "waiting",
		})
		logf(h.cfg, "DUELS: Player waiting for opponent")
		return
	}

	first := h.waiting
	h.waiting = nil

	room := &Room{
		id:        "room_" + uuid.NewString(),
		occupants: []*Client{first, c},
		turn:      RolePlayer1,
	}
	first.role = RolePlayer1
	first.roomID = room.id
	c.role = RolePlayer2
	c.roomID = room.id
	h.rooms[room.id] = room

	for _, p := range room.occupants {
		h.sendLocked(p, JoinedMessage{
			Type:     "joined",
			PlayerID: p.role,
			RoomID:   room.id,
		})
	}
	for _, p := range room.occupants {
		h.sendLocked(p, StartGameMessage{
			Type:    "startGame",
			Message: "Game started! You are " + string(p.role),
		})
	}
	h.broadcastLocked(room, TurnChangeMessage{
		Type: "turnChange",
		Turn: room.turn,
	})

	logf(h.cfg, "DUELS: Room %s started", room.id)
}

// joinRoomLocked implements explicit room joins: create the room on first
// join, fill it on the second, reject a third.
func (h *Hub) joinRoomLocked(c *Client, roomID string) {
	room, ok := h.rooms[roomID]
	if !ok {
		c.role = RolePlayer1
		c.roomID = roomID
		h.rooms[roomID] = &Room{
			id:        roomID,
			occupants: []*Client{c},
			turn:      RolePlayer1,
		}
		h.sendLocked(c, JoinedMessage{
			Type:     "joined",
			PlayerID: RolePlayer1,
			RoomID:   roomID,
		})
		logf(h.cfg, "DUELS: Room %s created, waiting for opponent", roomID)
		return
	}

	if len(room.occupants) >= 2 {
		h.sendLocked(c, errorMessage("Room full"))
		return
	}

	c.role = RolePlayer2
	c.roomID = roomID
	room.occupants = append(room.occupants, c)

	h.sendLocked(c, JoinedMessage{
		Type:     "joined",
		PlayerID: RolePlayer2,
		RoomID:   roomID,
	})
	for _, p := range room.occupants {
		h.sendLocked(p, StartGameMessage{
			Type:    "startGame",
			Message: "Game started! You are " + string(p.role),
			State:   room.state(),
		})
	}

	logf(h.cfg, "DUELS: Room %s started", roomID)
}

// playCard relays a card action to the room, then ends the acting player's
// turn. Validation and the turn flip happen under one lock acquisition.
func (h *Hub) playCard(c *Client, msg ClientMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.roomForLocked(c)
	if !ok {
		h.sendLocked(c, errorMessage("Not in a room"))
		return
	}
	if room.turn != c.role {
		h.sendLocked(c, errorMessage("Not your turn"))
		return
	}

	h.broadcastLocked(room, PlayCardMessage{
		Type:      "playCard",
		PlayerID:  c.role,
		CardID:    msg.CardID,
		CardIndex: msg.CardIndex,
	})
	h.flipTurnLocked(room)
}

// endTurn passes the turn without relaying a card.
func (h *Hub) endTurn(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.roomForLocked(c)
	if !ok {
		h.sendLocked(c, errorMessage("Not in a room"))
		return
	}
	if room.turn != c.role {
		h.sendLocked(c, errorMessage("Not your turn"))
		return
	}

	h.flipTurnLocked(room)
}

func (h *Hub) roomForLocked(c *Client) (*Room, bool) {
	if c.roomID == "" {
		return nil, false
	}
	room, ok := h.rooms[c.roomID]
	return room, ok
}

func (h *Hub) flipTurnLocked(room *Room) {
	room.turn = room.turn.Other()
	room.turnNumber++

	h.broadcastLocked(room, TurnChangeMessage{
		Type: "turnChange",
		Turn: room.turn,
	})
}

// broadcastLocked queues msg for every occupant of room.
func (h *Hub) broadcastLocked(room *Room, msg any) {
	for _, c := range room.occupants {
		h.sendLocked(c, msg)
	}
}

// sendLocked queues msg for c without ever blocking the hub. A client that
// cannot keep up is dropped rather than allowed to stall everyone else.
func (h *Hub) sendLocked(c *Client, msg any) {
	if c.closed {
		return
	}

	select {
	case c.send <- msg:
	default:
		h.dropLocked(c)
	}
}

// disconnect is the single cleanup path for every way a connection can end:
// reader error, opponent-disconnect cascade, liveness timeout. Calling it
// again for the same client is a no-op.
func (h *Hub) disconnect(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *Client) {
	h.closeLocked(c)

	if h.waiting == c {
		h.waiting = nil
		return
	}

	roomID := c.roomID
	c.roomID = ""
	if roomID == "" {
		return
	}

	room, ok := h.rooms[roomID]
	if !ok {
		return
	}

	// A two-player room cannot continue one-handed.
	delete(h.rooms, roomID)
	for _, peer := range room.occupants {
		if peer == c {
			continue
		}
		h.sendLocked(peer, errorMessage("Opponent disconnected"))
		h.closeLocked(peer)
		peer.roomID = ""
	}

	logf(h.cfg, "DUELS: Room %s closed due to disconnect", roomID)
}

// closeLocked closes a client's send channel, which shuts down its write
// pump and in turn the connection. Idempotent.
func (h *Hub) closeLocked(c *Client) {
	if c.closed {
		return
	}
	c.closed = true
	delete(h.clients, c)
	close(c.send)
}

// markAlive records a pong from c.
func (h *Hub) markAlive(c *Client) {
	h.mu.Lock()
	c.alive = true
	h.mu.Unlock()
}

// sweepLoop runs the liveness monitor until the hub is stopped.
func (h *Hub) sweepLoop() {
	ticker := time.NewTicker(h.cfg.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.sweep()
		case <-h.stop:
			return
		}
	}
}

// sweep drops every client that missed the previous ping, then pings the
// rest. Two silent intervals in a row are fatal.
func (h *Hub) sweep() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		if !c.alive {
			h.dropLocked(c)
			continue
		}
		c.alive = false
		h.sendLocked(c, pingSignal{})
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveWS upgrades the connection and runs the read pump until disconnect.
func serveWS(cfg *Config, h *Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		logf(cfg, "DUELS: New connection from %s", realIP(r))

		c := newClient(conn)
		h.register(c)

		go c.writePump()
		c.readPump(h)
	}
}

// qrHandler generates a PNG QR code for a room join URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roomID := ps.ByName("roomid")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /duel/:roomid/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// registerDuelGame sets up routes so that:
//   - /ws                → duel protocol websocket
//   - /duel/:roomid/qr   → PNG QR code for sharing that room
//
// The returned hub's sweep loop is already running; close hub.stop to end it.
func registerDuelGame(cfg *Config, mux *httprouter.Router) *Hub {
	h := newHub(cfg)
	go h.sweepLoop()

	mux.GET(cfg.prefix+"/ws", serveWS(cfg, h))
	mux.GET(cfg.prefix+"/duel/:roomid/qr", qrHandler)

	return h
}

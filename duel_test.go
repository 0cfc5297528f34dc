package main

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		port:         8080,
		pingInterval: time.Minute,
	}
}

// connect simulates an upgraded connection. The hub never touches the
// underlying conn directly, so a nil conn is enough as long as the pumps are
// not started.
func connect(h *Hub) *Client {
	c := newClient(nil)
	h.register(c)
	return c
}

// drain returns every message currently queued for c.
func drain(c *Client) []any {
	var msgs []any
	for {
		select {
		case m, ok := <-c.send:
			if !ok {
				return msgs
			}
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
}

// pair runs two open-pairing joins and clears both inboxes.
func pair(t *testing.T, h *Hub) (*Client, *Client, *Room) {
	t.Helper()

	a := connect(h)
	b := connect(h)
	h.handleMessage(a, []byte(`{"type":"join"}`))
	h.handleMessage(b, []byte(`{"type":"join"}`))
	drain(a)
	drain(b)

	require.Len(t, h.rooms, 1)
	require.Equal(t, a.roomID, b.roomID)

	return a, b, h.rooms[a.roomID]
}

func TestOpenPairingFirstJoinWaits(t *testing.T) {
	h := newHub(testConfig())
	a := connect(h)

	h.handleMessage(a, []byte(`{"type":"join"}`))

	msgs := drain(a)
	require.Len(t, msgs, 1)
	assert.Equal(t, JoinedMessage{
		Type:     "joined",
		PlayerID: RolePlayer1,
		RoomID:   "waiting",
	}, msgs[0])

	assert.Same(t, a, h.waiting)
	assert.Empty(t, h.rooms)
}

func TestOpenPairingSecondJoinStartsDuel(t *testing.T) {
	h := newHub(testConfig())
	a := connect(h)
	b := connect(h)

	h.handleMessage(a, []byte(`{"type":"join"}`))
	drain(a)
	h.handleMessage(b, []byte(`{"type":"join"}`))

	require.Len(t, h.rooms, 1)
	require.Nil(t, h.waiting)

	room := h.rooms[a.roomID]
	require.NotNil(t, room)
	assert.Equal(t, []*Client{a, b}, room.occupants)
	assert.Equal(t, RolePlayer1, room.turn)
	assert.Equal(t, RolePlayer1, a.role)
	assert.Equal(t, RolePlayer2, b.role)

	for _, c := range []*Client{a, b} {
		msgs := drain(c)
		require.Len(t, msgs, 3, "expected joined, startGame, turnChange for %s", c.role)

		joined, ok := msgs[0].(JoinedMessage)
		require.True(t, ok)
		assert.Equal(t, c.role, joined.PlayerID)
		assert.Equal(t, room.id, joined.RoomID)

		start, ok := msgs[1].(StartGameMessage)
		require.True(t, ok)
		assert.Contains(t, start.Message, string(c.role))

		assert.Equal(t, TurnChangeMessage{
			Type: "turnChange",
			Turn: RolePlayer1,
		}, msgs[2])
	}
}

func TestOpenPairingMatchesInArrivalOrder(t *testing.T) {
	h := newHub(testConfig())

	var clients []*Client
	for i := 0; i < 6; i++ {
		c := connect(h)
		h.handleMessage(c, []byte(`{"type":"join"}`))
		clients = append(clients, c)
	}

	require.Len(t, h.rooms, 3)
	require.Nil(t, h.waiting)

	for i := 0; i < len(clients); i += 2 {
		first, second := clients[i], clients[i+1]
		assert.Equal(t, first.roomID, second.roomID, "clients %d and %d should share a room", i, i+1)
		assert.Equal(t, RolePlayer1, first.role)
		assert.Equal(t, RolePlayer2, second.role)
	}
}

func TestExplicitRoomJoin(t *testing.T) {
	h := newHub(testConfig())
	a := connect(h)
	b := connect(h)

	h.handleMessage(a, []byte(`{"type":"join","roomId":"duel-1"}`))

	msgs := drain(a)
	require.Len(t, msgs, 1)
	assert.Equal(t, JoinedMessage{
		Type:     "joined",
		PlayerID: RolePlayer1,
		RoomID:   "duel-1",
	}, msgs[0])

	room := h.rooms["duel-1"]
	require.NotNil(t, room)
	assert.Equal(t, RolePlayer1, room.turn)
	assert.Len(t, room.occupants, 1)

	h.handleMessage(b, []byte(`{"type":"join","roomId":"duel-1"}`))

	msgs = drain(b)
	require.Len(t, msgs, 2)
	assert.Equal(t, JoinedMessage{
		Type:     "joined",
		PlayerID: RolePlayer2,
		RoomID:   "duel-1",
	}, msgs[0])

	start, ok := msgs[1].(StartGameMessage)
	require.True(t, ok)
	require.NotNil(t, start.State)
	assert.Equal(t, "duel-1", start.State.RoomID)
	assert.Equal(t, RolePlayer1, start.State.Turn)
	assert.Equal(t, []Role{RolePlayer1, RolePlayer2}, start.State.Players)

	msgs = drain(a)
	require.Len(t, msgs, 1)
	_, ok = msgs[0].(StartGameMessage)
	assert.True(t, ok)
}

func TestExplicitRoomJoinFull(t *testing.T) {
	h := newHub(testConfig())

	for i := 0; i < 2; i++ {
		c := connect(h)
		h.handleMessage(c, []byte(`{"type":"join","roomId":"duel-1"}`))
		drain(c)
	}

	third := connect(h)
	h.handleMessage(third, []byte(`{"type":"join","roomId":"duel-1"}`))

	msgs := drain(third)
	require.Len(t, msgs, 1)
	assert.Equal(t, errorMessage("Room full"), msgs[0])

	assert.Len(t, h.rooms["duel-1"].occupants, 2)
	assert.Empty(t, third.roomID)
	assert.False(t, third.closed)
}

func TestJoinWhileAttached(t *testing.T) {
	h := newHub(testConfig())

	// Waiting-slot occupant.
	a := connect(h)
	h.handleMessage(a, []byte(`{"type":"join"}`))
	drain(a)
	h.handleMessage(a, []byte(`{"type":"join"}`))
	msgs := drain(a)
	require.Len(t, msgs, 1)
	assert.Equal(t, errorMessage("Already in a room"), msgs[0])

	// Room occupant.
	h2 := newHub(testConfig())
	b, _, room := pair(t, h2)
	h2.handleMessage(b, []byte(`{"type":"join","roomId":"elsewhere"}`))
	msgs = drain(b)
	require.Len(t, msgs, 1)
	assert.Equal(t, errorMessage("Already in a room"), msgs[0])
	assert.Len(t, room.occupants, 2)
}

func TestActionWithoutRoom(t *testing.T) {
	h := newHub(testConfig())

	for _, payload := range []string{
		`{"type":"playCard","cardId":"x","cardIndex":0}`,
		`{"type":"endTurn"}`,
	} {
		c := connect(h)
		h.handleMessage(c, []byte(payload))

		msgs := drain(c)
		require.Len(t, msgs, 1)
		assert.Equal(t, errorMessage("Not in a room"), msgs[0])
		assert.False(t, c.closed)
	}
}

func TestOutOfTurnActions(t *testing.T) {
	h := newHub(testConfig())
	a, b, room := pair(t, h)

	for _, payload := range []string{
		`{"type":"endTurn"}`,
		`{"type":"playCard","cardId":"x","cardIndex":0}`,
	} {
		h.handleMessage(b, []byte(payload))

		msgs := drain(b)
		require.Len(t, msgs, 1)
		assert.Equal(t, errorMessage("Not your turn"), msgs[0])
		assert.Equal(t, RolePlayer1, room.turn)
		assert.Empty(t, drain(a), "nothing may be relayed to the peer")
	}
}

func TestTurnAlternates(t *testing.T) {
	h := newHub(testConfig())
	a, b, room := pair(t, h)

	actors := []*Client{a, b}
	for k := 1; k <= 5; k++ {
		h.handleMessage(actors[(k-1)%2], []byte(`{"type":"endTurn"}`))

		expected := RolePlayer1
		if k%2 == 1 {
			expected = RolePlayer2
		}
		assert.Equal(t, expected, room.turn, "after %d turn-ending actions", k)
		assert.Equal(t, k, room.turnNumber)

		for _, c := range actors {
			msgs := drain(c)
			require.Len(t, msgs, 1)
			assert.Equal(t, TurnChangeMessage{
				Type: "turnChange",
				Turn: expected,
			}, msgs[0])
		}
	}
}

func TestPlayCardRelaysThenFlips(t *testing.T) {
	h := newHub(testConfig())
	a, b, room := pair(t, h)

	h.handleMessage(a, []byte(`{"type":"playCard","cardId":"fire-7","cardIndex":3}`))

	assert.Equal(t, RolePlayer2, room.turn)
	assert.Equal(t, 1, room.turnNumber)

	for _, c := range []*Client{a, b} {
		msgs := drain(c)
		require.Len(t, msgs, 2)
		assert.Equal(t, PlayCardMessage{
			Type:      "playCard",
			PlayerID:  RolePlayer1,
			CardID:    "fire-7",
			CardIndex: 3,
		}, msgs[0])
		assert.Equal(t, TurnChangeMessage{
			Type: "turnChange",
			Turn: RolePlayer2,
		}, msgs[1])
	}
}

func TestDisconnectTearsDownRoom(t *testing.T) {
	h := newHub(testConfig())
	a, b, _ := pair(t, h)

	h.disconnect(a)

	assert.Empty(t, h.rooms)
	assert.Empty(t, h.clients)
	assert.True(t, a.closed)
	assert.True(t, b.closed)

	msgs := drain(b)
	require.Len(t, msgs, 1)
	assert.Equal(t, errorMessage("Opponent disconnected"), msgs[0])

	// The survivor's own disconnect must be a no-op.
	h.disconnect(b)
	assert.Empty(t, h.rooms)
}

func TestDisconnectClearsWaitingSlot(t *testing.T) {
	h := newHub(testConfig())
	a := connect(h)
	h.handleMessage(a, []byte(`{"type":"join"}`))
	drain(a)

	h.disconnect(a)

	assert.Nil(t, h.waiting)
	assert.True(t, a.closed)

	// The slot must be reusable afterwards.
	b := connect(h)
	h.handleMessage(b, []byte(`{"type":"join"}`))
	assert.Same(t, b, h.waiting)
}

func TestDisconnectUnattached(t *testing.T) {
	h := newHub(testConfig())
	c := connect(h)

	h.disconnect(c)
	h.disconnect(c)

	assert.True(t, c.closed)
	assert.Empty(t, h.clients)
}

func TestMalformedPayload(t *testing.T) {
	h := newHub(testConfig())
	c := connect(h)

	h.handleMessage(c, []byte(`{"type":`))

	msgs := drain(c)
	require.Len(t, msgs, 1)
	assert.Equal(t, errorMessage("Invalid JSON"), msgs[0])
	assert.False(t, c.closed)
	assert.Empty(t, h.rooms)
	assert.Nil(t, h.waiting)
}

func TestUnknownTypeIgnored(t *testing.T) {
	h := newHub(testConfig())
	c := connect(h)

	h.handleMessage(c, []byte(`{"type":"emote","cardId":"wave"}`))

	assert.Empty(t, drain(c))
	assert.False(t, c.closed)
}

func TestSweepDropsSilentClient(t *testing.T) {
	h := newHub(testConfig())
	c := connect(h)

	h.sweep()
	msgs := drain(c)
	require.Len(t, msgs, 1)
	assert.IsType(t, pingSignal{}, msgs[0])
	assert.False(t, c.alive)

	// No pong before the next sweep: terminated.
	h.sweep()
	assert.True(t, c.closed)
	assert.Empty(t, h.clients)
}

func TestSweepSparesRespondingClient(t *testing.T) {
	h := newHub(testConfig())
	c := connect(h)

	for i := 0; i < 3; i++ {
		h.sweep()
		msgs := drain(c)
		require.Len(t, msgs, 1, "sweep %d", i)
		assert.IsType(t, pingSignal{}, msgs[0])
		h.markAlive(c)
	}

	assert.False(t, c.closed)
}

func TestSweepTimeoutCascadesToPeer(t *testing.T) {
	h := newHub(testConfig())
	a, b, _ := pair(t, h)

	h.sweep()
	drain(a)
	drain(b)
	h.markAlive(a)

	h.sweep()

	assert.Empty(t, h.rooms)
	assert.True(t, b.closed)
	assert.True(t, a.closed)

	var sawError bool
	for _, m := range drain(a) {
		if em, ok := m.(ErrorMessage); ok && em.Message == "Opponent disconnected" {
			sawError = true
		}
	}
	assert.True(t, sawError, "survivor must be told the opponent vanished")
}

func TestSlowClientIsDropped(t *testing.T) {
	h := newHub(testConfig())
	c := connect(h)

	// Fill the outbound queue without draining it.
	for i := 0; i <= sendBuffer; i++ {
		h.handleMessage(c, []byte(fmt.Sprintf(`{"type":"bogus-%d"`, i)))
	}

	assert.True(t, c.closed)
	assert.Empty(t, h.clients)
}

// TestDuelScenario walks the full happy path: pair, pass, play, disconnect.
func TestDuelScenario(t *testing.T) {
	h := newHub(testConfig())
	a := connect(h)
	b := connect(h)

	h.handleMessage(a, []byte(`{"type":"join"}`))
	msgs := drain(a)
	require.Len(t, msgs, 1)
	assert.Equal(t, RolePlayer1, msgs[0].(JoinedMessage).PlayerID)

	h.handleMessage(b, []byte(`{"type":"join"}`))
	room := h.rooms[b.roomID]
	require.NotNil(t, room)
	drain(a)
	drain(b)

	h.handleMessage(a, []byte(`{"type":"endTurn"}`))
	for _, c := range []*Client{a, b} {
		msgs := drain(c)
		require.Len(t, msgs, 1)
		assert.Equal(t, TurnChangeMessage{Type: "turnChange", Turn: RolePlayer2}, msgs[0])
	}

	h.handleMessage(b, []byte(`{"type":"playCard","cardId":"x","cardIndex":0}`))
	msgs = drain(a)
	require.Len(t, msgs, 2)
	assert.Equal(t, PlayCardMessage{
		Type:     "playCard",
		PlayerID: RolePlayer2,
		CardID:   "x",
	}, msgs[0])
	assert.Equal(t, TurnChangeMessage{Type: "turnChange", Turn: RolePlayer1}, msgs[1])
	drain(b)

	h.disconnect(a)
	msgs = drain(b)
	require.Len(t, msgs, 1)
	assert.Equal(t, errorMessage("Opponent disconnected"), msgs[0])
	assert.True(t, b.closed)
	assert.Empty(t, h.rooms)
}

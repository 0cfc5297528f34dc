package main

import "encoding/json"

// Role identifies one of the two occupants of a duel. The wire literals stay
// player1/player2 for client compatibility, but nothing else is inferred from
// them; position in the room is what matters.
type Role string

const (
	RolePlayer1 Role = "player1"
	RolePlayer2 Role = "player2"
)

// Other returns the opposing role.
func (r Role) Other() Role {
	if r == RolePlayer1 {
		return RolePlayer2
	}
	return RolePlayer1
}

// ClientMessage covers every message a client may send.
type ClientMessage struct {
	Type      string `json:"type"`                // "join", "playCard", "endTurn"
	RoomID    string `json:"roomId,omitempty"`    // join (optional)
	CardID    string `json:"cardId,omitempty"`    // playCard
	CardIndex int    `json:"cardIndex,omitempty"` // playCard
}

// JoinedMessage confirms a join to a single client.
type JoinedMessage struct {
	Type     string `json:"type"` // "joined"
	PlayerID Role   `json:"playerId"`
	RoomID   string `json:"roomId"`
}

// RoomState is a snapshot of a duel, included in startGame when a client
// joins an existing room by ID.
type RoomState struct {
	RoomID     string `json:"roomId"`
	Turn       Role   `json:"turn"`
	TurnNumber int    `json:"turnNumber"`
	Players    []Role `json:"players"`
}

// StartGameMessage tells an occupant the duel has begun.
type StartGameMessage struct {
	Type    string     `json:"type"` // "startGame"
	Message string     `json:"message"`
	State   *RoomState `json:"state,omitempty"`
}

// TurnChangeMessage announces whose turn it is.
type TurnChangeMessage struct {
	Type string `json:"type"` // "turnChange"
	Turn Role   `json:"turn"`
}

// PlayCardMessage relays a played card to the room. The card fields are
// opaque; duelbox does not know the deck.
type PlayCardMessage struct {
	Type      string `json:"type"` // "playCard"
	PlayerID  Role   `json:"playerId"`
	CardID    string `json:"cardId"`
	CardIndex int    `json:"cardIndex"`
}

// ErrorMessage reports a failure to a single client.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

func errorMessage(text string) ErrorMessage {
	return ErrorMessage{
		Type:    "error",
		Message: text,
	}
}

// parseClientMessage decodes one inbound payload. A nil error only means the
// payload was valid JSON, not that the type is known.
func parseClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, err
	}
	return msg, nil
}

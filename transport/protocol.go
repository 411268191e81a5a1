package transport

import "encoding/json"

// Envelope is the wire frame for every message in either direction.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound event types.
const (
	TypeMessage     = "message"
	TypeChatCleared = "chat_cleared"
	TypeHistory     = "history"
	TypeUserList    = "user_list"
	TypeUserJoined  = "user_joined"
	TypeUserChanged = "user_changed"
	TypeUserLeft    = "user_left"
	TypeWelcome     = "welcome"
)

// ChatMessage is one inbound chat line. History marks replayed backlog,
// which must never trigger command handling.
type ChatMessage struct {
	Room    string `json:"room"`
	Sender  string `json:"sender"`
	Text    string `json:"text"`
	History bool   `json:"history,omitempty"`
}

// HistoryPayload is a backlog replay delivered on join.
type HistoryPayload struct {
	Room     string        `json:"room"`
	Messages []ChatMessage `json:"messages"`
}

// RoomPayload carries a bare room reference (chat_cleared).
type RoomPayload struct {
	Room string `json:"room"`
}

// UserPayload carries one room-membership change.
type UserPayload struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

// UserListPayload is the initial membership snapshot for a room.
type UserListPayload struct {
	Room  string   `json:"room"`
	Users []string `json:"users"`
}

// outboundMessage is the payload for a sent chat line.
type outboundMessage struct {
	Room string `json:"room"`
	Text string `json:"text"`
}

// Handler receives decoded inbound events. The core consumes these and only
// ever calls back through SendMessage.
type Handler interface {
	OnMessage(msg ChatMessage)
	OnChatCleared(room string)
	OnHistory(room string, msgs []ChatMessage)
	OnUserList(room string, users []string)
	OnUserJoined(room, username string)
	OnUserChanged(room, username string)
	OnUserLeft(room, username string)
	OnDisconnect(err error)
}

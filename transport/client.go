// Package transport implements the websocket chat connection: the connect
// handshake, the send-message primitive, and decoding of inbound room
// events. Everything above it consumes events through the Handler interface.
package transport

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
)

// Credentials authenticate the bot to the chat server.
type Credentials struct {
	Identity string
	Secret   string
}

// Client is a websocket chat connection. Connect may be called again after
// a drop; each connection gets its own pump pair.
type Client struct {
	logger  *zap.Logger
	handler Handler

	writeMu sync.Mutex
	conn    *websocket.Conn

	closed atomic.Bool
}

func NewClient(handler Handler, logger *zap.Logger) *Client {
	return &Client{
		logger:  logger,
		handler: handler,
	}
}

// Connect dials the server and authenticates with a signed token carried as
// a query parameter. On success the read and ping pumps are started.
func (c *Client) Connect(server string, creds Credentials) error {
	token, err := GenerateToken(creds.Identity, []byte(creds.Secret))
	if err != nil {
		return fmt.Errorf("sign connect token: %w", err)
	}

	u, err := url.Parse(server)
	if err != nil {
		return fmt.Errorf("parse server url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", server, err)
	}

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	c.logger.Info("Connected to chat server",
		zap.String("server", server),
		zap.String("identity", creds.Identity))

	done := make(chan struct{})
	go c.readPump(conn, done)
	go c.pingPump(conn, done)
	return nil
}

// SendMessage delivers one chat line to a room.
func (c *Client) SendMessage(room, text string) error {
	payload, err := json.Marshal(outboundMessage{Room: room, Text: text})
	if err != nil {
		return err
	}
	data, err := json.Marshal(Envelope{Type: TypeMessage, Payload: payload})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close tears the connection down for good; no disconnect event is raised.
func (c *Client) Close() error {
	c.closed.Store(true)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) readPump(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		close(done)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error("Unexpected connection close", zap.Error(err))
			} else {
				c.logger.Info("Connection closed", zap.Error(err))
			}
			c.handler.OnDisconnect(err)
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("Failed to decode inbound frame", zap.Error(err))
			continue
		}
		c.dispatch(env)
	}
}

// dispatch decodes the envelope payload and routes it to the handler. A
// malformed payload is logged and dropped, never fatal.
func (c *Client) dispatch(env Envelope) {
	switch env.Type {
	case TypeMessage:
		var msg ChatMessage
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			c.logger.Warn("Bad message payload", zap.Error(err))
			return
		}
		c.handler.OnMessage(msg)

	case TypeChatCleared:
		var p RoomPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.logger.Warn("Bad chat_cleared payload", zap.Error(err))
			return
		}
		c.handler.OnChatCleared(p.Room)

	case TypeHistory:
		var p HistoryPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.logger.Warn("Bad history payload", zap.Error(err))
			return
		}
		c.handler.OnHistory(p.Room, p.Messages)

	case TypeUserList:
		var p UserListPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.logger.Warn("Bad user_list payload", zap.Error(err))
			return
		}
		c.handler.OnUserList(p.Room, p.Users)

	case TypeUserJoined, TypeUserChanged, TypeUserLeft:
		var p UserPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.logger.Warn("Bad user payload", zap.String("type", env.Type), zap.Error(err))
			return
		}
		switch env.Type {
		case TypeUserJoined:
			c.handler.OnUserJoined(p.Room, p.Username)
		case TypeUserChanged:
			c.handler.OnUserChanged(p.Room, p.Username)
		case TypeUserLeft:
			c.handler.OnUserLeft(p.Room, p.Username)
		}

	case TypeWelcome:
		c.logger.Debug("Server welcome received")

	default:
		c.logger.Debug("Ignoring unknown frame type", zap.String("type", env.Type))
	}
}

func (c *Client) pingPump(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Warn("Ping failed", zap.Error(err))
				return
			}
		}
	}
}

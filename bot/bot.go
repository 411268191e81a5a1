// Package bot wires the transport, dispatcher, module registry and per-room
// outbound queues into a running chat bot.
package bot

import (
	"sync"

	"go.uber.org/zap"

	"roombot/config"
	"roombot/modules"
	"roombot/queue"
	"roombot/transport"
)

// Transport is the outbound half of the chat connection the bot drives.
type Transport interface {
	SendMessage(room, text string) error
}

// Bot owns one session per joined room and routes inbound transport events
// to them. It implements transport.Handler.
type Bot struct {
	cfg        *config.Config
	registry   *modules.Registry
	dispatcher *Dispatcher
	transport  Transport
	audit      queue.DeliveryLog // may be nil
	logger     *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	disconnects chan error
}

func New(cfg *config.Config, registry *modules.Registry, dispatcher *Dispatcher, audit queue.DeliveryLog, logger *zap.Logger) *Bot {
	return &Bot{
		cfg:         cfg,
		registry:    registry,
		dispatcher:  dispatcher,
		audit:       audit,
		logger:      logger,
		sessions:    make(map[string]*Session),
		disconnects: make(chan error, 1),
	}
}

// Disconnects signals each connection drop. The reconnect loop drains it.
func (b *Bot) Disconnects() <-chan error {
	return b.disconnects
}

// SetTransport binds the outbound connection. Must be called before
// JoinRoom; the bot and the transport reference each other, so one side is
// wired late.
func (b *Bot) SetTransport(tr Transport) {
	b.transport = tr
}

// JoinRoom creates the room's session and outbound queue, marks it
// connected, and fires the join lifecycle broadcast to every module.
func (b *Bot) JoinRoom(room string) *Session {
	q := queue.New(room, b.cfg.Throttle(), b.transport.SendMessage, b.audit, b.logger)
	q.Start()
	q.SetConnected(true)

	s := &Session{
		room:       room,
		queue:      q,
		dispatcher: b.dispatcher,
		logger:     b.logger,
	}

	b.mu.Lock()
	b.sessions[room] = s
	b.mu.Unlock()

	b.logger.Info("Joined room", zap.String("room", room))

	b.registry.Broadcast(modules.EventJoin, func(m *modules.Module) *modules.LifecycleContext {
		return &modules.LifecycleContext{
			Room:   room,
			Module: m,
			Config: b.cfg.Module(m.Name()),
			Send:   s.Send,
			Logger: b.logger,
		}
	})

	return s
}

// Session returns the session for a room, if joined.
func (b *Bot) Session(room string) (*Session, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[room]
	return s, ok
}

// Shutdown stops every session's queue.
func (b *Bot) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.sessions {
		s.queue.Stop()
	}
}

// OnMessage routes an inbound chat line to its room session. History
// replays are printed but never dispatched as commands.
func (b *Bot) OnMessage(msg transport.ChatMessage) {
	s, ok := b.Session(msg.Room)
	if !ok {
		b.logger.Warn("Message for unjoined room", zap.String("room", msg.Room))
		return
	}
	s.HandleMessage(msg.Sender, msg.Text, msg.History)
}

func (b *Bot) OnChatCleared(room string) {
	b.logger.Info("Room chat has been cleared by admin", zap.String("room", room))
}

func (b *Bot) OnHistory(room string, msgs []transport.ChatMessage) {
	b.logger.Info("Replaying history", zap.String("room", room), zap.Int("messages", len(msgs)))
	for _, msg := range msgs {
		b.logger.Debug("History line",
			zap.String("room", room),
			zap.String("sender", msg.Sender),
			zap.String("text", msg.Text))
	}
}

func (b *Bot) OnUserList(room string, users []string) {
	b.logger.Info("Users in room",
		zap.String("room", room),
		zap.Strings("users", users))
}

func (b *Bot) OnUserJoined(room, username string) {
	b.logger.Info("User joined", zap.String("room", room), zap.String("user", username))
}

func (b *Bot) OnUserChanged(room, username string) {
	b.logger.Debug("User changed", zap.String("room", room), zap.String("user", username))
}

func (b *Bot) OnUserLeft(room, username string) {
	b.logger.Info("User left", zap.String("room", room), zap.String("user", username))
}

// OnDisconnect suspends delivery on every room's queue without discarding
// pending messages, then signals the reconnect loop.
func (b *Bot) OnDisconnect(err error) {
	b.logger.Warn("Disconnected", zap.Error(err))
	b.mu.RLock()
	for _, s := range b.sessions {
		s.SetConnected(false)
	}
	b.mu.RUnlock()

	select {
	case b.disconnects <- err:
	default:
	}
}

// Resume re-enables delivery on every room's queue after a reconnect.
// Pending messages flow again from where they left off.
func (b *Bot) Resume() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.sessions {
		s.SetConnected(true)
	}
}

// Session is the per-room state: its outbound queue and dispatch context.
type Session struct {
	room       string
	queue      *queue.Queue
	dispatcher *Dispatcher
	logger     *zap.Logger
}

func (s *Session) Room() string { return s.room }

// Send pushes a message onto the room's outbound queue. This is the send
// capability handed to plugins; it never blocks.
func (s *Session) Send(text string) {
	s.queue.Push(text)
}

// SetConnected suspends or resumes the room's outbound delivery.
func (s *Session) SetConnected(connected bool) {
	s.queue.SetConnected(connected)
}

// HandleMessage processes one inbound chat line for this room.
func (s *Session) HandleMessage(sender, text string, history bool) {
	if history {
		return
	}

	s.logger.Info("Chat message",
		zap.String("room", s.room),
		zap.String("sender", sender),
		zap.String("text", text))

	if s.dispatcher.IsCommand(sender, text) {
		s.dispatcher.Dispatch(sender, text, s.room, s.Send)
	}
}

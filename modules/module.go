package modules

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// EventJoin is fired once per room after the room connection is established.
const EventJoin = "join"

// SendFunc pushes a message onto a room's outbound queue. It never blocks.
type SendFunc func(text string)

// Handler executes a command invocation. A non-empty return value is sent
// back into the room as the reply.
type Handler func(ctx *Context) (string, error)

// Context carries everything a command handler needs for one invocation.
type Context struct {
	Sender  string
	Room    string
	Message string // full raw message including prefix
	Args    string // free-form argument tail, whitespace-trimmed
	Send    SendFunc
	Logger  *zap.Logger
}

// LifecycleContext carries everything a lifecycle callback needs.
type LifecycleContext struct {
	Room   string
	Module *Module    // handle to the owning module (enabled state etc.)
	Config *yaml.Node // module-specific config slice, may be nil
	Send   SendFunc
	Logger *zap.Logger
}

// CommandSpec declares a command contributed by a plugin.
type CommandSpec struct {
	Name       string
	Handler    Handler
	MasterOnly bool
	Cooldown   time.Duration
}

// Info declares what a plugin contributes to the registry.
type Info struct {
	Name        string
	Description string
	Commands    []CommandSpec
}

// Plugin is the unit of optional functionality loaded into the registry.
type Plugin interface {
	Info() Info
}

// LifecycleHandler is implemented by plugins that react to room lifecycle
// events. Plugins without lifecycle behaviour just don't implement it.
type LifecycleHandler interface {
	OnLifecycleEvent(event string, ctx *LifecycleContext) error
}

// Store persists runtime module state between restarts. All methods are
// best-effort; failures are logged by the caller, never fatal.
type Store interface {
	SaveModuleState(name string, enabled bool) error
	SaveCommandUse(command, sender string, usedAt time.Time) error
}

// Module is a loaded plugin plus its runtime enabled state.
type Module struct {
	name        string
	description string
	plugin      Plugin

	mu       sync.RWMutex
	enabled  bool
	commands []*Command
}

func (m *Module) Name() string        { return m.name }
func (m *Module) Description() string { return m.description }

func (m *Module) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

func (m *Module) SetEnabled(enabled bool) {
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()
}

// Commands returns the module's commands in declaration order.
func (m *Module) Commands() []*Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Command, len(m.commands))
	copy(out, m.commands)
	return out
}

// Lifecycle invokes the plugin's handler for the given event, if it has one.
// Panics inside the handler are recovered so one module can never abort a
// broadcast to the others.
func (m *Module) Lifecycle(event string, ctx *LifecycleContext) (err error) {
	lh, ok := m.plugin.(LifecycleHandler)
	if !ok {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Module: m.name, Value: r}
		}
	}()
	return lh.OnLifecycleEvent(event, ctx)
}

// Command is a named, authorizable action bound to a plugin handler.
type Command struct {
	name       string
	module     *Module
	handler    Handler
	masterOnly bool
	cooldown   time.Duration

	mu       sync.Mutex
	enabled  bool
	lastUsed map[string]time.Time // sender -> last authorized use
}

func (c *Command) Name() string            { return c.name }
func (c *Command) Module() *Module         { return c.module }
func (c *Command) MasterOnly() bool        { return c.masterOnly }
func (c *Command) Cooldown() time.Duration { return c.cooldown }

func (c *Command) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

func (c *Command) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()
}

// LastUsed returns when the sender last passed the gate for this command.
func (c *Command) LastUsed(sender string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.lastUsed[strings.ToLower(sender)]
	return t, ok
}

// MarkUsed records an authorized use by sender at t.
func (c *Command) MarkUsed(sender string, t time.Time) {
	c.mu.Lock()
	c.lastUsed[strings.ToLower(sender)] = t
	c.mu.Unlock()
}

// Execute runs the bound handler, recovering panics so a broken plugin
// cannot crash the process.
func (c *Command) Execute(ctx *Context) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			reply = ""
			err = &PanicError{Module: c.module.name, Command: c.name, Value: r}
		}
	}()
	return c.handler(ctx)
}

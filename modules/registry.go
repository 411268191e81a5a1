package modules

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry owns the set of loaded modules and the commands they expose.
type Registry struct {
	logger *zap.Logger

	mu       sync.RWMutex
	modules  []*Module // load order
	byName   map[string]*Module
	commands map[string]*Command
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:   logger,
		byName:   make(map[string]*Module),
		commands: make(map[string]*Command),
	}
}

// Load populates the registry from an ordered plugin list. A plugin whose
// module name or any command name collides with an existing registration is
// rejected and logged; loading continues with the remaining plugins. The
// returned *LoadError lists the rejections, nil if everything loaded.
func (r *Registry) Load(plugins ...Plugin) error {
	var rejected []string

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range plugins {
		info := p.Info()
		name := strings.ToLower(info.Name)

		if name == "" {
			r.logger.Error("Rejecting plugin with empty name")
			rejected = append(rejected, "(unnamed)")
			continue
		}
		if _, exists := r.byName[name]; exists {
			r.logger.Error("Rejecting duplicate module", zap.String("module", info.Name))
			rejected = append(rejected, info.Name)
			continue
		}

		collision := ""
		for _, spec := range info.Commands {
			if _, exists := r.commands[strings.ToLower(spec.Name)]; exists {
				collision = spec.Name
				break
			}
		}
		if collision != "" {
			r.logger.Error("Rejecting module with colliding command",
				zap.String("module", info.Name),
				zap.String("command", collision))
			rejected = append(rejected, info.Name+"/"+collision)
			continue
		}

		mod := &Module{
			name:        info.Name,
			description: info.Description,
			plugin:      p,
			enabled:     true,
		}
		for _, spec := range info.Commands {
			cmd := &Command{
				name:       spec.Name,
				module:     mod,
				handler:    spec.Handler,
				masterOnly: spec.MasterOnly,
				cooldown:   spec.Cooldown,
				enabled:    true,
				lastUsed:   make(map[string]time.Time),
			}
			mod.commands = append(mod.commands, cmd)
			r.commands[strings.ToLower(spec.Name)] = cmd
		}

		r.modules = append(r.modules, mod)
		r.byName[name] = mod
		r.logger.Debug("Loaded module",
			zap.String("module", info.Name),
			zap.Int("commands", len(info.Commands)))
	}

	if len(rejected) > 0 {
		return &LoadError{Rejected: rejected}
	}
	return nil
}

// Command looks up a command by name, case-insensitively.
func (r *Registry) Command(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[strings.ToLower(name)]
	return cmd, ok
}

// Module looks up a module by name, case-insensitively.
func (r *Registry) Module(name string) (*Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mod, ok := r.byName[strings.ToLower(name)]
	return mod, ok
}

// ForEach invokes visitor once per loaded module, in load order.
func (r *Registry) ForEach(visitor func(*Module)) {
	r.mu.RLock()
	mods := make([]*Module, len(r.modules))
	copy(mods, r.modules)
	r.mu.RUnlock()

	for _, m := range mods {
		visitor(m)
	}
}

// Broadcast fires a lifecycle event to every loaded module in load order.
// ctxFor builds the per-module context (config slice, send capability).
// A failing or panicking module never prevents delivery to the rest.
func (r *Registry) Broadcast(event string, ctxFor func(*Module) *LifecycleContext) {
	r.ForEach(func(m *Module) {
		if err := m.Lifecycle(event, ctxFor(m)); err != nil {
			r.logger.Error("Lifecycle callback failed",
				zap.String("module", m.Name()),
				zap.String("event", event),
				zap.Error(err))
		}
	})
}

// Restore applies persisted enabled state to loaded modules. Unknown names
// are ignored.
func (r *Registry) Restore(states map[string]bool) {
	for name, enabled := range states {
		if mod, ok := r.Module(name); ok {
			mod.SetEnabled(enabled)
			continue
		}
		if cmd, ok := r.Command(name); ok {
			cmd.SetEnabled(enabled)
		}
	}
}

// SeedUsage pre-populates cooldown stamps from persisted usage, keyed by
// command then sender. Unknown commands are ignored.
func (r *Registry) SeedUsage(usage map[string]map[string]time.Time) {
	for name, senders := range usage {
		cmd, ok := r.Command(name)
		if !ok {
			continue
		}
		for sender, t := range senders {
			cmd.MarkUsed(sender, t)
		}
	}
}

// Summary returns a human-readable count for startup diagnostics.
func (r *Registry) Summary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fmt.Sprintf("%d module(s) loaded with %d command(s)", len(r.modules), len(r.commands))
}

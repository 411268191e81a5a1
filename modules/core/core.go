// Package core provides the built-in administration module: runtime
// enable/disable of modules and commands, plus room-facing help output.
package core

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"roombot/modules"
)

// Module wires trusted toggles against the registry. Enable and disable are
// master-only; state changes are persisted when a store is configured.
type Module struct {
	registry *modules.Registry
	store    modules.Store // may be nil
	logger   *zap.Logger
}

func New(registry *modules.Registry, store modules.Store, logger *zap.Logger) *Module {
	return &Module{registry: registry, store: store, logger: logger}
}

func (m *Module) Info() modules.Info {
	return modules.Info{
		Name:        "core",
		Description: "Built-in module and command administration",
		Commands: []modules.CommandSpec{
			{Name: "enable", Handler: m.onEnable, MasterOnly: true},
			{Name: "disable", Handler: m.onDisable, MasterOnly: true},
			{Name: "modules", Handler: m.onModules},
			{Name: "help", Handler: m.onHelp},
		},
	}
}

func (m *Module) onEnable(ctx *modules.Context) (string, error) {
	return m.toggle(ctx, true)
}

func (m *Module) onDisable(ctx *modules.Context) (string, error) {
	return m.toggle(ctx, false)
}

// toggle flips a module or, failing that, a command by name.
func (m *Module) toggle(ctx *modules.Context, enabled bool) (string, error) {
	name := strings.TrimSpace(ctx.Args)
	if name == "" {
		return "Usage: enable|disable <module or command>", nil
	}

	if mod, ok := m.registry.Module(name); ok {
		mod.SetEnabled(enabled)
		m.persist(mod.Name(), enabled)
		return fmt.Sprintf("Module %s is now %s.", mod.Name(), state(enabled)), nil
	}
	if cmd, ok := m.registry.Command(name); ok {
		cmd.SetEnabled(enabled)
		m.persist(cmd.Name(), enabled)
		return fmt.Sprintf("Command %s is now %s.", cmd.Name(), state(enabled)), nil
	}
	return fmt.Sprintf("No module or command named %s.", name), nil
}

func (m *Module) persist(name string, enabled bool) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveModuleState(name, enabled); err != nil {
		m.logger.Warn("Failed to persist enabled state",
			zap.String("name", name),
			zap.Error(err))
	}
}

func (m *Module) onModules(ctx *modules.Context) (string, error) {
	var parts []string
	m.registry.ForEach(func(mod *modules.Module) {
		s := mod.Name()
		if !mod.Enabled() {
			s += " (disabled)"
		}
		parts = append(parts, s)
	})
	return "Loaded modules: " + strings.Join(parts, ", "), nil
}

func (m *Module) onHelp(ctx *modules.Context) (string, error) {
	arg := strings.TrimSpace(ctx.Args)
	if arg == "" {
		var names []string
		m.registry.ForEach(func(mod *modules.Module) {
			for _, cmd := range mod.Commands() {
				names = append(names, cmd.Name())
			}
		})
		return "Commands: " + strings.Join(names, ", "), nil
	}

	if mod, ok := m.registry.Module(arg); ok {
		return fmt.Sprintf("%s: %s", mod.Name(), mod.Description()), nil
	}
	if cmd, ok := m.registry.Command(arg); ok {
		return fmt.Sprintf("%s (module %s)", cmd.Name(), cmd.Module().Name()), nil
	}
	return fmt.Sprintf("No help for %s.", arg), nil
}

func state(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

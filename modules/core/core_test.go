package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"roombot/modules"
)

type echoPlugin struct{}

func (echoPlugin) Info() modules.Info {
	return modules.Info{
		Name:        "echo",
		Description: "Repeats what it is told",
		Commands: []modules.CommandSpec{
			{Name: "say", Handler: func(ctx *modules.Context) (string, error) { return ctx.Args, nil }},
		},
	}
}

type stateStore struct {
	saved map[string]bool
}

func (s *stateStore) SaveModuleState(name string, enabled bool) error {
	if s.saved == nil {
		s.saved = map[string]bool{}
	}
	s.saved[name] = enabled
	return nil
}

func (s *stateStore) SaveCommandUse(string, string, time.Time) error { return nil }

func newCore(t *testing.T, store modules.Store) (*modules.Registry, *Module) {
	t.Helper()
	registry := modules.NewRegistry(zap.NewNop())
	core := New(registry, store, zap.NewNop())
	require.NoError(t, registry.Load(core, echoPlugin{}))
	return registry, core
}

func TestToggleModule(t *testing.T) {
	store := &stateStore{}
	registry, core := newCore(t, store)

	reply, err := core.onDisable(&modules.Context{Args: "echo"})
	require.NoError(t, err)
	assert.Equal(t, "Module echo is now disabled.", reply)

	mod, _ := registry.Module("echo")
	assert.False(t, mod.Enabled())
	assert.Equal(t, map[string]bool{"echo": false}, store.saved)

	reply, err = core.onEnable(&modules.Context{Args: "Echo"})
	require.NoError(t, err)
	assert.Equal(t, "Module echo is now enabled.", reply)
	assert.True(t, mod.Enabled())
}

func TestToggleCommand(t *testing.T) {
	registry, core := newCore(t, nil)

	reply, err := core.onDisable(&modules.Context{Args: "say"})
	require.NoError(t, err)
	assert.Equal(t, "Command say is now disabled.", reply)

	cmd, _ := registry.Command("say")
	assert.False(t, cmd.Enabled())
}

func TestToggleUnknownName(t *testing.T) {
	_, core := newCore(t, nil)

	reply, err := core.onDisable(&modules.Context{Args: "ghost"})
	require.NoError(t, err)
	assert.Equal(t, "No module or command named ghost.", reply)

	reply, err = core.onEnable(&modules.Context{Args: ""})
	require.NoError(t, err)
	assert.Equal(t, "Usage: enable|disable <module or command>", reply)
}

func TestModulesListing(t *testing.T) {
	registry, core := newCore(t, nil)

	mod, _ := registry.Module("echo")
	mod.SetEnabled(false)

	reply, err := core.onModules(&modules.Context{})
	require.NoError(t, err)
	assert.Equal(t, "Loaded modules: core, echo (disabled)", reply)
}

func TestHelp(t *testing.T) {
	_, core := newCore(t, nil)

	t.Run("bare lists every command", func(t *testing.T) {
		reply, err := core.onHelp(&modules.Context{})
		require.NoError(t, err)
		assert.Equal(t, "Commands: enable, disable, modules, help, say", reply)
	})

	t.Run("module name gives its description", func(t *testing.T) {
		reply, err := core.onHelp(&modules.Context{Args: "echo"})
		require.NoError(t, err)
		assert.Equal(t, "echo: Repeats what it is told", reply)
	})

	t.Run("command name names its module", func(t *testing.T) {
		reply, err := core.onHelp(&modules.Context{Args: "say"})
		require.NoError(t, err)
		assert.Equal(t, "say (module echo)", reply)
	})

	t.Run("unknown name", func(t *testing.T) {
		reply, err := core.onHelp(&modules.Context{Args: "ghost"})
		require.NoError(t, err)
		assert.Equal(t, "No help for ghost.", reply)
	})
}

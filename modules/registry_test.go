package modules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePlugin struct {
	info      Info
	lifecycle func(event string, ctx *LifecycleContext) error
}

func (p *fakePlugin) Info() Info { return p.info }

func (p *fakePlugin) OnLifecycleEvent(event string, ctx *LifecycleContext) error {
	if p.lifecycle == nil {
		return nil
	}
	return p.lifecycle(event, ctx)
}

func noopHandler(ctx *Context) (string, error) { return "", nil }

func newPlugin(name string, commands ...string) *fakePlugin {
	info := Info{Name: name, Description: name + " plugin"}
	for _, c := range commands {
		info.Commands = append(info.Commands, CommandSpec{Name: c, Handler: noopHandler})
	}
	return &fakePlugin{info: info}
}

func TestRegistryLoad(t *testing.T) {
	t.Run("loads modules and commands", func(t *testing.T) {
		r := NewRegistry(zap.NewNop())
		err := r.Load(newPlugin("alpha", "ping"), newPlugin("beta", "pong", "echo"))
		require.NoError(t, err)

		assert.Equal(t, "2 module(s) loaded with 3 command(s)", r.Summary())
	})

	t.Run("rejects duplicate module name but keeps loading", func(t *testing.T) {
		r := NewRegistry(zap.NewNop())
		err := r.Load(newPlugin("alpha", "ping"), newPlugin("Alpha", "other"), newPlugin("beta", "pong"))

		var loadErr *LoadError
		require.ErrorAs(t, err, &loadErr)
		assert.Equal(t, []string{"Alpha"}, loadErr.Rejected)

		_, ok := r.Module("beta")
		assert.True(t, ok, "later plugin should still load")
		_, ok = r.Command("other")
		assert.False(t, ok, "rejected plugin's commands must not register")
	})

	t.Run("rejects command name collision", func(t *testing.T) {
		r := NewRegistry(zap.NewNop())
		err := r.Load(newPlugin("alpha", "ping"), newPlugin("beta", "PING"))

		var loadErr *LoadError
		require.ErrorAs(t, err, &loadErr)
		assert.Equal(t, []string{"beta/PING"}, loadErr.Rejected)
	})
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.Load(newPlugin("Alpha", "Ping")))

	t.Run("module lookup is case-insensitive", func(t *testing.T) {
		for _, name := range []string{"alpha", "ALPHA", "Alpha"} {
			mod, ok := r.Module(name)
			require.True(t, ok, name)
			assert.Equal(t, "Alpha", mod.Name())
		}
	})

	t.Run("command lookup is case-insensitive", func(t *testing.T) {
		cmd, ok := r.Command("pInG")
		require.True(t, ok)
		assert.Equal(t, "Ping", cmd.Name())
		assert.Equal(t, "Alpha", cmd.Module().Name())
	})

	t.Run("absent names miss", func(t *testing.T) {
		_, ok := r.Module("gamma")
		assert.False(t, ok)
		_, ok = r.Command("nope")
		assert.False(t, ok)
	})
}

func TestRegistryForEachOrder(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.Load(newPlugin("one"), newPlugin("two"), newPlugin("three")))

	var visited []string
	r.ForEach(func(m *Module) { visited = append(visited, m.Name()) })
	assert.Equal(t, []string{"one", "two", "three"}, visited)
}

func TestRegistryBroadcast(t *testing.T) {
	t.Run("panicking module does not abort broadcast", func(t *testing.T) {
		r := NewRegistry(zap.NewNop())

		bad := newPlugin("bad")
		bad.lifecycle = func(event string, ctx *LifecycleContext) error {
			panic("boom")
		}
		var reached bool
		good := newPlugin("good")
		good.lifecycle = func(event string, ctx *LifecycleContext) error {
			reached = true
			return nil
		}
		require.NoError(t, r.Load(bad, good))

		r.Broadcast(EventJoin, func(m *Module) *LifecycleContext {
			return &LifecycleContext{Room: "lobby", Module: m}
		})
		assert.True(t, reached, "broadcast must continue past a panicking module")
	})

	t.Run("context carries the module handle", func(t *testing.T) {
		r := NewRegistry(zap.NewNop())

		var got *Module
		p := newPlugin("alpha")
		p.lifecycle = func(event string, ctx *LifecycleContext) error {
			got = ctx.Module
			return nil
		}
		require.NoError(t, r.Load(p))

		r.Broadcast(EventJoin, func(m *Module) *LifecycleContext {
			return &LifecycleContext{Room: "lobby", Module: m}
		})
		require.NotNil(t, got)
		assert.Equal(t, "alpha", got.Name())
	})
}

func TestRegistryRestoreAndSeed(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.Load(newPlugin("alpha", "ping")))

	r.Restore(map[string]bool{"alpha": false, "unknown": true})
	mod, _ := r.Module("alpha")
	assert.False(t, mod.Enabled())

	stamp := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	r.SeedUsage(map[string]map[string]time.Time{
		"ping":    {"alice": stamp},
		"unknown": {"bob": stamp},
	})
	cmd, _ := r.Command("ping")
	got, ok := cmd.LastUsed("alice")
	require.True(t, ok)
	assert.Equal(t, stamp, got)
}

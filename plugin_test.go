package botkit

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/botkit/store"
)

type stubPlugin struct {
	name      string
	version   string
	deps      []string
	onLoad    func(ctx context.Context, r *PluginRegistrar) error
	onUnload  func(ctx context.Context) error
	onEnable  func(ctx context.Context) error
	onDisable func(ctx context.Context) error
}

func (p *stubPlugin) Name() string { return p.name }

func (p *stubPlugin) Version() string {
	if p.version == "" {
		return "0.1.0"
	}
	return p.version
}

func (p *stubPlugin) OnLoad(ctx context.Context, r *PluginRegistrar) error {
	if p.onLoad == nil {
		return nil
	}
	return p.onLoad(ctx, r)
}

func (p *stubPlugin) Dependencies() []string { return p.deps }

func (p *stubPlugin) OnUnload(ctx context.Context) error {
	if p.onUnload == nil {
		return nil
	}
	return p.onUnload(ctx)
}

func (p *stubPlugin) OnEnable(ctx context.Context) error {
	if p.onEnable == nil {
		return nil
	}
	return p.onEnable(ctx)
}

func (p *stubPlugin) OnDisable(ctx context.Context) error {
	if p.onDisable == nil {
		return nil
	}
	return p.onDisable(ctx)
}

type pluginEnv struct {
	registry *Registry
	router   *Router
	st       *store.Memory
	diags    *diagRecorder
	mgr      *Manager
}

func newPluginEnv() *pluginEnv {
	env := &pluginEnv{
		registry: NewRegistry(),
		st:       store.NewMemory(),
		diags:    &diagRecorder{},
	}
	env.router = NewRouter(env.diags.sink(), zerolog.Nop())
	env.mgr = NewManager(ManagerConfig{
		Registry:    env.registry,
		Router:      env.router,
		Store:       env.st,
		Diagnostics: env.diags.sink(),
		Logger:      zerolog.Nop(),
	})
	return env
}

func TestPluginLoadRegistersEverything(t *testing.T) {
	env := newPluginEnv()
	plug := &stubPlugin{
		name:    "social",
		version: "1.2.0",
		onLoad: func(_ context.Context, r *PluginRegistrar) error {
			if err := r.Register(testCommand("greet", "hi")); err != nil {
				return err
			}
			r.Subscribe("memberJoin", func(context.Context, *Context, ...any) error { return nil })
			return nil
		},
	}

	require.NoError(t, env.mgr.Load(context.Background(), plug))

	assert.NotNil(t, env.registry.Resolve("greet"))
	assert.NotNil(t, env.registry.Resolve("hi"))
	assert.Equal(t, "social", env.registry.Owner("greet"))
	assert.Equal(t, 1, env.router.HandlerCount("memberJoin"))
	assert.True(t, env.mgr.Enabled("social"))
	assert.Equal(t, StateLoaded, env.mgr.State("social"))
	assert.Equal(t, []PluginInfo{{Name: "social", Version: "1.2.0", Enabled: true}}, env.mgr.List())
}

func TestPluginLoadTwiceFails(t *testing.T) {
	env := newPluginEnv()
	require.NoError(t, env.mgr.Load(context.Background(), &stubPlugin{name: "social"}))

	err := env.mgr.Load(context.Background(), &stubPlugin{name: "social"})
	assert.ErrorIs(t, err, ErrPluginExists)
}

func TestPluginLoadChecksDependenciesFirst(t *testing.T) {
	env := newPluginEnv()
	loaded := false
	plug := &stubPlugin{
		name: "shop",
		deps: []string{"economy"},
		onLoad: func(context.Context, *PluginRegistrar) error {
			loaded = true
			return nil
		},
	}

	err := env.mgr.Load(context.Background(), plug)

	require.ErrorIs(t, err, ErrMissingDependency)
	assert.False(t, loaded, "a plugin with missing dependencies never gets to register")
	assert.Equal(t, StateUnloaded, env.mgr.State("shop"))

	require.NoError(t, env.mgr.Load(context.Background(), &stubPlugin{name: "economy"}))
	assert.NoError(t, env.mgr.Load(context.Background(), plug))
}

func TestPluginFailedLoadLeavesNothingBehind(t *testing.T) {
	env := newPluginEnv()
	plug := &stubPlugin{
		name: "social",
		onLoad: func(_ context.Context, r *PluginRegistrar) error {
			if err := r.Register(testCommand("greet")); err != nil {
				return err
			}
			r.Subscribe("memberJoin", func(context.Context, *Context, ...any) error { return nil })
			return errors.New("init failed")
		},
	}

	err := env.mgr.Load(context.Background(), plug)

	require.ErrorContains(t, err, "init failed")
	assert.Nil(t, env.registry.Resolve("greet"))
	assert.Zero(t, env.router.HandlerCount("memberJoin"))
	assert.Equal(t, StateUnloaded, env.mgr.State("social"))

	// The name is free again once the wreckage is cleared.
	assert.NoError(t, env.mgr.Load(context.Background(), &stubPlugin{name: "social"}))
}

func TestPluginLoadPanicIsContained(t *testing.T) {
	env := newPluginEnv()
	plug := &stubPlugin{
		name: "social",
		onLoad: func(_ context.Context, r *PluginRegistrar) error {
			if err := r.Register(testCommand("greet")); err != nil {
				return err
			}
			panic("bad init")
		},
	}

	err := env.mgr.Load(context.Background(), plug)

	require.ErrorContains(t, err, "panic")
	assert.Nil(t, env.registry.Resolve("greet"))
	assert.Equal(t, StateUnloaded, env.mgr.State("social"))
}

func TestPluginUnloadRetractsEverything(t *testing.T) {
	env := newPluginEnv()
	unloaded := false
	plug := &stubPlugin{
		name: "social",
		onLoad: func(_ context.Context, r *PluginRegistrar) error {
			if err := r.Register(testCommand("greet", "hi")); err != nil {
				return err
			}
			r.Subscribe("memberJoin", func(context.Context, *Context, ...any) error { return nil })
			return nil
		},
		onUnload: func(context.Context) error {
			unloaded = true
			return nil
		},
	}
	require.NoError(t, env.mgr.Load(context.Background(), plug))

	require.NoError(t, env.mgr.Unload(context.Background(), "social"))

	assert.True(t, unloaded)
	assert.Nil(t, env.registry.Resolve("greet"))
	assert.Nil(t, env.registry.Resolve("hi"))
	assert.Zero(t, env.router.HandlerCount("memberJoin"))
	assert.Equal(t, StateUnloaded, env.mgr.State("social"))
}

func TestPluginUnloadErrorStillTearsDown(t *testing.T) {
	env := newPluginEnv()
	plug := &stubPlugin{
		name: "social",
		onLoad: func(_ context.Context, r *PluginRegistrar) error {
			return r.Register(testCommand("greet"))
		},
		onUnload: func(context.Context) error {
			return errors.New("cleanup failed")
		},
	}
	require.NoError(t, env.mgr.Load(context.Background(), plug))

	err := env.mgr.Unload(context.Background(), "social")

	require.ErrorContains(t, err, "cleanup failed")
	assert.Nil(t, env.registry.Resolve("greet"), "teardown completes even when the hook fails")
	assert.Equal(t, StateUnloaded, env.mgr.State("social"))
}

func TestPluginUnloadRefusesWhileDependentsLoaded(t *testing.T) {
	env := newPluginEnv()
	require.NoError(t, env.mgr.Load(context.Background(), &stubPlugin{name: "economy"}))
	require.NoError(t, env.mgr.Load(context.Background(), &stubPlugin{name: "shop", deps: []string{"economy"}}))

	err := env.mgr.Unload(context.Background(), "economy")
	require.ErrorIs(t, err, ErrHasDependents)
	assert.Equal(t, StateLoaded, env.mgr.State("economy"))

	assert.NoError(t, env.mgr.ForceUnload(context.Background(), "economy"))
	assert.Equal(t, StateUnloaded, env.mgr.State("economy"))
}

func TestPluginEnableDisableHooks(t *testing.T) {
	env := newPluginEnv()
	enabled, disabled := 0, 0
	plug := &stubPlugin{
		name:      "social",
		onEnable:  func(context.Context) error { enabled++; return nil },
		onDisable: func(context.Context) error { disabled++; return nil },
	}
	require.NoError(t, env.mgr.Load(context.Background(), plug))

	require.NoError(t, env.mgr.Disable(context.Background(), "social"))
	assert.False(t, env.mgr.Enabled("social"))
	assert.Equal(t, 1, disabled)

	require.NoError(t, env.mgr.Disable(context.Background(), "social"))
	assert.Equal(t, 1, disabled, "disabling twice is a no-op")

	require.NoError(t, env.mgr.Enable(context.Background(), "social"))
	assert.True(t, env.mgr.Enabled("social"))
	assert.Equal(t, 1, enabled)

	assert.ErrorIs(t, env.mgr.Enable(context.Background(), "ghost"), ErrUnknownPlugin)
}

func TestPluginDisableMutesSubscriptions(t *testing.T) {
	env := newPluginEnv()
	calls := 0
	plug := &stubPlugin{
		name: "social",
		onLoad: func(_ context.Context, r *PluginRegistrar) error {
			r.Subscribe("memberJoin", func(context.Context, *Context, ...any) error {
				calls++
				return nil
			})
			return nil
		},
	}
	require.NoError(t, env.mgr.Load(context.Background(), plug))
	require.NoError(t, env.mgr.Disable(context.Background(), "social"))

	env.router.Emit(context.Background(), "memberJoin", nil)
	assert.Zero(t, calls)
	assert.Equal(t, 1, env.router.HandlerCount("memberJoin"), "muted, not removed")

	require.NoError(t, env.mgr.Enable(context.Background(), "social"))
	env.router.Emit(context.Background(), "memberJoin", nil)
	assert.Equal(t, 1, calls)
}

func TestPluginReloadSwapsRegistrations(t *testing.T) {
	env := newPluginEnv()
	generation := 0
	var ticks []int
	plug := &stubPlugin{
		name: "social",
		onLoad: func(_ context.Context, r *PluginRegistrar) error {
			generation++
			gen := generation
			if err := r.Register(testCommand(fmt.Sprintf("greet-v%d", gen))); err != nil {
				return err
			}
			r.Subscribe("tick", func(context.Context, *Context, ...any) error {
				ticks = append(ticks, gen)
				return nil
			})
			return nil
		},
	}
	require.NoError(t, env.mgr.Load(context.Background(), plug))
	require.NotNil(t, env.registry.Resolve("greet-v1"))

	require.NoError(t, env.mgr.Reload(context.Background(), "social"))

	assert.Nil(t, env.registry.Resolve("greet-v1"))
	assert.NotNil(t, env.registry.Resolve("greet-v2"))
	assert.Equal(t, "social", env.registry.Owner("greet-v2"))

	env.router.Emit(context.Background(), "tick", nil)
	assert.Equal(t, []int{2}, ticks, "only the reloaded generation's handlers remain")
	assert.Equal(t, 1, env.router.HandlerCount("tick"))
}

func TestPluginReloadFailureKeepsOldRegistrations(t *testing.T) {
	env := newPluginEnv()
	fail := false
	calls := 0
	plug := &stubPlugin{
		name: "social",
		onLoad: func(_ context.Context, r *PluginRegistrar) error {
			if fail {
				return errors.New("broken rewrite")
			}
			if err := r.Register(testCommand("greet")); err != nil {
				return err
			}
			r.Subscribe("tick", func(context.Context, *Context, ...any) error {
				calls++
				return nil
			})
			return nil
		},
	}
	require.NoError(t, env.mgr.Load(context.Background(), plug))

	fail = true
	err := env.mgr.Reload(context.Background(), "social")

	require.ErrorContains(t, err, "broken rewrite")
	assert.NotNil(t, env.registry.Resolve("greet"), "a failed reload leaves the old set live")
	env.router.Emit(context.Background(), "tick", nil)
	assert.Equal(t, 1, calls)

	// The plugin is not stuck busy after the failure.
	fail = false
	assert.NoError(t, env.mgr.Reload(context.Background(), "social"))
}

func TestPluginReloadCollisionKeepsOldRegistrations(t *testing.T) {
	env := newPluginEnv()
	wantHost := false
	plug := &stubPlugin{
		name: "social",
		onLoad: func(_ context.Context, r *PluginRegistrar) error {
			if wantHost {
				return r.Register(testCommand("host"))
			}
			return r.Register(testCommand("greet"))
		},
	}
	require.NoError(t, env.mgr.Load(context.Background(), plug))
	require.NoError(t, env.registry.Register(testCommand("host")))

	wantHost = true
	err := env.mgr.Reload(context.Background(), "social")

	require.ErrorIs(t, err, ErrCommandExists)
	assert.NotNil(t, env.registry.Resolve("greet"))
	assert.Empty(t, env.registry.Owner("host"), "the host's command is untouched")
}

func TestPluginReloadUnloadErrorStillSwaps(t *testing.T) {
	env := newPluginEnv()
	generation := 0
	plug := &stubPlugin{
		name: "social",
		onLoad: func(_ context.Context, r *PluginRegistrar) error {
			generation++
			return r.Register(testCommand(fmt.Sprintf("greet-v%d", generation)))
		},
		onUnload: func(context.Context) error {
			return errors.New("old instance would not die")
		},
	}
	require.NoError(t, env.mgr.Load(context.Background(), plug))

	err := env.mgr.Reload(context.Background(), "social")

	require.ErrorContains(t, err, "old instance would not die")
	assert.NotNil(t, env.registry.Resolve("greet-v2"), "the swap proceeds; the error is reported, not fatal")
	assert.Nil(t, env.registry.Resolve("greet-v1"))
}

func TestPluginConfigRoundTrip(t *testing.T) {
	type socialConfig struct {
		Greeting string `json:"greeting"`
	}

	env := newPluginEnv()
	var loaded socialConfig
	var found bool
	plug := &stubPlugin{
		name: "social",
		onLoad: func(_ context.Context, r *PluginRegistrar) error {
			if err := r.SaveConfig(socialConfig{Greeting: "hey there"}); err != nil {
				return err
			}
			var err error
			found, err = r.LoadConfig(&loaded)
			return err
		},
	}

	require.NoError(t, env.mgr.Load(context.Background(), plug))

	assert.True(t, found)
	assert.Equal(t, "hey there", loaded.Greeting)

	var onDisk socialConfig
	ok, err := env.st.Get(store.Scope{}, "plugin:social", &onDisk)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hey there", onDisk.Greeting)
}

func TestPluginListIsSorted(t *testing.T) {
	env := newPluginEnv()
	require.NoError(t, env.mgr.Load(context.Background(), &stubPlugin{name: "shop"}))
	require.NoError(t, env.mgr.Load(context.Background(), &stubPlugin{name: "economy"}))

	var names []string
	for _, info := range env.mgr.List() {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"economy", "shop"}, names)
}

func TestPluginUnknownNameErrors(t *testing.T) {
	env := newPluginEnv()

	assert.ErrorIs(t, env.mgr.Unload(context.Background(), "ghost"), ErrUnknownPlugin)
	assert.ErrorIs(t, env.mgr.Reload(context.Background(), "ghost"), ErrUnknownPlugin)
	assert.Equal(t, StateUnloaded, env.mgr.State("ghost"))
	assert.False(t, env.mgr.Enabled("ghost"))
}

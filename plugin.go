package botkit

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/keshon/botkit/store"
)

// Plugin is a named, versioned bundle of commands, events and configuration.
// OnLoad registers everything through the supplied registrar so the manager
// can retract it precisely later.
type Plugin interface {
	Name() string
	Version() string
	OnLoad(ctx context.Context, r *PluginRegistrar) error
}

// DependencyProvider declares plugins that must be loaded first.
type DependencyProvider interface {
	Dependencies() []string
}

// UnloadHandler runs before the manager retracts the plugin's registrations.
type UnloadHandler interface {
	OnUnload(ctx context.Context) error
}

// EnableHandler is notified after the plugin is switched on.
type EnableHandler interface {
	OnEnable(ctx context.Context) error
}

// DisableHandler is notified after the plugin is switched off.
type DisableHandler interface {
	OnDisable(ctx context.Context) error
}

// PluginState tracks where a plugin is in its lifecycle. Only the manager
// moves a plugin between states.
type PluginState int

const (
	StateUnloaded PluginState = iota
	StateLoading
	StateLoaded
	StateUnloading
)

func (s PluginState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateUnloading:
		return "unloading"
	default:
		return "unloaded"
	}
}

// PluginInfo is the public listing entry for one plugin.
type PluginInfo struct {
	Name    string
	Version string
	Enabled bool
}

type pluginRecord struct {
	plugin   Plugin
	state    PluginState
	enabled  bool
	busy     bool
	commands []string
	unsubs   []func()
}

// ManagerConfig wires a Manager. Registry and Router are required; Store may
// be nil when plugins keep no persistent configuration.
type ManagerConfig struct {
	Registry    *Registry
	Router      *Router
	Store       store.Store
	Diagnostics DiagnosticFunc
	Logger      zerolog.Logger
}

// Manager owns the plugin map and drives every lifecycle transition. It tags
// each registration with the owning plugin's name, which is what makes
// unload and reload exact.
type Manager struct {
	registry *Registry
	router   *Router
	store    store.Store
	diag     DiagnosticFunc
	log      zerolog.Logger

	mu      sync.Mutex
	records map[string]*pluginRecord
}

// NewManager builds a manager and binds the router's plugin-mute check.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		registry: cfg.Registry,
		router:   cfg.Router,
		store:    cfg.Store,
		diag:     cfg.Diagnostics,
		log:      cfg.Logger,
		records:  make(map[string]*pluginRecord),
	}
	if m.router != nil {
		m.router.bindOwnerEnabled(m.Enabled)
	}
	return m
}

// Load verifies dependencies, runs OnLoad through a live registrar, and
// marks the plugin loaded and enabled. A failed OnLoad leaves nothing
// behind: everything already registered under the plugin's name is retracted
// before the error returns.
func (m *Manager) Load(ctx context.Context, p Plugin) error {
	name := p.Name()

	m.mu.Lock()
	if _, ok := m.records[name]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", name, ErrPluginExists)
	}
	for _, dep := range pluginDependencies(p) {
		rec, ok := m.records[dep]
		if !ok || rec.state != StateLoaded {
			m.mu.Unlock()
			return fmt.Errorf("%s needs %s: %w", name, dep, ErrMissingDependency)
		}
	}
	rec := &pluginRecord{plugin: p, state: StateLoading, enabled: true, busy: true}
	m.records[name] = rec
	m.mu.Unlock()

	reg := &PluginRegistrar{m: m, name: name, rec: rec}
	err := safeLifecycle(func() error { return p.OnLoad(ctx, reg) })

	m.mu.Lock()
	if err != nil {
		unsubs := m.retractLocked(rec)
		delete(m.records, name)
		m.mu.Unlock()
		for _, unsub := range unsubs {
			unsub()
		}
		return fmt.Errorf("load plugin %s: %w", name, err)
	}
	rec.state = StateLoaded
	rec.busy = false
	m.mu.Unlock()

	m.log.Info().Str("plugin", name).Str("version", p.Version()).Msg("plugin loaded")
	return nil
}

// Unload refuses while loaded plugins depend on name; ForceUnload skips that
// check. Teardown always completes even when OnUnload fails, and the error
// still reaches the caller.
func (m *Manager) Unload(ctx context.Context, name string) error {
	return m.unload(ctx, name, false)
}

// ForceUnload unloads ignoring dependents.
func (m *Manager) ForceUnload(ctx context.Context, name string) error {
	return m.unload(ctx, name, true)
}

func (m *Manager) unload(ctx context.Context, name string, force bool) error {
	m.mu.Lock()
	rec, err := m.loadedRecordLocked(name)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if !force {
		if deps := m.dependentsLocked(name); len(deps) > 0 {
			m.mu.Unlock()
			return fmt.Errorf("%s is needed by %v: %w", name, deps, ErrHasDependents)
		}
	}
	rec.state = StateUnloading
	rec.busy = true
	m.mu.Unlock()

	var unloadErr error
	if u, ok := rec.plugin.(UnloadHandler); ok {
		unloadErr = safeLifecycle(func() error { return u.OnUnload(ctx) })
	}

	m.mu.Lock()
	unsubs := m.retractLocked(rec)
	delete(m.records, name)
	m.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}

	m.log.Info().Str("plugin", name).Msg("plugin unloaded")
	if unloadErr != nil {
		return fmt.Errorf("unload plugin %s: %w", name, unloadErr)
	}
	return nil
}

// Enable switches the plugin on and notifies it. Enabling an enabled plugin
// is a no-op.
func (m *Manager) Enable(ctx context.Context, name string) error {
	rec, err := m.setEnabled(name, true)
	if err != nil || rec == nil {
		return err
	}
	if h, ok := rec.plugin.(EnableHandler); ok {
		if err := safeLifecycle(func() error { return h.OnEnable(ctx) }); err != nil {
			return fmt.Errorf("enable plugin %s: %w", name, err)
		}
	}
	return nil
}

// Disable switches the plugin off: the dispatcher treats its commands as
// unregistered and the router mutes its subscriptions, but nothing is
// removed, so Enable is cheap.
func (m *Manager) Disable(ctx context.Context, name string) error {
	rec, err := m.setEnabled(name, false)
	if err != nil || rec == nil {
		return err
	}
	if h, ok := rec.plugin.(DisableHandler); ok {
		if err := safeLifecycle(func() error { return h.OnDisable(ctx) }); err != nil {
			return fmt.Errorf("disable plugin %s: %w", name, err)
		}
	}
	return nil
}

// setEnabled flips the flag; a nil record return means the state already
// matched and no hook should fire.
func (m *Manager) setEnabled(name string, enabled bool) (*pluginRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.loadedRecordLocked(name)
	if err != nil {
		return nil, err
	}
	if rec.enabled == enabled {
		return nil, nil
	}
	rec.enabled = enabled
	m.log.Info().Str("plugin", name).Bool("enabled", enabled).Msg("plugin toggled")
	return rec, nil
}

// Reload rebuilds the plugin's registrations atomically. OnLoad runs first
// against a shadow set that is validated but not applied; only when it
// succeeds does the manager retract the old registrations and apply the new
// ones. A failed OnLoad leaves the previous registrations untouched.
func (m *Manager) Reload(ctx context.Context, name string) error {
	m.mu.Lock()
	rec, err := m.loadedRecordLocked(name)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	rec.busy = true
	m.mu.Unlock()

	done := func() {
		m.mu.Lock()
		rec.busy = false
		m.mu.Unlock()
	}

	staged := &stagedSet{names: make(map[string]bool)}
	reg := &PluginRegistrar{m: m, name: name, rec: rec, staged: staged}
	if err := safeLifecycle(func() error { return rec.plugin.OnLoad(ctx, reg) }); err != nil {
		done()
		return fmt.Errorf("reload plugin %s: %w", name, err)
	}

	var unloadErr error
	if u, ok := rec.plugin.(UnloadHandler); ok {
		unloadErr = safeLifecycle(func() error { return u.OnUnload(ctx) })
	}

	m.mu.Lock()
	// Commands swap in one registry transaction; on failure the old set
	// stays live and the old subscriptions are never touched.
	if err := m.registry.replaceOwned(name, staged.commands); err != nil {
		rec.busy = false
		m.mu.Unlock()
		return fmt.Errorf("reload plugin %s: %w", name, err)
	}
	oldUnsubs := rec.unsubs
	rec.unsubs = nil
	rec.commands = rec.commands[:0]
	for _, c := range staged.commands {
		rec.commands = append(rec.commands, c.Name)
	}
	m.mu.Unlock()

	// Router churn happens outside m.mu because the router calls back into
	// Enabled. The busy flag keeps other lifecycle ops off this plugin
	// meanwhile.
	for _, unsub := range oldUnsubs {
		unsub()
	}
	newUnsubs := make([]func(), 0, len(staged.subs))
	for _, s := range staged.subs {
		if s.anyFn != nil {
			newUnsubs = append(newUnsubs, m.router.subscribeAny(s.anyFn, name))
			continue
		}
		newUnsubs = append(newUnsubs, m.router.subscribe(s.event, s.fn, s.once, name))
	}

	m.mu.Lock()
	rec.unsubs = newUnsubs
	rec.busy = false
	m.mu.Unlock()

	m.log.Info().Str("plugin", name).Msg("plugin reloaded")
	if unloadErr != nil {
		return fmt.Errorf("reload plugin %s: old instance unload: %w", name, unloadErr)
	}
	return nil
}

// retractLocked drops the record's commands from the registry and hands back
// its router unsubscribers. Callers hold m.mu and run the returned functions
// after releasing it; the router calls back into Enabled, so unsubscribing
// under m.mu would invert lock order against Emit.
func (m *Manager) retractLocked(rec *pluginRecord) []func() {
	for _, name := range rec.commands {
		if err := m.registry.Unregister(name); err != nil {
			m.diag.emit(Diagnostic{Stage: StagePlugin, Command: name, Err: err})
		}
	}
	unsubs := rec.unsubs
	rec.commands = nil
	rec.unsubs = nil
	return unsubs
}

// Enabled reports whether the plugin is loaded and switched on. The
// dispatcher and router consult this on every hit.
func (m *Manager) Enabled(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[name]
	return ok && rec.state == StateLoaded && rec.enabled
}

// State returns the plugin's lifecycle state; unknown plugins are Unloaded.
func (m *Manager) State(name string) PluginState {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[name]
	if !ok {
		return StateUnloaded
	}
	return rec.state
}

// List describes every known plugin, sorted by name.
func (m *Manager) List() []PluginInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := make([]PluginInfo, 0, len(m.records))
	for name, rec := range m.records {
		list = append(list, PluginInfo{Name: name, Version: rec.plugin.Version(), Enabled: rec.enabled})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// loadedRecordLocked fetches a record that is loaded and idle. Callers hold
// m.mu.
func (m *Manager) loadedRecordLocked(name string) (*pluginRecord, error) {
	rec, ok := m.records[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownPlugin)
	}
	if rec.busy || rec.state != StateLoaded {
		return nil, fmt.Errorf("plugin %s is %s", name, rec.state)
	}
	return rec, nil
}

// dependentsLocked lists loaded plugins that declare name as a dependency.
// Callers hold m.mu.
func (m *Manager) dependentsLocked(name string) []string {
	var deps []string
	for other, rec := range m.records {
		if other == name || rec.state != StateLoaded {
			continue
		}
		if slices.Contains(pluginDependencies(rec.plugin), name) {
			deps = append(deps, other)
		}
	}
	sort.Strings(deps)
	return deps
}

func pluginDependencies(p Plugin) []string {
	if d, ok := p.(DependencyProvider); ok {
		return d.Dependencies()
	}
	return nil
}

// safeLifecycle contains panics from plugin callbacks; lifecycle errors are
// never swallowed, only normalized.
func safeLifecycle(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicErr(r)
		}
	}()
	return fn()
}

// stagedSet buffers a reload's registrations until the swap.
type stagedSet struct {
	commands []*Command
	subs     []stagedSub
	names    map[string]bool
}

type stagedSub struct {
	event string
	once  bool
	fn    EventHandler
	anyFn AnyHandler
}

// PluginRegistrar is the write surface a plugin sees during OnLoad. In live
// mode it registers immediately under the plugin's name; during a reload it
// validates into the shadow set instead.
type PluginRegistrar struct {
	m      *Manager
	name   string
	rec    *pluginRecord
	staged *stagedSet
}

// Register adds a command owned by the plugin.
func (r *PluginRegistrar) Register(c *Command) error {
	if r.staged != nil {
		if err := r.m.registry.validateReplacement(c, r.name); err != nil {
			return err
		}
		if err := r.staged.reserve(c); err != nil {
			return err
		}
		r.staged.commands = append(r.staged.commands, c)
		return nil
	}

	if err := r.m.registry.register(c, r.name); err != nil {
		return err
	}
	r.m.mu.Lock()
	r.rec.commands = append(r.rec.commands, c.Name)
	r.m.mu.Unlock()
	return nil
}

// Subscribe adds an event handler owned by the plugin.
func (r *PluginRegistrar) Subscribe(event string, fn EventHandler) {
	r.addSub(stagedSub{event: event, fn: fn})
}

// SubscribeOnce adds a single-delivery handler owned by the plugin.
func (r *PluginRegistrar) SubscribeOnce(event string, fn EventHandler) {
	r.addSub(stagedSub{event: event, once: true, fn: fn})
}

// SubscribeAny adds a wildcard observer owned by the plugin.
func (r *PluginRegistrar) SubscribeAny(fn AnyHandler) {
	r.addSub(stagedSub{anyFn: fn})
}

func (r *PluginRegistrar) addSub(s stagedSub) {
	if r.staged != nil {
		r.staged.subs = append(r.staged.subs, s)
		return
	}

	var unsub func()
	if s.anyFn != nil {
		unsub = r.m.router.subscribeAny(s.anyFn, r.name)
	} else {
		unsub = r.m.router.subscribe(s.event, s.fn, s.once, r.name)
	}
	r.m.mu.Lock()
	r.rec.unsubs = append(r.rec.unsubs, unsub)
	r.m.mu.Unlock()
}

// LoadConfig reads the plugin's private configuration blob into out,
// reporting whether one was stored.
func (r *PluginRegistrar) LoadConfig(out any) (bool, error) {
	if r.m.store == nil {
		return false, nil
	}
	return r.m.store.Get(store.Scope{}, "plugin:"+r.name, out)
}

// SaveConfig persists the plugin's private configuration blob.
func (r *PluginRegistrar) SaveConfig(v any) error {
	if r.m.store == nil {
		return fmt.Errorf("plugin %s: no store configured", r.name)
	}
	return r.m.store.Set(store.Scope{}, "plugin:"+r.name, v)
}

// reserve tracks names and aliases claimed inside one staged set so a reload
// cannot collide with itself.
func (s *stagedSet) reserve(c *Command) error {
	if s.names[c.Name] {
		return fmt.Errorf("%s: %w", c.Name, ErrCommandExists)
	}
	for _, a := range c.Aliases {
		if s.names[a] {
			return fmt.Errorf("%s: %w", a, ErrAliasExists)
		}
	}
	s.names[c.Name] = true
	for _, a := range c.Aliases {
		s.names[a] = true
	}
	return nil
}

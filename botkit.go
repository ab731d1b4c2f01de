// Package botkit is a command-and-event dispatch core for chat bots:
// commands are declarative structs resolved through a registry with aliases,
// run through a fixed guard pipeline (enablement, inhibitors, built-in
// guards, cooldowns, overloads), and handed a context that behaves the same
// for text and interactive triggers. Plugins bundle commands and event
// handlers with a managed lifecycle. How triggers arrive and replies leave
// is defined by adapters wrapping this core; see the discord package.
package botkit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/botkit/store"
)

// Engine assembles one instance of every component. All state is owned here;
// two engines never share a registry, ledger or plugin map.
type Engine struct {
	cfg        Config
	log        zerolog.Logger
	diag       DiagnosticFunc
	st         store.Store
	caps       Capabilities
	registry   *Registry
	router     *Router
	ledger     *CooldownLedger
	overrides  *Overrides
	plugins    *Manager
	dispatcher *Dispatcher
	loader     *Loader
	normalizer Normalizer
	tasks      *taskRunner
}

// EngineOption adjusts an Engine before its components are built.
type EngineOption func(*Engine)

// WithLogger sets the logger; the default discards everything.
func WithLogger(log zerolog.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// WithStore sets the persistence collaborator for overrides and plugin
// configuration. The engine takes ownership and closes it on Stop.
func WithStore(st store.Store) EngineOption {
	return func(e *Engine) { e.st = st }
}

// WithDiagnostics replaces the default log-backed diagnostic sink.
func WithDiagnostics(fn DiagnosticFunc) EngineOption {
	return func(e *Engine) { e.diag = fn }
}

// WithCapabilities sets the permission source up front; adapters usually
// bind it later through BindCapabilities.
func WithCapabilities(c Capabilities) EngineOption {
	return func(e *Engine) { e.caps = c }
}

// New builds an engine from cfg. The zero-value Config works for tests: no
// prefix means no text commands, no store means in-memory-only overrides.
func New(cfg Config, opts ...EngineOption) *Engine {
	e := &Engine{
		cfg:        cfg,
		log:        zerolog.Nop(),
		normalizer: Normalizer{Prefix: cfg.Prefix},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.diag == nil {
		e.diag = LogDiagnostics(e.log)
	}

	e.registry = NewRegistry()
	e.router = NewRouter(e.diag, e.log)
	e.ledger = NewCooldownLedger()
	e.overrides = NewOverrides(e.st)
	e.plugins = NewManager(ManagerConfig{
		Registry:    e.registry,
		Router:      e.router,
		Store:       e.st,
		Diagnostics: e.diag,
		Logger:      e.log,
	})
	e.dispatcher = NewDispatcher(DispatcherConfig{
		Registry:     e.registry,
		Ledger:       e.ledger,
		Overrides:    e.overrides,
		Plugins:      e.plugins,
		Capabilities: e.caps,
		OwnerIDs:     cfg.OwnerIDs,
		Diagnostics:  e.diag,
		Logger:       e.log,
	})
	e.loader = newLoader(e)
	e.tasks = newTaskRunner(e.log)
	return e
}

func (e *Engine) Registry() *Registry     { return e.registry }
func (e *Engine) Router() *Router         { return e.router }
func (e *Engine) Plugins() *Manager       { return e.plugins }
func (e *Engine) Dispatcher() *Dispatcher { return e.dispatcher }
func (e *Engine) Overrides() *Overrides   { return e.overrides }
func (e *Engine) Ledger() *CooldownLedger { return e.ledger }
func (e *Engine) Loader() *Loader         { return e.loader }
func (e *Engine) Store() store.Store      { return e.st }
func (e *Engine) Config() Config          { return e.cfg }
func (e *Engine) Logger() zerolog.Logger  { return e.log }

// BindCapabilities hands the dispatcher its permission source. The gateway
// adapter calls this once it owns a session.
func (e *Engine) BindCapabilities(c Capabilities) {
	e.dispatcher.SetCapabilities(c)
}

// Normalize builds a Context without dispatching, for adapters that route
// events themselves.
func (e *Engine) Normalize(trig Trigger, tr Transport) *Context {
	return e.normalizer.Normalize(trig, tr)
}

// HandleTrigger normalizes and, when a command was parsed, dispatches it.
func (e *Engine) HandleTrigger(ctx context.Context, trig Trigger, tr Transport) {
	inv := e.normalizer.Normalize(trig, tr)
	if inv.Command == "" {
		return
	}
	e.dispatcher.Dispatch(ctx, inv)
}

// Emit normalizes the trigger and routes event through the router.
func (e *Engine) Emit(ctx context.Context, event string, trig Trigger, tr Transport, args ...any) {
	inv := e.normalizer.Normalize(trig, tr)
	e.router.Emit(ctx, event, inv, args...)
}

// Start launches background upkeep: the cooldown janitor and, when
// WatchPaths is set, the reload watcher. Tasks stop when ctx is done or
// Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	err := e.tasks.start(ctx, "cooldown-janitor", func(tctx context.Context) error {
		e.ledger.RunJanitor(tctx, time.Minute, time.Hour, e.log)
		return nil
	})
	if err != nil {
		return err
	}

	if len(e.cfg.WatchPaths) > 0 {
		w, werr := NewWatcher(e.loader, e.log, e.cfg.WatchPaths...)
		if werr != nil {
			return fmt.Errorf("reload watcher: %w", werr)
		}
		if err := e.tasks.start(ctx, "reload-watcher", w.Run); err != nil {
			return err
		}
	}

	e.log.Info().Msg("engine started")
	return nil
}

// Stop cancels background tasks, waits for them, and closes the store.
func (e *Engine) Stop() error {
	e.tasks.stopAll()
	e.log.Info().Msg("engine stopped")
	if e.st != nil {
		return e.st.Close()
	}
	return nil
}

// taskRunner tracks named background tasks so shutdown can cancel and await
// all of them. A task is removed when its function returns.
type taskRunner struct {
	mu    sync.Mutex
	log   zerolog.Logger
	tasks map[string]context.CancelFunc
	wg    sync.WaitGroup
}

func newTaskRunner(log zerolog.Logger) *taskRunner {
	return &taskRunner{log: log, tasks: make(map[string]context.CancelFunc)}
}

func (t *taskRunner) start(ctx context.Context, name string, run func(ctx context.Context) error) error {
	t.mu.Lock()
	if _, exists := t.tasks[name]; exists {
		t.mu.Unlock()
		return fmt.Errorf("task %q is already running", name)
	}
	tctx, cancel := context.WithCancel(ctx)
	t.tasks[name] = cancel
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		t.log.Debug().Str("task", name).Msg("task started")
		if err := run(tctx); err != nil && !errors.Is(err, context.Canceled) {
			t.log.Error().Str("task", name).Err(err).Msg("task failed")
		}
		t.mu.Lock()
		delete(t.tasks, name)
		t.mu.Unlock()
	}()
	return nil
}

func (t *taskRunner) stopAll() {
	t.mu.Lock()
	for _, cancel := range t.tasks {
		cancel()
	}
	t.mu.Unlock()
	t.wg.Wait()
}

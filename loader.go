package botkit

import (
	"context"
	"fmt"
	"sync"
)

// Source registers a batch of commands and event handlers against the
// engine. The loader re-runs every source on reload, so sources must be
// repeatable.
type Source func(e *Engine) error

// Loader walks registered sources and plugin definitions so the whole
// command surface can be rebuilt on demand. Reload is loud on purpose: it
// clears the registry and the router wholesale, taking subscriptions made
// outside the loader with it, then rebuilds from sources and re-loads
// plugins in their original order.
type Loader struct {
	mu      sync.Mutex
	engine  *Engine
	sources []Source
	plugins []Plugin
}

func newLoader(e *Engine) *Loader {
	return &Loader{engine: e}
}

// AddSource appends a source; order of addition is load order.
func (l *Loader) AddSource(src Source) {
	l.mu.Lock()
	l.sources = append(l.sources, src)
	l.mu.Unlock()
}

// AddPlugin records a plugin definition the loader owns across reloads. It
// does not load it; call Load for that.
func (l *Loader) AddPlugin(p Plugin) {
	l.mu.Lock()
	l.plugins = append(l.plugins, p)
	l.mu.Unlock()
}

// Load runs every source, then loads every recorded plugin in order.
// Dependencies resolve as long as the recorded order lists them first.
func (l *Loader) Load(ctx context.Context) error {
	l.mu.Lock()
	sources := append([]Source(nil), l.sources...)
	plugins := append([]Plugin(nil), l.plugins...)
	l.mu.Unlock()

	for i, src := range sources {
		if err := src(l.engine); err != nil {
			return fmt.Errorf("source %d: %w", i, err)
		}
	}
	for _, p := range plugins {
		if err := l.engine.plugins.Load(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Reload tears everything down and runs Load again. Plugins are unloaded
// first, in reverse order so dependents go before their dependencies; the
// registry and router are then cleared to catch entries made outside the
// loader.
func (l *Loader) Reload(ctx context.Context) error {
	l.mu.Lock()
	plugins := append([]Plugin(nil), l.plugins...)
	l.mu.Unlock()

	e := l.engine
	for i := len(plugins) - 1; i >= 0; i-- {
		name := plugins[i].Name()
		if e.plugins.State(name) == StateUnloaded {
			continue
		}
		if err := e.plugins.ForceUnload(ctx, name); err != nil {
			e.diag.emit(Diagnostic{Stage: StagePlugin, Plugin: name, Err: err})
		}
	}

	e.registry.Clear()
	e.router.UnsubscribeAll()
	e.log.Info().Msg("reloading command surface")
	return l.Load(ctx)
}

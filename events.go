package botkit

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// EventHandler handles one named platform event.
type EventHandler func(ctx context.Context, inv *Context, args ...any) error

// AnyHandler observes every routed event, receiving its name first.
type AnyHandler func(ctx context.Context, event string, inv *Context, args ...any) error

// PreEventFunc is the global pre-event middleware. Returning false vetoes the
// event: neither wildcard observers nor specific handlers run. An error is
// reported to diagnostics and the event proceeds, so a broken middleware
// cannot silently drop traffic.
type PreEventFunc func(ctx context.Context, event string, inv *Context, args ...any) (bool, error)

type subscription struct {
	id    uint64
	event string
	once  bool
	owner string
	fn    EventHandler
	anyFn AnyHandler
}

// Router fans named platform events out to subscribed handlers. Like the
// registry it is an injectable instance with no package state.
type Router struct {
	mu        sync.Mutex
	seq       uint64
	handlers  map[string][]*subscription
	wildcards []*subscription
	pre       PreEventFunc

	// ownerEnabled is bound by the plugin manager so a disabled plugin's
	// subscriptions go quiet without being removed.
	ownerEnabled func(owner string) bool

	diag DiagnosticFunc
	log  zerolog.Logger
}

// NewRouter returns an empty router.
func NewRouter(diag DiagnosticFunc, log zerolog.Logger) *Router {
	return &Router{
		handlers: make(map[string][]*subscription),
		diag:     diag,
		log:      log,
	}
}

// Subscribe registers fn for event and returns its remove function.
func (r *Router) Subscribe(event string, fn EventHandler) func() {
	return r.subscribe(event, fn, false, "")
}

// SubscribeOnce registers fn for a single delivery. The subscription is
// removed before that delivery runs, so the outcome cannot re-arm it.
func (r *Router) SubscribeOnce(event string, fn EventHandler) func() {
	return r.subscribe(event, fn, true, "")
}

func (r *Router) subscribe(event string, fn EventHandler, once bool, owner string) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	sub := &subscription{id: r.seq, event: event, once: once, owner: owner, fn: fn}
	r.handlers[event] = append(r.handlers[event], sub)
	return r.removeFunc(sub)
}

// SubscribeAny registers a wildcard observer invoked for every routed event.
func (r *Router) SubscribeAny(fn AnyHandler) func() {
	return r.subscribeAny(fn, "")
}

func (r *Router) subscribeAny(fn AnyHandler, owner string) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	sub := &subscription{id: r.seq, owner: owner, anyFn: fn}
	r.wildcards = append(r.wildcards, sub)
	return r.removeFunc(sub)
}

// removeFunc returns an idempotent closure dropping sub from the live lists.
func (r *Router) removeFunc(sub *subscription) func() {
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.drop(sub)
	}
}

// drop removes sub. Callers hold r.mu.
func (r *Router) drop(sub *subscription) {
	if sub.anyFn != nil {
		r.wildcards = withoutSub(r.wildcards, sub.id)
		return
	}
	list := withoutSub(r.handlers[sub.event], sub.id)
	if len(list) == 0 {
		delete(r.handlers, sub.event)
	} else {
		r.handlers[sub.event] = list
	}
}

func withoutSub(list []*subscription, id uint64) []*subscription {
	kept := make([]*subscription, 0, len(list))
	for _, s := range list {
		if s.id != id {
			kept = append(kept, s)
		}
	}
	return kept
}

// SetPreHandler installs the global pre-event middleware; nil removes it.
func (r *Router) SetPreHandler(fn PreEventFunc) {
	r.mu.Lock()
	r.pre = fn
	r.mu.Unlock()
}

// bindOwnerEnabled installs the plugin-mute check. The manager calls this
// once at construction.
func (r *Router) bindOwnerEnabled(fn func(owner string) bool) {
	r.mu.Lock()
	r.ownerEnabled = fn
	r.mu.Unlock()
}

// UnsubscribeAll tears down every subscription, wildcard observers included.
// Hot-reload calls this before re-subscribing; anything registered outside
// the loader disappears with the rest.
func (r *Router) UnsubscribeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[string][]*subscription)
	r.wildcards = nil
}

// HandlerCount reports how many specific handlers event currently has.
func (r *Router) HandlerCount(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[event])
}

// Emit routes one event: pre-event middleware, then wildcard observers, then
// the event's handlers in subscription order. Handler failures are contained
// and reported; they never stop later handlers. A vetoed event does not
// consume once subscriptions.
func (r *Router) Emit(ctx context.Context, event string, inv *Context, args ...any) {
	r.mu.Lock()
	pre := r.pre
	r.mu.Unlock()

	if pre != nil {
		allow, err := runPreEvent(ctx, event, inv, args, pre)
		if err != nil {
			// A veto paired with an error is not trusted: report and proceed.
			r.diag.emit(Diagnostic{Stage: StagePreEvent, Event: event, Err: err})
			allow = true
		}
		if !allow {
			r.log.Debug().Str("event", event).Msg("event vetoed")
			return
		}
	}

	r.mu.Lock()
	wild := make([]*subscription, 0, len(r.wildcards))
	for _, s := range r.wildcards {
		if r.muted(s) {
			continue
		}
		wild = append(wild, s)
	}
	specific := make([]*subscription, 0, len(r.handlers[event]))
	for _, s := range r.handlers[event] {
		if r.muted(s) {
			continue
		}
		specific = append(specific, s)
	}
	for _, s := range specific {
		if s.once {
			r.drop(s)
		}
	}
	r.mu.Unlock()

	for _, s := range wild {
		if err := safeEvent(func() error { return s.anyFn(ctx, event, inv, args...) }); err != nil {
			r.diag.emit(Diagnostic{Stage: StageEvent, Event: event, Plugin: s.owner, Err: err})
		}
	}
	for _, s := range specific {
		if err := safeEvent(func() error { return s.fn(ctx, inv, args...) }); err != nil {
			r.diag.emit(Diagnostic{Stage: StageEvent, Event: event, Plugin: s.owner, Err: err})
		}
	}
}

// muted reports whether the subscription's owning plugin is disabled.
// Callers hold r.mu.
func (r *Router) muted(s *subscription) bool {
	return s.owner != "" && r.ownerEnabled != nil && !r.ownerEnabled(s.owner)
}

func runPreEvent(ctx context.Context, event string, inv *Context, args []any, fn PreEventFunc) (allow bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			allow, err = true, panicErr(r)
		}
	}()
	return fn(ctx, event, inv, args...)
}

func safeEvent(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicErr(r)
		}
	}()
	return fn()
}

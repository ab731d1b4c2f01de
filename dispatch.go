package botkit

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Notice text sent on guard stops. Hosts may rebrand these at startup.
var (
	NoticeDisabled   = "That command is disabled on this server."
	NoticeNoOverload = "No form of that command matches those arguments."
	NoticeGuildOnly  = "That command only works on a server."
	NoticeDirectOnly = "That command only works in direct messages."
	NoticeRestricted = "That command only works in age-restricted channels."
	NoticeOwnerOnly  = "Only the bot owner can use that command."
	NoticeCooldown   = "Please wait %d more second(s) before using %s again."
	NoticeMissing    = "You need %s to use that command."
	NoticeFailure    = "Something went wrong while running that command."
)

// Inhibitor is a host-supplied global guard. Returning true continues the
// pipeline; false stops it, silently when reply is empty, otherwise with
// reply sent to the actor. Inhibitors run in registration order and the
// first non-true result wins.
type Inhibitor func(ctx context.Context, inv *Context, cmd *Command) (allow bool, reply string)

// Capabilities answers whether the actor holds a capability tag in the
// invocation's origin. The platform adapter implements it.
type Capabilities interface {
	Has(ctx context.Context, inv *Context, tag string) (bool, error)
}

// CommandErrorFunc observes a contained handler error together with its
// invocation.
type CommandErrorFunc func(ctx context.Context, inv *Context, err error)

// DispatcherConfig wires a Dispatcher. Registry and Ledger are required;
// everything else degrades gracefully when absent.
type DispatcherConfig struct {
	Registry     *Registry
	Ledger       *CooldownLedger
	Overrides    *Overrides
	Plugins      *Manager
	Capabilities Capabilities
	OwnerIDs     []string
	Diagnostics  DiagnosticFunc
	Logger       zerolog.Logger
}

// Dispatcher runs the guard pipeline for one resolved command per
// invocation. Stage order is fixed; any stage may stop the pipeline, and at
// most one user-visible reply is produced per invocation.
type Dispatcher struct {
	registry  *Registry
	ledger    *CooldownLedger
	overrides *Overrides
	plugins   *Manager
	ownerIDs  []string
	diag      DiagnosticFunc
	log       zerolog.Logger

	mu             sync.Mutex
	caps           Capabilities
	inhibitors     []Inhibitor
	runHook        HandlerFunc
	onCommandError CommandErrorFunc
	onError        func(err error)
}

// NewDispatcher builds a dispatcher from cfg.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		registry:  cfg.Registry,
		ledger:    cfg.Ledger,
		overrides: cfg.Overrides,
		plugins:   cfg.Plugins,
		caps:      cfg.Capabilities,
		ownerIDs:  slices.Clone(cfg.OwnerIDs),
		diag:      cfg.Diagnostics,
		log:       cfg.Logger,
	}
}

// AddInhibitor appends a global guard; order of addition is execution order.
func (d *Dispatcher) AddInhibitor(in Inhibitor) {
	d.mu.Lock()
	d.inhibitors = append(d.inhibitors, in)
	d.mu.Unlock()
}

// SetRunHook installs the "about to execute" observer. Its failure is
// reported to diagnostics and never blocks execution.
func (d *Dispatcher) SetRunHook(fn HandlerFunc) {
	d.mu.Lock()
	d.runHook = fn
	d.mu.Unlock()
}

// SetCommandErrorHook installs the global observer for contained handler
// errors.
func (d *Dispatcher) SetCommandErrorHook(fn CommandErrorFunc) {
	d.mu.Lock()
	d.onCommandError = fn
	d.mu.Unlock()
}

// SetErrorHook installs the global generic error observer.
func (d *Dispatcher) SetErrorHook(fn func(err error)) {
	d.mu.Lock()
	d.onError = fn
	d.mu.Unlock()
}

// SetCapabilities binds the permission source. Adapters call this once a
// platform session exists.
func (d *Dispatcher) SetCapabilities(c Capabilities) {
	d.mu.Lock()
	d.caps = c
	d.mu.Unlock()
}

// Dispatch resolves inv.Command and walks the pipeline. Unknown commands are
// ignored; every failure past resolution is contained here.
func (d *Dispatcher) Dispatch(ctx context.Context, inv *Context) {
	if inv == nil || inv.Command == "" {
		return
	}
	cmd := d.registry.Resolve(inv.Command)
	if cmd == nil {
		d.log.Debug().Str("command", inv.Command).Msg("unresolved command")
		return
	}

	d.log.Debug().
		Str("command", cmd.Name).
		Str("actor", inv.Actor.ID).
		Str("invocation", inv.ID).
		Bool("interactive", inv.Interactive).
		Msg("dispatching")

	d.mu.Lock()
	runHook := d.runHook
	inhibitors := slices.Clone(d.inhibitors)
	d.mu.Unlock()

	// Stage 1: run hook, failure swallowed.
	if runHook != nil {
		if err := safeCall(ctx, inv, runHook); err != nil {
			d.report(StageRunHook, cmd, inv, err)
		}
	}

	// Stage 2: enablement. A disabled owning plugin means the command does
	// not exist; a guild override speaks up.
	if owner := d.registry.Owner(cmd.Name); owner != "" && d.plugins != nil && !d.plugins.Enabled(owner) {
		return
	}
	if !inv.Direct && d.overrides != nil {
		disabled, err := d.overrides.Disabled(inv.Origin.GuildID, cmd.Name)
		if err != nil {
			d.report(StageEnablement, cmd, inv, err)
		} else if disabled {
			d.notify(ctx, inv, cmd, NoticeDisabled)
			return
		}
	}

	// Stage 3: inhibitors, first non-true result wins.
	for _, in := range inhibitors {
		allow, reply, err := runInhibitor(ctx, inv, cmd, in)
		if err != nil {
			d.report(StageInhibitor, cmd, inv, err)
			continue
		}
		if !allow {
			if reply != "" {
				d.notify(ctx, inv, cmd, reply)
			}
			return
		}
	}

	// Stage 4: overload dispatch ends the pipeline either way.
	if cmd.Overload {
		for _, p := range cmd.Patterns {
			matched, err := matchPattern(p, inv.Args)
			if err != nil {
				d.report(StageOverload, cmd, inv, err)
				continue
			}
			if !matched {
				continue
			}
			if err := safeCall(ctx, inv, p.Run); err != nil {
				d.containHandlerError(ctx, inv, cmd, err)
			}
			return
		}
		d.notify(ctx, inv, cmd, NoticeNoOverload)
		return
	}

	// Stage 5: per-command pre-hook, failure swallowed.
	if cmd.Before != nil {
		if err := safeCall(ctx, inv, cmd.Before); err != nil {
			d.report(StageBefore, cmd, inv, err)
		}
	}

	// Stage 6: built-in guards in fixed order.
	if notice := d.checkGuards(ctx, inv, cmd); notice != "" {
		d.notify(ctx, inv, cmd, notice)
		return
	}

	// Stage 7: cooldown. The expiry is written before the handler runs.
	if cmd.Cooldown > 0 {
		if remaining, ok := d.ledger.Acquire(cmd.Name, inv.Actor.ID, cmd.Cooldown); !ok {
			secs := int(math.Ceil(remaining.Seconds()))
			d.notify(ctx, inv, cmd, fmt.Sprintf(NoticeCooldown, secs, cmd.Name))
			return
		}
	}

	// Stage 8: handler, then after hook or the error fan-out.
	if err := safeCall(ctx, inv, cmd.Run); err != nil {
		d.containHandlerError(ctx, inv, cmd, err)
		return
	}
	if cmd.After != nil {
		if err := safeCall(ctx, inv, cmd.After); err != nil {
			d.report(StageAfter, cmd, inv, err)
		}
	}
}

// checkGuards returns the notice of the first failing built-in guard, or ""
// when all pass. Order: origin, restricted channel, owner, permissions.
func (d *Dispatcher) checkGuards(ctx context.Context, inv *Context, cmd *Command) string {
	if cmd.GuildOnly && inv.Direct {
		return NoticeGuildOnly
	}
	if cmd.DirectOnly && !inv.Direct {
		return NoticeDirectOnly
	}
	if cmd.RestrictedOnly && !inv.Origin.Restricted {
		return NoticeRestricted
	}
	if cmd.OwnerOnly && !slices.Contains(d.ownerIDs, inv.Actor.ID) {
		return NoticeOwnerOnly
	}
	if len(cmd.Permissions) > 0 {
		if missing := d.missingPermissions(ctx, inv, cmd); len(missing) > 0 {
			return fmt.Sprintf(NoticeMissing, strings.Join(missing, ", "))
		}
	}
	return ""
}

// missingPermissions returns the capability tags the actor lacks. Without a
// Capabilities source the guard fails closed.
func (d *Dispatcher) missingPermissions(ctx context.Context, inv *Context, cmd *Command) []string {
	d.mu.Lock()
	caps := d.caps
	d.mu.Unlock()
	if caps == nil {
		return slices.Clone(cmd.Permissions)
	}
	var missing []string
	for _, tag := range cmd.Permissions {
		has, err := caps.Has(ctx, inv, tag)
		if err != nil {
			d.report(StageGuard, cmd, inv, err)
			missing = append(missing, tag)
			continue
		}
		if !has {
			missing = append(missing, tag)
		}
	}
	return missing
}

// containHandlerError fans a contained handler error out to the four
// independent observers: per-command onError (or the generic notice), the
// command-error hook, the generic error hook, and the diagnostic sink. A
// failure in one never suppresses the next.
func (d *Dispatcher) containHandlerError(ctx context.Context, inv *Context, cmd *Command, cause error) {
	d.mu.Lock()
	onCommandError := d.onCommandError
	onError := d.onError
	d.mu.Unlock()

	if cmd.OnError != nil {
		if err := safeObserve(func() error { return cmd.OnError(ctx, inv, cause) }); err != nil {
			d.report(StageOnError, cmd, inv, err)
		}
	} else {
		d.notify(ctx, inv, cmd, NoticeFailure)
	}

	if onCommandError != nil {
		if err := safeObserve(func() error { onCommandError(ctx, inv, cause); return nil }); err != nil {
			d.report(StageErrorHook, cmd, inv, err)
		}
	}

	if onError != nil {
		if err := safeObserve(func() error { onError(cause); return nil }); err != nil {
			d.report(StageErrorHook, cmd, inv, err)
		}
	}

	d.report(StageHandler, cmd, inv, cause)
}

// notify delivers a guard or failure notice; delivery problems go to
// diagnostics, never back to the actor.
func (d *Dispatcher) notify(ctx context.Context, inv *Context, cmd *Command, text string) {
	if err := inv.ReplyEphemeral(ctx, text); err != nil {
		d.report(StageNotice, cmd, inv, err)
	}
}

func (d *Dispatcher) report(stage string, cmd *Command, inv *Context, err error) {
	d.diag.emit(Diagnostic{Stage: stage, Command: cmd.Name, ActorID: inv.Actor.ID, Err: err})
}

func panicErr(r any) error {
	return fmt.Errorf("panic: %v", r)
}

// safeCall runs a handler or hook, converting a panic into an error.
func safeCall(ctx context.Context, inv *Context, fn HandlerFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicErr(r)
		}
	}()
	return fn(ctx, inv)
}

// safeObserve runs an observer with the same panic containment.
func safeObserve(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicErr(r)
		}
	}()
	return fn()
}

// matchPattern contains matcher panics; a broken matcher never matches.
func matchPattern(p Pattern, args []any) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched, err = false, panicErr(r)
		}
	}()
	return p.Match(args), nil
}

// runInhibitor contains inhibitor panics; a broken inhibitor is skipped.
func runInhibitor(ctx context.Context, inv *Context, cmd *Command, in Inhibitor) (allow bool, reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			allow, reply, err = true, "", panicErr(r)
		}
	}()
	allow, reply = in(ctx, inv, cmd)
	return allow, reply, nil
}

package botkit

import "github.com/rs/zerolog"

// Diagnostic pipeline stages. Every swallowed failure (run hook, before/after
// hooks, inhibitor panics, event handlers) is reported with the stage that
// produced it, so "silent" never means "lost".
const (
	StageRunHook    = "run-hook"
	StageEnablement = "enablement"
	StageInhibitor  = "inhibitor"
	StageOverload   = "overload"
	StageBefore     = "before"
	StageGuard      = "guard"
	StageCooldown   = "cooldown"
	StageHandler    = "handler"
	StageAfter      = "after"
	StageOnError    = "on-error"
	StageErrorHook  = "error-hook"
	StageNotice     = "notice"
	StageEvent      = "event"
	StagePreEvent   = "pre-event"
	StagePlugin     = "plugin"
)

// Diagnostic describes one contained failure inside the engine.
type Diagnostic struct {
	Stage   string
	Command string
	Event   string
	Plugin  string
	ActorID string
	Err     error
}

// DiagnosticFunc receives contained failures. The engine calls it
// synchronously on the dispatch path; a panic inside the sink is discarded.
type DiagnosticFunc func(d Diagnostic)

// LogDiagnostics returns a sink that writes diagnostics through log at warn
// level. It is the default sink wired by New.
func LogDiagnostics(log zerolog.Logger) DiagnosticFunc {
	return func(d Diagnostic) {
		ev := log.Warn().Str("stage", d.Stage)
		if d.Command != "" {
			ev = ev.Str("command", d.Command)
		}
		if d.Event != "" {
			ev = ev.Str("event", d.Event)
		}
		if d.Plugin != "" {
			ev = ev.Str("plugin", d.Plugin)
		}
		if d.ActorID != "" {
			ev = ev.Str("actor", d.ActorID)
		}
		ev.Err(d.Err).Msg("contained failure")
	}
}

// emit guards against a nil sink so call sites stay one line.
func (fn DiagnosticFunc) emit(d Diagnostic) {
	if fn == nil {
		return
	}
	defer func() { _ = recover() }()
	fn(d)
}

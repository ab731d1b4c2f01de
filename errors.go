package botkit

import "errors"

// Contract-level failures. Callers match with errors.Is; most are returned
// wrapped with the command or plugin name attached.
var (
	ErrCommandExists     = errors.New("command already registered")
	ErrAliasExists       = errors.New("alias already registered")
	ErrUnknownCommand    = errors.New("unknown command")
	ErrOverloadNoPattern = errors.New("overload command declares no patterns")
	ErrEmptyName         = errors.New("empty command name")
	ErrNilHandler        = errors.New("command has no handler")

	ErrPluginExists      = errors.New("plugin already loaded")
	ErrUnknownPlugin     = errors.New("unknown plugin")
	ErrMissingDependency = errors.New("missing plugin dependency")
	ErrHasDependents     = errors.New("plugin has loaded dependents")
)

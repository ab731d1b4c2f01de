package botkit

import (
	"context"
	"fmt"
	"time"
)

// HandlerFunc executes a command for one invocation. A returned error is
// contained at the dispatcher boundary and fanned out to the configured
// error observers; it never reaches the host.
type HandlerFunc func(ctx context.Context, inv *Context) error

// ErrorFunc is a per-command error observer. It replaces the generic failure
// notice when set.
type ErrorFunc func(ctx context.Context, inv *Context, err error) error

// Pattern is one overload case: Match inspects the argument vector, Run
// executes when it is the first pattern to match.
type Pattern struct {
	Match func(args []any) bool
	Run   HandlerFunc
}

// Choice is a predeclared value for an option handed to the platform's
// command registration.
type Choice struct {
	Name  string
	Value any
}

// OptionSpec declares one option of a slash-style command. The adapter turns
// it into the platform definition; at dispatch time supplied values arrive on
// the trigger, not here.
type OptionSpec struct {
	Name        string
	Description string
	Kind        OptionKind
	Required    bool
	Choices     []Choice
}

// Command is a declarative unit of behavior. Commands are plain literals;
// everything the pipeline needs is a field, so registration carries no
// hidden setup.
type Command struct {
	Name        string
	Description string
	Usage       string
	Aliases     []string

	// Slash/ContextMenu control how the adapter registers the command with
	// the platform; a command may be reachable by text prefix regardless.
	Slash       bool
	ContextMenu bool
	Options     []OptionSpec

	// Guard configuration, checked by the dispatcher in its fixed order.
	GuildOnly      bool
	DirectOnly     bool
	RestrictedOnly bool
	OwnerOnly      bool
	Permissions    []string
	Cooldown       time.Duration

	// Overload selects handlers by argument shape. When set, Patterns are
	// tried in declaration order and Run/Before/After are ignored.
	Overload bool
	Patterns []Pattern

	Before  HandlerFunc
	After   HandlerFunc
	OnError ErrorFunc

	Run HandlerFunc
}

// validate rejects commands the registry must never hold.
func (c *Command) validate() error {
	if c.Name == "" {
		return ErrEmptyName
	}
	if c.Overload {
		if len(c.Patterns) == 0 {
			return fmt.Errorf("%s: %w", c.Name, ErrOverloadNoPattern)
		}
		for i, p := range c.Patterns {
			if p.Match == nil || p.Run == nil {
				return fmt.Errorf("%s: pattern %d: %w", c.Name, i, ErrNilHandler)
			}
		}
		return nil
	}
	if c.Run == nil {
		return fmt.Errorf("%s: %w", c.Name, ErrNilHandler)
	}
	return nil
}

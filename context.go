package botkit

import (
	"context"

	"github.com/gofrs/uuid/v5"
)

// Reply is an outbound message. Ephemeral is honored on interactive triggers;
// text transports fall back to a plain channel send.
type Reply struct {
	Content   string
	Ephemeral bool
}

// Transport delivers replies for a Context. The adapter implements it; core
// code never touches the platform SDK. Reply picks respond vs follow-up from
// inv.Deferred() so handlers never branch on trigger kind.
type Transport interface {
	Reply(ctx context.Context, inv *Context, r Reply) error
	Defer(ctx context.Context, inv *Context, ephemeral bool) error
}

// Context is the normalized view of one trigger, handed to every handler and
// hook. It lives for a single invocation and carries no state across
// invocations.
type Context struct {
	// ID correlates log lines and diagnostics for one invocation.
	ID string

	Actor       User
	Origin      Origin
	Command     string
	Args        []any
	Interactive bool
	Direct      bool

	trigger         Trigger
	transport       Transport
	options         []Option
	userMentions    []string
	channelMentions []string
	deferred        bool
}

// Trigger returns the underlying union value for code that needs the raw
// platform payload.
func (c *Context) Trigger() Trigger { return c.trigger }

// Deferred reports whether this invocation was already acknowledged, by
// Defer or by a first interactive reply. Platforms allow one direct response
// per interaction; everything after it is a follow-up.
func (c *Context) Deferred() bool { return c.deferred }

// Reply sends a public message through the transport, transparently choosing
// respond, follow-up or plain send.
func (c *Context) Reply(ctx context.Context, content string) error {
	return c.reply(ctx, Reply{Content: content})
}

// ReplyEphemeral sends a message only the actor sees where the platform
// supports it; text transports send it publicly.
func (c *Context) ReplyEphemeral(ctx context.Context, content string) error {
	return c.reply(ctx, Reply{Content: content, Ephemeral: true})
}

func (c *Context) reply(ctx context.Context, r Reply) error {
	if c.transport == nil {
		return nil
	}
	if err := c.transport.Reply(ctx, c, r); err != nil {
		return err
	}
	if c.Interactive {
		c.deferred = true
	}
	return nil
}

// Defer acknowledges an interactive trigger so a slow handler can follow up
// later. On text triggers it is a no-op.
func (c *Context) Defer(ctx context.Context, ephemeral bool) error {
	if !c.Interactive || c.transport == nil {
		return nil
	}
	if err := c.transport.Defer(ctx, c, ephemeral); err != nil {
		return err
	}
	c.deferred = true
	return nil
}

// Option returns the value supplied under name, or nil. Text triggers have no
// named options.
func (c *Context) Option(name string) any {
	for _, o := range c.options {
		if o.Name == name {
			return o.Value
		}
	}
	return nil
}

// StringOption returns a string-typed option value by name.
func (c *Context) StringOption(name string) (string, bool) {
	v, ok := c.Option(name).(string)
	return v, ok
}

// NumberOption returns a numeric option value by name. Integer and float
// options both satisfy it.
func (c *Context) NumberOption(name string) (float64, bool) {
	switch v := c.Option(name).(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// BoolOption returns a boolean option value by name.
func (c *Context) BoolOption(name string) (bool, bool) {
	v, ok := c.Option(name).(bool)
	return v, ok
}

// UserOption returns the user ID supplied under name for a user-typed option.
func (c *Context) UserOption(name string) (string, bool) {
	return c.typedOption(name, OptionUser)
}

// ChannelOption returns the channel ID supplied under name.
func (c *Context) ChannelOption(name string) (string, bool) {
	return c.typedOption(name, OptionChannel)
}

// RoleOption returns the role ID supplied under name.
func (c *Context) RoleOption(name string) (string, bool) {
	return c.typedOption(name, OptionRole)
}

func (c *Context) typedOption(name string, kind OptionKind) (string, bool) {
	for _, o := range c.options {
		if o.Name == name && o.Kind == kind {
			id, ok := o.Value.(string)
			return id, ok
		}
	}
	return "", false
}

// FirstUserMention returns the first user mentioned in a text trigger. The
// mention token stays in Args untouched.
func (c *Context) FirstUserMention() (string, bool) {
	if len(c.userMentions) == 0 {
		return "", false
	}
	return c.userMentions[0], true
}

// FirstChannelMention returns the first channel mentioned in a text trigger.
func (c *Context) FirstChannelMention() (string, bool) {
	if len(c.channelMentions) == 0 {
		return "", false
	}
	return c.channelMentions[0], true
}

func newInvocationID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return ""
	}
	return id.String()
}

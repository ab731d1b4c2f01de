package botkit

import "strings"

// User identifies the actor behind a trigger.
type User struct {
	ID       string
	Username string
	Bot      bool
}

// Origin describes where a trigger happened. An empty GuildID means a direct
// conversation. Restricted marks age-restricted channels.
type Origin struct {
	GuildID    string
	ChannelID  string
	Restricted bool
}

// Direct reports whether the origin is a direct conversation.
func (o Origin) Direct() bool { return o.GuildID == "" }

// OptionKind is the value type of an interactive option.
type OptionKind int

const (
	OptionString OptionKind = iota
	OptionNumber
	OptionBool
	OptionUser
	OptionChannel
	OptionRole
)

// Option is one supplied value on an interactive trigger, in the order the
// actor filled it in.
type Option struct {
	Name  string
	Kind  OptionKind
	Value any
}

// Trigger is a closed union with exactly two cases: TextTrigger and
// InteractiveTrigger. The normalizer switches on the concrete case.
type Trigger interface {
	isTrigger()
}

// TextTrigger is a typed chat message that may carry a prefixed command.
type TextTrigger struct {
	Actor           User
	Origin          Origin
	Content         string
	UserMentions    []string
	ChannelMentions []string
	Raw             any
}

// InteractiveTrigger is a structured invocation (slash command, context-menu
// action or component press) with resolved option values.
type InteractiveTrigger struct {
	Actor    User
	Origin   Origin
	Command  string
	Options  []Option
	Menu     bool
	TargetID string
	Raw      any
}

func (TextTrigger) isTrigger()        {}
func (InteractiveTrigger) isTrigger() {}

// Normalizer turns a Trigger into a Context. It never consults the registry;
// resolving the parsed command name is the dispatcher's job.
type Normalizer struct {
	Prefix string
}

// Normalize builds the per-invocation Context. For a text trigger the command
// name is the first token after the prefix and Args the remaining tokens; a
// message without the prefix yields an empty command name. For an interactive
// trigger Args are the supplied option values in order, and a context-menu
// target is exposed as a trailing "target" option.
func (n Normalizer) Normalize(trig Trigger, tr Transport) *Context {
	inv := &Context{
		ID:        newInvocationID(),
		trigger:   trig,
		transport: tr,
	}

	switch t := trig.(type) {
	case TextTrigger:
		inv.Actor = t.Actor
		inv.Origin = t.Origin
		inv.userMentions = t.UserMentions
		inv.channelMentions = t.ChannelMentions
		if n.Prefix != "" && strings.HasPrefix(t.Content, n.Prefix) {
			fields := strings.Fields(strings.TrimPrefix(t.Content, n.Prefix))
			if len(fields) > 0 {
				inv.Command = fields[0]
				inv.Args = make([]any, 0, len(fields)-1)
				for _, f := range fields[1:] {
					inv.Args = append(inv.Args, f)
				}
			}
		}

	case InteractiveTrigger:
		inv.Interactive = true
		inv.Actor = t.Actor
		inv.Origin = t.Origin
		inv.Command = t.Command
		opts := t.Options
		if t.Menu && t.TargetID != "" {
			opts = append(append([]Option{}, opts...), Option{Name: "target", Kind: OptionString, Value: t.TargetID})
		}
		inv.options = opts
		inv.Args = make([]any, 0, len(opts))
		for _, o := range opts {
			inv.Args = append(inv.Args, o.Value)
		}
	}

	inv.Direct = inv.Origin.Direct()
	return inv
}

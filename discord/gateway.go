// Package discord binds a botkit Engine to the Discord gateway: inbound
// messages and interactions become triggers, replies travel back through an
// interaction-aware transport, and the command surface is mirrored to each
// guild by the registrar.
package discord

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/keshon/botkit"
)

// Router event names for forwarded gateway traffic. The raw discordgo event
// is always the first extra argument.
const (
	EventReady              = "ready"
	EventMessageCreate      = "messageCreate"
	EventMessageDelete      = "messageDelete"
	EventMessageReactionAdd = "messageReactionAdd"
	EventInteractionCreate  = "interactionCreate"
	EventGuildCreate        = "guildCreate"
	EventGuildDelete        = "guildDelete"
	EventGuildMemberAdd     = "guildMemberAdd"
	EventGuildMemberRemove  = "guildMemberRemove"
)

// Gateway owns one Discord session bound to one Engine.
type Gateway struct {
	engine    *botkit.Engine
	session   *discordgo.Session
	transport *Transport
	registrar *Registrar
	log       zerolog.Logger
}

// NewGateway builds a session from the engine's config and wires every
// handler. Nothing connects until Open.
func NewGateway(e *botkit.Engine) (*Gateway, error) {
	cfg := e.Config()
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	g := &Gateway{
		engine:  e,
		session: session,
		log:     e.Logger().With().Str("component", "gateway").Logger(),
	}
	g.transport = NewTransport(session, g.log)
	g.registrar = NewRegistrar(session, e.Registry(), cfg.DataDir, g.log)

	session.Identify.Intents = discordgo.IntentsAll
	session.AddHandler(g.onReady)
	session.AddHandler(g.onMessageCreate)
	session.AddHandler(g.onMessageDelete)
	session.AddHandler(g.onMessageReactionAdd)
	session.AddHandler(g.onInteractionCreate)
	session.AddHandler(g.onGuildCreate)
	session.AddHandler(g.onGuildDelete)
	session.AddHandler(g.onGuildMemberAdd)
	session.AddHandler(g.onGuildMemberRemove)

	e.BindCapabilities(NewPermissions(session))
	return g, nil
}

// Session exposes the raw session for collectors and host extensions.
func (g *Gateway) Session() *discordgo.Session { return g.session }

// Registrar exposes the command registrar so hosts can force a sync.
func (g *Gateway) Registrar() *Registrar { return g.registrar }

// Open connects to the gateway.
func (g *Gateway) Open() error {
	if err := g.session.Open(); err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (g *Gateway) Close() error { return g.session.Close() }

// Run opens the session and blocks until ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.Open(); err != nil {
		return err
	}
	defer g.session.Close()

	<-ctx.Done()
	g.log.Info().Msg("gateway shutting down")
	return nil
}

func (g *Gateway) onReady(s *discordgo.Session, r *discordgo.Ready) {
	if g.engine.Config().SyncCommands {
		appID, err := g.appID()
		if err != nil {
			g.log.Error().Err(err).Msg("cannot resolve application id")
		} else {
			for _, guild := range r.Guilds {
				if err := g.registrar.Sync(context.Background(), appID, guild.ID); err != nil {
					g.log.Error().Err(err).Str("guild", guild.ID).Msg("command sync failed")
				}
			}
		}
	} else {
		g.log.Info().Msg("command sync skipped")
	}

	g.forward(EventReady, botkit.User{}, botkit.Origin{}, r)
	g.log.Info().Int("guilds", len(r.Guilds)).Msg("gateway ready")
}

func (g *Gateway) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}

	ctx := context.Background()
	trig := g.messageTrigger(m)
	g.engine.HandleTrigger(ctx, trig, g.transport)
	g.engine.Emit(ctx, EventMessageCreate, trig, g.transport, m)
}

func (g *Gateway) onMessageDelete(s *discordgo.Session, m *discordgo.MessageDelete) {
	actor := botkit.User{}
	if m.Author != nil {
		actor = user(m.Author)
	}
	g.forward(EventMessageDelete, actor, g.origin(m.GuildID, m.ChannelID), m)
}

func (g *Gateway) onMessageReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	actor := botkit.User{ID: r.UserID}
	g.forward(EventMessageReactionAdd, actor, g.origin(r.GuildID, r.ChannelID), r)
}

func (g *Gateway) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx := context.Background()

	var trig botkit.InteractiveTrigger
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		trig = g.commandTrigger(i)
	case discordgo.InteractionMessageComponent:
		trig = g.componentTrigger(i)
	default:
		return
	}

	g.engine.HandleTrigger(ctx, trig, g.transport)
	g.engine.Emit(ctx, EventInteractionCreate, trig, g.transport, i)
}

func (g *Gateway) onGuildCreate(s *discordgo.Session, gc *discordgo.GuildCreate) {
	g.log.Info().Str("guild", gc.Guild.ID).Str("name", gc.Guild.Name).Msg("guild available")

	if g.engine.Config().SyncCommands {
		appID, err := g.appID()
		if err != nil {
			g.log.Error().Err(err).Msg("cannot resolve application id")
		} else if err := g.registrar.Sync(context.Background(), appID, gc.Guild.ID); err != nil {
			g.log.Error().Err(err).Str("guild", gc.Guild.ID).Msg("command sync failed")
		}
	}

	g.forward(EventGuildCreate, botkit.User{}, botkit.Origin{GuildID: gc.Guild.ID}, gc)
}

func (g *Gateway) onGuildDelete(s *discordgo.Session, gd *discordgo.GuildDelete) {
	g.forward(EventGuildDelete, botkit.User{}, botkit.Origin{GuildID: gd.Guild.ID}, gd)
}

func (g *Gateway) onGuildMemberAdd(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
	actor := botkit.User{}
	if m.User != nil {
		actor = user(m.User)
	}
	g.forward(EventGuildMemberAdd, actor, botkit.Origin{GuildID: m.GuildID}, m)
}

func (g *Gateway) onGuildMemberRemove(s *discordgo.Session, m *discordgo.GuildMemberRemove) {
	actor := botkit.User{}
	if m.User != nil {
		actor = user(m.User)
	}
	g.forward(EventGuildMemberRemove, actor, botkit.Origin{GuildID: m.GuildID}, m)
}

// forward hands a raw gateway event to the router under its platform name.
func (g *Gateway) forward(event string, actor botkit.User, origin botkit.Origin, raw any) {
	trig := botkit.TextTrigger{Actor: actor, Origin: origin, Raw: raw}
	g.engine.Emit(context.Background(), event, trig, g.transport, raw)
}

// appID returns the application id, fetching the bot user when the state
// cache has not populated yet.
func (g *Gateway) appID() (string, error) {
	if g.session.State != nil && g.session.State.User != nil && g.session.State.User.ID != "" {
		return g.session.State.User.ID, nil
	}
	self, err := g.session.User("@me")
	if err != nil {
		return "", fmt.Errorf("fetch self: %w", err)
	}
	return self.ID, nil
}

func (g *Gateway) messageTrigger(m *discordgo.MessageCreate) botkit.TextTrigger {
	mentions := make([]string, 0, len(m.Mentions))
	for _, u := range m.Mentions {
		mentions = append(mentions, u.ID)
	}
	return botkit.TextTrigger{
		Actor:           user(m.Author),
		Origin:          g.origin(m.GuildID, m.ChannelID),
		Content:         m.Content,
		UserMentions:    mentions,
		ChannelMentions: channelMentions(m.Content),
		Raw:             m,
	}
}

func (g *Gateway) commandTrigger(i *discordgo.InteractionCreate) botkit.InteractiveTrigger {
	data := i.ApplicationCommandData()
	trig := botkit.InteractiveTrigger{
		Actor:   interactionActor(i),
		Origin:  g.origin(i.GuildID, i.ChannelID),
		Command: data.Name,
		Options: convertOptions(data.Options),
		Raw:     i,
	}
	if data.CommandType == discordgo.MessageApplicationCommand || data.CommandType == discordgo.UserApplicationCommand {
		trig.Menu = true
		trig.TargetID = data.TargetID
	}
	return trig
}

// componentTrigger routes a component press to the command that owns it.
// Custom IDs follow the "command:rest" convention; the full ID and any
// select values arrive as options.
func (g *Gateway) componentTrigger(i *discordgo.InteractionCreate) botkit.InteractiveTrigger {
	data := i.MessageComponentData()
	name, _, _ := strings.Cut(data.CustomID, ":")

	opts := []botkit.Option{{Name: "custom_id", Kind: botkit.OptionString, Value: data.CustomID}}
	for _, v := range data.Values {
		opts = append(opts, botkit.Option{Name: "value", Kind: botkit.OptionString, Value: v})
	}

	return botkit.InteractiveTrigger{
		Actor:   interactionActor(i),
		Origin:  g.origin(i.GuildID, i.ChannelID),
		Command: name,
		Options: opts,
		Raw:     i,
	}
}

func interactionActor(i *discordgo.InteractionCreate) botkit.User {
	u := i.User
	if i.Member != nil && i.Member.User != nil {
		u = i.Member.User
	}
	if u == nil {
		return botkit.User{}
	}
	return user(u)
}

func user(u *discordgo.User) botkit.User {
	return botkit.User{ID: u.ID, Username: u.Username, Bot: u.Bot}
}

// origin resolves the restricted flag from channel state, falling back to a
// REST fetch when the channel is not cached yet.
func (g *Gateway) origin(guildID, channelID string) botkit.Origin {
	o := botkit.Origin{GuildID: guildID, ChannelID: channelID}
	if guildID == "" || channelID == "" {
		return o
	}
	ch, err := g.session.State.Channel(channelID)
	if err != nil {
		ch, err = g.session.Channel(channelID)
	}
	if err == nil && ch != nil {
		o.Restricted = ch.NSFW
	}
	return o
}

var channelMentionPattern = regexp.MustCompile(`<#(\d+)>`)

func channelMentions(content string) []string {
	matches := channelMentionPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m[1])
	}
	return ids
}

func convertOptions(opts []*discordgo.ApplicationCommandInteractionDataOption) []botkit.Option {
	if len(opts) == 0 {
		return nil
	}
	out := make([]botkit.Option, 0, len(opts))
	for _, o := range opts {
		out = append(out, botkit.Option{Name: o.Name, Kind: optionKind(o.Type), Value: optionValue(o)})
	}
	return out
}

func optionKind(t discordgo.ApplicationCommandOptionType) botkit.OptionKind {
	switch t {
	case discordgo.ApplicationCommandOptionInteger, discordgo.ApplicationCommandOptionNumber:
		return botkit.OptionNumber
	case discordgo.ApplicationCommandOptionBoolean:
		return botkit.OptionBool
	case discordgo.ApplicationCommandOptionUser:
		return botkit.OptionUser
	case discordgo.ApplicationCommandOptionChannel:
		return botkit.OptionChannel
	case discordgo.ApplicationCommandOptionRole:
		return botkit.OptionRole
	default:
		return botkit.OptionString
	}
}

// optionValue flattens the wire value: snowflake-backed options become the
// plain ID string, numbers stay float64 as decoded.
func optionValue(o *discordgo.ApplicationCommandInteractionDataOption) any {
	switch o.Type {
	case discordgo.ApplicationCommandOptionUser,
		discordgo.ApplicationCommandOptionChannel,
		discordgo.ApplicationCommandOptionRole,
		discordgo.ApplicationCommandOptionMentionable:
		if s, ok := o.Value.(string); ok {
			return s
		}
	}
	return o.Value
}

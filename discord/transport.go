package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/keshon/botkit"
)

// sender is the slice of the session the transport needs. Narrow so tests
// can record calls without a live gateway.
type sender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Transport is the botkit.Transport for Discord: plain channel sends for
// text triggers, interaction responses and follow-ups for interactive ones.
type Transport struct {
	api sender
	log zerolog.Logger
}

// NewTransport wraps a session. Any sender works; production passes the
// gateway's *discordgo.Session.
func NewTransport(api sender, log zerolog.Logger) *Transport {
	return &Transport{api: api, log: log}
}

// Reply delivers r. An interactive invocation answers with a direct response
// the first time and follow-up messages once acknowledged; Ephemeral is
// dropped on text triggers since plain messages have no visibility flag.
func (t *Transport) Reply(ctx context.Context, inv *botkit.Context, r botkit.Reply) error {
	i := interactionFor(inv)
	if i == nil {
		_, err := t.api.ChannelMessageSend(inv.Origin.ChannelID, r.Content)
		return err
	}

	if inv.Deferred() {
		params := &discordgo.WebhookParams{Content: r.Content}
		if r.Ephemeral {
			params.Flags = discordgo.MessageFlagsEphemeral
		}
		_, err := t.api.FollowupMessageCreate(i.Interaction, true, params)
		return err
	}

	data := &discordgo.InteractionResponseData{Content: r.Content}
	if r.Ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return t.api.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
}

// Defer acknowledges an interaction so the handler can reply past the
// platform's response window. Text triggers never reach here; the core
// short-circuits them.
func (t *Transport) Defer(ctx context.Context, inv *botkit.Context, ephemeral bool) error {
	i := interactionFor(inv)
	if i == nil {
		return nil
	}

	resp := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredChannelMessageWithSource}
	if ephemeral {
		resp.Data = &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral}
	}
	return t.api.InteractionRespond(i.Interaction, resp)
}

func interactionFor(inv *botkit.Context) *discordgo.InteractionCreate {
	trig, ok := inv.Trigger().(botkit.InteractiveTrigger)
	if !ok {
		return nil
	}
	i, _ := trig.Raw.(*discordgo.InteractionCreate)
	return i
}

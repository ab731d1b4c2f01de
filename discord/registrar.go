package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/keshon/botkit"
)

// registerRate paces command creation; Discord tolerates short bursts but
// sustained registration above this trips the global limiter.
const registerRate = rate.Limit(25)

// commandAPI is the slice of the session the registrar needs.
type commandAPI interface {
	ApplicationCommands(appID, guildID string, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	ApplicationCommandCreate(appID, guildID string, cmd *discordgo.ApplicationCommand, options ...discordgo.RequestOption) (*discordgo.ApplicationCommand, error)
	ApplicationCommandDelete(appID, guildID, cmdID string, options ...discordgo.RequestOption) error
}

// Registrar mirrors the registry's slash and context-menu surface onto
// guilds. Definition hashes are cached per guild so an unchanged command
// costs nothing on restart.
type Registrar struct {
	api      commandAPI
	registry *botkit.Registry
	cache    hashCache
	limiter  *rate.Limiter
	log      zerolog.Logger
}

// NewRegistrar builds a registrar caching hashes under dataDir.
func NewRegistrar(api commandAPI, registry *botkit.Registry, dataDir string, log zerolog.Logger) *Registrar {
	return &Registrar{
		api:      api,
		registry: registry,
		cache:    hashCache{dir: dataDir},
		limiter:  rate.NewLimiter(registerRate, 1),
		log:      log,
	}
}

// Sync reconciles one guild: remote strays are deleted, changed or missing
// definitions recreated, everything else left alone.
func (r *Registrar) Sync(ctx context.Context, appID, guildID string) error {
	existing, err := r.api.ApplicationCommands(appID, guildID)
	if err != nil {
		return fmt.Errorf("list commands for guild %s: %w", guildID, err)
	}

	var wanted []*discordgo.ApplicationCommand
	hashes := make(map[string]string)
	for _, cmd := range r.registry.All() {
		def := definitionFor(cmd)
		if def == nil {
			continue
		}
		wanted = append(wanted, def)
		hashes[def.Name] = hashDefinition(def)
	}

	cached := r.cache.load(guildID)
	remote := make(map[string]bool, len(existing))

	for _, old := range existing {
		if _, ok := hashes[old.Name]; ok {
			remote[old.Name] = true
			continue
		}
		r.log.Info().Str("guild", guildID).Str("command", old.Name).Msg("deleting stray command")
		if err := r.api.ApplicationCommandDelete(appID, guildID, old.ID); err != nil {
			r.log.Error().Err(err).Str("guild", guildID).Str("command", old.Name).Msg("delete failed")
			continue
		}
		delete(cached, old.Name)
	}

	for _, def := range wanted {
		// A matching cached hash only counts while the command still
		// exists remotely; anything deleted out of band is recreated.
		if cached[def.Name] == hashes[def.Name] && remote[def.Name] {
			continue
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := r.api.ApplicationCommandCreate(appID, guildID, def); err != nil {
			r.log.Error().Err(err).Str("guild", guildID).Str("command", def.Name).Msg("create failed")
			delete(cached, def.Name)
			continue
		}
		cached[def.Name] = hashes[def.Name]
		r.log.Info().Str("guild", guildID).Str("command", def.Name).Msg("command registered")
	}

	if err := r.cache.save(guildID, cached); err != nil {
		return fmt.Errorf("save command cache for guild %s: %w", guildID, err)
	}
	return nil
}

// definitionFor builds the application-command definition for cmd, or nil
// when the command is text-only. A command carrying both flags registers as
// a slash command; context-menu entries share the name namespace and cannot
// coexist under one definition.
func definitionFor(cmd *botkit.Command) *discordgo.ApplicationCommand {
	switch {
	case cmd.Slash:
		def := &discordgo.ApplicationCommand{
			Name:        cmd.Name,
			Description: cmd.Description,
			Type:        discordgo.ChatApplicationCommand,
			Options:     optionDefs(cmd.Options),
		}
		if def.Description == "" {
			// The platform rejects chat commands without one.
			def.Description = cmd.Name
		}
		if mask := defaultMemberPermissions(cmd.Permissions); mask != 0 {
			def.DefaultMemberPermissions = &mask
		}
		return def
	case cmd.ContextMenu:
		// Context-menu definitions carry no description or options.
		return &discordgo.ApplicationCommand{
			Name: cmd.Name,
			Type: discordgo.MessageApplicationCommand,
		}
	default:
		return nil
	}
}

func optionDefs(specs []botkit.OptionSpec) []*discordgo.ApplicationCommandOption {
	if len(specs) == 0 {
		return nil
	}
	out := make([]*discordgo.ApplicationCommandOption, 0, len(specs))
	for _, spec := range specs {
		opt := &discordgo.ApplicationCommandOption{
			Name:        spec.Name,
			Description: spec.Description,
			Type:        optionType(spec.Kind),
			Required:    spec.Required,
		}
		for _, c := range spec.Choices {
			opt.Choices = append(opt.Choices, &discordgo.ApplicationCommandOptionChoice{Name: c.Name, Value: c.Value})
		}
		out = append(out, opt)
	}
	return out
}

func optionType(k botkit.OptionKind) discordgo.ApplicationCommandOptionType {
	switch k {
	case botkit.OptionNumber:
		return discordgo.ApplicationCommandOptionNumber
	case botkit.OptionBool:
		return discordgo.ApplicationCommandOptionBoolean
	case botkit.OptionUser:
		return discordgo.ApplicationCommandOptionUser
	case botkit.OptionChannel:
		return discordgo.ApplicationCommandOptionChannel
	case botkit.OptionRole:
		return discordgo.ApplicationCommandOptionRole
	default:
		return discordgo.ApplicationCommandOptionString
	}
}

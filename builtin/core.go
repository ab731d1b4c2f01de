// Package builtin ships the framework's stock commands as a regular plugin.
// Nothing here touches engine internals: the plugin sees the same surface a
// host plugin does.
package builtin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/keshon/botkit"
)

// Core is the stock plugin: help, ping, the per-guild command toggle and
// plugin administration.
type Core struct {
	engine *botkit.Engine
}

// New builds the stock plugin for one engine.
func New(e *botkit.Engine) *Core {
	return &Core{engine: e}
}

func (c *Core) Name() string    { return "core" }
func (c *Core) Version() string { return "1.0.0" }

// OnLoad registers the stock commands through the plugin registrar so they
// unload and reload like any other plugin's.
func (c *Core) OnLoad(ctx context.Context, r *botkit.PluginRegistrar) error {
	for _, cmd := range []*botkit.Command{
		c.helpCommand(),
		c.pingCommand(),
		c.toggleCommand(),
		c.pluginsCommand(),
	} {
		if err := r.Register(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (c *Core) helpCommand() *botkit.Command {
	return &botkit.Command{
		Name:        "help",
		Description: "List commands, or show one in detail",
		Usage:       "help [command]",
		Slash:       true,
		Options: []botkit.OptionSpec{
			{Name: "command", Description: "Command to describe", Kind: botkit.OptionString},
		},
		Run: c.runHelp,
	}
}

func (c *Core) runHelp(ctx context.Context, inv *botkit.Context) error {
	name, ok := inv.StringOption("command")
	if !ok {
		name = argString(inv, 0)
	}
	if name != "" {
		return c.helpDetail(ctx, inv, name)
	}

	reg := c.engine.Registry()
	groups := make(map[string][]*botkit.Command)
	for _, cmd := range reg.All() {
		owner := reg.Owner(cmd.Name)
		if owner == "" {
			owner = "host"
		}
		groups[owner] = append(groups[owner], cmd)
	}

	owners := make([]string, 0, len(groups))
	for owner := range groups {
		owners = append(owners, owner)
	}
	sort.Strings(owners)

	var b strings.Builder
	fmt.Fprintf(&b, "Commands (prefix %s):\n", c.engine.Config().Prefix)
	for _, owner := range owners {
		fmt.Fprintf(&b, "\n%s:\n", owner)
		for _, cmd := range groups[owner] {
			if cmd.Description != "" {
				fmt.Fprintf(&b, "  %s - %s\n", cmd.Name, cmd.Description)
			} else {
				fmt.Fprintf(&b, "  %s\n", cmd.Name)
			}
		}
	}
	return inv.Reply(ctx, b.String())
}

func (c *Core) helpDetail(ctx context.Context, inv *botkit.Context, name string) error {
	reg := c.engine.Registry()
	cmd := reg.Resolve(name)
	if cmd == nil {
		return inv.ReplyEphemeral(ctx, fmt.Sprintf("No command named %q.", name))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s - %s\n", cmd.Name, cmd.Description)
	if cmd.Usage != "" {
		fmt.Fprintf(&b, "Usage: %s\n", cmd.Usage)
	}
	if len(cmd.Aliases) > 0 {
		fmt.Fprintf(&b, "Aliases: %s\n", strings.Join(cmd.Aliases, ", "))
	}
	if cmd.Cooldown > 0 {
		fmt.Fprintf(&b, "Cooldown: %s\n", cmd.Cooldown)
	}
	if owner := reg.Owner(cmd.Name); owner != "" {
		fmt.Fprintf(&b, "Plugin: %s\n", owner)
	}
	return inv.Reply(ctx, b.String())
}

func (c *Core) pingCommand() *botkit.Command {
	return &botkit.Command{
		Name:        "ping",
		Description: "Check that the bot is alive",
		Usage:       "ping",
		Slash:       true,
		Cooldown:    3 * time.Second,
		Run: func(ctx context.Context, inv *botkit.Context) error {
			return inv.Reply(ctx, "Pong!")
		},
	}
}

func (c *Core) toggleCommand() *botkit.Command {
	return &botkit.Command{
		Name:        "command",
		Description: "Enable or disable a command on this server",
		Usage:       "command <enable|disable|list> [name]",
		Slash:       true,
		GuildOnly:   true,
		Permissions: []string{"manage-guild"},
		Options: []botkit.OptionSpec{
			{
				Name:        "action",
				Description: "What to do",
				Kind:        botkit.OptionString,
				Required:    true,
				Choices: []botkit.Choice{
					{Name: "enable", Value: "enable"},
					{Name: "disable", Value: "disable"},
					{Name: "list", Value: "list"},
				},
			},
			{Name: "name", Description: "Command to toggle", Kind: botkit.OptionString},
		},
		Run: c.runToggle,
	}
}

func (c *Core) runToggle(ctx context.Context, inv *botkit.Context) error {
	action, ok := inv.StringOption("action")
	if !ok {
		action = argString(inv, 0)
	}
	name, ok := inv.StringOption("name")
	if !ok {
		name = argString(inv, 1)
	}

	overrides := c.engine.Overrides()
	switch action {
	case "list":
		disabled, err := overrides.DisabledFor(inv.Origin.GuildID)
		if err != nil {
			return err
		}
		if len(disabled) == 0 {
			return inv.ReplyEphemeral(ctx, "No commands are disabled here.")
		}
		return inv.ReplyEphemeral(ctx, "Disabled here: "+strings.Join(disabled, ", "))

	case "enable", "disable":
		cmd := c.engine.Registry().Resolve(name)
		if cmd == nil {
			return inv.ReplyEphemeral(ctx, fmt.Sprintf("No command named %q.", name))
		}
		if action == "disable" {
			// Disabling the toggle would lock admins out of re-enabling
			// anything.
			if cmd.Name == "command" {
				return inv.ReplyEphemeral(ctx, "Refusing to disable the toggle itself.")
			}
			if err := overrides.Disable(inv.Origin.GuildID, cmd.Name); err != nil {
				return err
			}
			return inv.Reply(ctx, fmt.Sprintf("Disabled %s on this server.", cmd.Name))
		}
		if err := overrides.Enable(inv.Origin.GuildID, cmd.Name); err != nil {
			return err
		}
		return inv.Reply(ctx, fmt.Sprintf("Enabled %s on this server.", cmd.Name))

	default:
		return inv.ReplyEphemeral(ctx, "Usage: command <enable|disable|list> [name]")
	}
}

func (c *Core) pluginsCommand() *botkit.Command {
	return &botkit.Command{
		Name:        "plugins",
		Description: "List or administer plugins",
		Usage:       "plugins [list|enable|disable|reload] [name]",
		Slash:       true,
		OwnerOnly:   true,
		Options: []botkit.OptionSpec{
			{
				Name:        "action",
				Description: "What to do",
				Kind:        botkit.OptionString,
				Choices: []botkit.Choice{
					{Name: "list", Value: "list"},
					{Name: "enable", Value: "enable"},
					{Name: "disable", Value: "disable"},
					{Name: "reload", Value: "reload"},
				},
			},
			{Name: "name", Description: "Plugin name", Kind: botkit.OptionString},
		},
		Run: c.runPlugins,
	}
}

func (c *Core) runPlugins(ctx context.Context, inv *botkit.Context) error {
	action, ok := inv.StringOption("action")
	if !ok {
		action = argString(inv, 0)
	}
	name, ok := inv.StringOption("name")
	if !ok {
		name = argString(inv, 1)
	}

	manager := c.engine.Plugins()
	switch action {
	case "", "list":
		infos := manager.List()
		if len(infos) == 0 {
			return inv.Reply(ctx, "No plugins loaded.")
		}
		var b strings.Builder
		b.WriteString("Plugins:\n")
		for _, info := range infos {
			state := "enabled"
			if !info.Enabled {
				state = "disabled"
			}
			fmt.Fprintf(&b, "  %s %s (%s)\n", info.Name, info.Version, state)
		}
		return inv.Reply(ctx, b.String())

	case "enable":
		if err := manager.Enable(ctx, name); err != nil {
			return inv.ReplyEphemeral(ctx, fmt.Sprintf("Enable failed: %v", err))
		}
		return inv.Reply(ctx, fmt.Sprintf("Plugin %s enabled.", name))

	case "disable":
		if name == c.Name() {
			return inv.ReplyEphemeral(ctx, "Refusing to disable the core plugin.")
		}
		if err := manager.Disable(ctx, name); err != nil {
			return inv.ReplyEphemeral(ctx, fmt.Sprintf("Disable failed: %v", err))
		}
		return inv.Reply(ctx, fmt.Sprintf("Plugin %s disabled.", name))

	case "reload":
		if err := manager.Reload(ctx, name); err != nil {
			return inv.ReplyEphemeral(ctx, fmt.Sprintf("Reload failed: %v", err))
		}
		return inv.Reply(ctx, fmt.Sprintf("Plugin %s reloaded.", name))

	default:
		return inv.ReplyEphemeral(ctx, "Usage: plugins [list|enable|disable|reload] [name]")
	}
}

// argString reads a positional text-trigger argument; interactive triggers
// supply the same values through named options instead.
func argString(inv *botkit.Context, i int) string {
	if i >= len(inv.Args) {
		return ""
	}
	s, _ := inv.Args[i].(string)
	return s
}

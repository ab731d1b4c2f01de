package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/botkit"
)

// permissionBits maps capability tags to Discord permission bits. Commands
// declare the lowercase dash-separated form.
var permissionBits = map[string]int64{
	"administrator":    discordgo.PermissionAdministrator,
	"manage-guild":     discordgo.PermissionManageServer,
	"manage-channels":  discordgo.PermissionManageChannels,
	"manage-messages":  discordgo.PermissionManageMessages,
	"manage-roles":     discordgo.PermissionManageRoles,
	"manage-nicknames": discordgo.PermissionManageNicknames,
	"manage-webhooks":  discordgo.PermissionManageWebhooks,
	"kick-members":     discordgo.PermissionKickMembers,
	"ban-members":      discordgo.PermissionBanMembers,
	"moderate-members": discordgo.PermissionModerateMembers,
	"mention-everyone": discordgo.PermissionMentionEveryone,
	"mute-members":     discordgo.PermissionVoiceMuteMembers,
	"deafen-members":   discordgo.PermissionVoiceDeafenMembers,
	"move-members":     discordgo.PermissionVoiceMoveMembers,
}

// permissionAPI is the one session call capability checks need.
type permissionAPI interface {
	UserChannelPermissions(userID, channelID string, fetchOptions ...discordgo.RequestOption) (int64, error)
}

// Permissions answers botkit capability checks against Discord permission
// bits, computed for the invocation's channel.
type Permissions struct {
	api permissionAPI
}

// NewPermissions wraps a session.
func NewPermissions(api permissionAPI) *Permissions {
	return &Permissions{api: api}
}

// Has implements botkit.Capabilities. Direct conversations carry no member
// permissions, so every tag passes there; an unknown tag is a lookup error
// and the caller counts it as missing.
func (p *Permissions) Has(ctx context.Context, inv *botkit.Context, tag string) (bool, error) {
	bit, ok := permissionBits[strings.ToLower(tag)]
	if !ok {
		return false, fmt.Errorf("unknown capability tag %q", tag)
	}
	if inv.Direct {
		return true, nil
	}

	perms, err := p.api.UserChannelPermissions(inv.Actor.ID, inv.Origin.ChannelID)
	if err != nil {
		return false, fmt.Errorf("permission lookup for %s: %w", inv.Actor.ID, err)
	}
	if perms&discordgo.PermissionAdministrator != 0 {
		return true, nil
	}
	return perms&bit != 0, nil
}

// defaultMemberPermissions folds capability tags into the default-permission
// mask Discord applies in its own UI, before the dispatcher's guard runs.
// Unknown tags contribute nothing; the guard stage rejects them at dispatch.
func defaultMemberPermissions(tags []string) int64 {
	var mask int64
	for _, tag := range tags {
		mask |= permissionBits[strings.ToLower(tag)]
	}
	return mask
}

package discord

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/bwmarrin/discordgo"
)

// hashDefinition returns a stable digest of a definition, ignoring
// runtime-only fields such as IDs and versions.
func hashDefinition(def *discordgo.ApplicationCommand) string {
	data, _ := json.Marshal(normalizeDefinition(def))
	sum := sha1.Sum(data)
	return fmt.Sprintf("%x", sum)
}

func normalizeDefinition(def *discordgo.ApplicationCommand) map[string]any {
	obj := map[string]any{
		"name":        def.Name,
		"description": def.Description,
		"type":        def.Type,
	}
	if def.DefaultMemberPermissions != nil {
		obj["permissions"] = *def.DefaultMemberPermissions
	}
	if len(def.Options) > 0 {
		obj["options"] = normalizeOptionList(def.Options)
	}
	return obj
}

// normalizeOptionList sorts options by name so declaration order never
// changes the digest.
func normalizeOptionList(opts []*discordgo.ApplicationCommandOption) []map[string]any {
	normalized := make([]map[string]any, len(opts))
	for i, o := range opts {
		entry := map[string]any{
			"name":        o.Name,
			"description": o.Description,
			"type":        o.Type,
			"required":    o.Required,
		}
		if len(o.Choices) > 0 {
			choices := make([]map[string]any, len(o.Choices))
			for j, c := range o.Choices {
				choices[j] = map[string]any{"name": c.Name, "value": c.Value}
			}
			entry["choices"] = choices
		}
		if len(o.Options) > 0 {
			entry["options"] = normalizeOptionList(o.Options)
		}
		normalized[i] = entry
	}

	sort.Slice(normalized, func(i, j int) bool {
		return normalized[i]["name"].(string) < normalized[j]["name"].(string)
	})
	return normalized
}

package botkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTextTrigger(t *testing.T) {
	n := Normalizer{Prefix: "!"}

	tests := []struct {
		name        string
		content     string
		wantCommand string
		wantArgs    []any
	}{
		{
			name:        "bare command",
			content:     "!ping",
			wantCommand: "ping",
			wantArgs:    []any{},
		},
		{
			name:        "command with arguments",
			content:     "!echo hello world",
			wantCommand: "echo",
			wantArgs:    []any{"hello", "world"},
		},
		{
			name:        "runs of whitespace collapse",
			content:     "!echo   hello   world",
			wantCommand: "echo",
			wantArgs:    []any{"hello", "world"},
		},
		{
			name:        "plain chatter parses no command",
			content:     "hello there",
			wantCommand: "",
		},
		{
			name:        "prefix alone parses no command",
			content:     "!",
			wantCommand: "",
		},
		{
			name:        "prefix with only whitespace parses no command",
			content:     "!   ",
			wantCommand: "",
		},
		{
			name:        "prefix mid-message is not a trigger",
			content:     "shout !ping",
			wantCommand: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			inv := n.Normalize(TextTrigger{
				Actor:   User{ID: "u1", Username: "alice"},
				Origin:  Origin{GuildID: "g1", ChannelID: "c1"},
				Content: tc.content,
			}, nil)

			assert.Equal(t, tc.wantCommand, inv.Command)
			if tc.wantArgs != nil {
				assert.Equal(t, tc.wantArgs, inv.Args)
			}
			assert.False(t, inv.Interactive)
			assert.False(t, inv.Direct)
			assert.Equal(t, "u1", inv.Actor.ID)
		})
	}
}

func TestNormalizeWithoutPrefixParsesNothing(t *testing.T) {
	n := Normalizer{}

	inv := n.Normalize(TextTrigger{Content: "!ping"}, nil)
	assert.Empty(t, inv.Command)
}

func TestNormalizeInteractiveTrigger(t *testing.T) {
	n := Normalizer{Prefix: "!"}

	inv := n.Normalize(InteractiveTrigger{
		Actor:   User{ID: "u1"},
		Origin:  Origin{GuildID: "g1", ChannelID: "c1"},
		Command: "pay",
		Options: []Option{
			{Name: "recipient", Kind: OptionUser, Value: "u2"},
			{Name: "amount", Kind: OptionNumber, Value: float64(5)},
		},
	}, nil)

	assert.True(t, inv.Interactive)
	assert.Equal(t, "pay", inv.Command)
	assert.Equal(t, []any{"u2", float64(5)}, inv.Args, "option values in supplied order")
}

func TestNormalizeMenuTargetBecomesOption(t *testing.T) {
	n := Normalizer{Prefix: "!"}

	trig := InteractiveTrigger{
		Actor:    User{ID: "u1"},
		Origin:   Origin{GuildID: "g1"},
		Command:  "report",
		Menu:     true,
		TargetID: "m42",
	}
	inv := n.Normalize(trig, nil)

	assert.Equal(t, []any{"m42"}, inv.Args)
	assert.Equal(t, "m42", inv.Option("target"))
	assert.Empty(t, trig.Options, "the trigger itself stays untouched")
}

func TestNormalizeMenuTargetAppendsAfterOptions(t *testing.T) {
	n := Normalizer{}

	inv := n.Normalize(InteractiveTrigger{
		Command:  "report",
		Options:  []Option{{Name: "reason", Kind: OptionString, Value: "spam"}},
		Menu:     true,
		TargetID: "m42",
	}, nil)

	assert.Equal(t, []any{"spam", "m42"}, inv.Args)
}

func TestNormalizeDirectOrigin(t *testing.T) {
	n := Normalizer{Prefix: "!"}

	direct := n.Normalize(TextTrigger{Origin: Origin{ChannelID: "dm1"}, Content: "!ping"}, nil)
	assert.True(t, direct.Direct)

	guild := n.Normalize(TextTrigger{Origin: Origin{GuildID: "g1"}, Content: "!ping"}, nil)
	assert.False(t, guild.Direct)
}

func TestNormalizeAssignsUniqueIDs(t *testing.T) {
	n := Normalizer{Prefix: "!"}

	a := n.Normalize(TextTrigger{Content: "!ping"}, nil)
	b := n.Normalize(TextTrigger{Content: "!ping"}, nil)

	require.NotEmpty(t, a.ID)
	require.NotEmpty(t, b.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

package botkit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(_ context.Context, _ *Context) error { return nil }

func testCommand(name string, aliases ...string) *Command {
	return &Command{Name: name, Aliases: aliases, Run: noopHandler}
}

func TestRegistryRegisterAndResolve(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(testCommand("ping", "p")))

	assert.NotNil(t, r.Resolve("ping"))
	assert.NotNil(t, r.Resolve("p"), "aliases resolve to the canonical command")
	assert.Same(t, r.Resolve("ping"), r.Resolve("p"))
	assert.Nil(t, r.Resolve("pong"))
}

func TestRegistryValidation(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name string
		cmd  *Command
		want error
	}{
		{
			name: "empty name",
			cmd:  &Command{Run: noopHandler},
			want: ErrEmptyName,
		},
		{
			name: "nil handler",
			cmd:  &Command{Name: "ping"},
			want: ErrNilHandler,
		},
		{
			name: "overload without patterns",
			cmd:  &Command{Name: "calc", Overload: true},
			want: ErrOverloadNoPattern,
		},
		{
			name: "overload pattern missing matcher",
			cmd: &Command{
				Name:     "calc",
				Overload: true,
				Patterns: []Pattern{{Run: noopHandler}},
			},
			want: ErrNilHandler,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := r.Register(tc.cmd)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRegistryRejectsCollisions(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testCommand("ping", "p")))

	tests := []struct {
		name string
		cmd  *Command
		want error
	}{
		{
			name: "duplicate name",
			cmd:  testCommand("ping"),
			want: ErrCommandExists,
		},
		{
			name: "name shadowing an alias",
			cmd:  testCommand("p"),
			want: ErrAliasExists,
		},
		{
			name: "alias shadowing a name",
			cmd:  testCommand("pong", "ping"),
			want: ErrCommandExists,
		},
		{
			name: "alias shadowing an alias",
			cmd:  testCommand("pong", "p"),
			want: ErrAliasExists,
		},
		{
			name: "alias duplicated within one command",
			cmd:  testCommand("pong", "po", "po"),
			want: ErrAliasExists,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := r.Register(tc.cmd)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	// Failed registrations must leave nothing behind.
	assert.Nil(t, r.Resolve("pong"))
	assert.Nil(t, r.Resolve("po"))
}

func TestRegistryUnregisterPrunesAliases(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testCommand("ping", "p", "pi")))

	require.NoError(t, r.Unregister("ping"))

	assert.Nil(t, r.Resolve("ping"))
	assert.Nil(t, r.Resolve("p"))
	assert.Nil(t, r.Resolve("pi"))

	// The freed alias is reusable immediately.
	assert.NoError(t, r.Register(testCommand("pong", "p")))
}

func TestRegistryUnregisterUnknown(t *testing.T) {
	r := NewRegistry()
	assert.ErrorIs(t, r.Unregister("ghost"), ErrUnknownCommand)
}

func TestRegistryAllSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testCommand("roll")))
	require.NoError(t, r.Register(testCommand("ping")))
	require.NoError(t, r.Register(testCommand("about")))

	var names []string
	for _, c := range r.All() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"about", "ping", "roll"}, names)
}

func TestRegistryOwnerTags(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testCommand("host")))
	require.NoError(t, r.register(testCommand("greet"), "social"))

	assert.Empty(t, r.Owner("host"))
	assert.Equal(t, "social", r.Owner("greet"))
}

func TestRegistryReplaceOwned(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testCommand("host")))
	require.NoError(t, r.register(testCommand("greet", "hi"), "social"))
	require.NoError(t, r.register(testCommand("wave"), "social"))

	err := r.replaceOwned("social", []*Command{testCommand("salute", "hi")})
	require.NoError(t, err)

	assert.Nil(t, r.Resolve("greet"))
	assert.Nil(t, r.Resolve("wave"))
	assert.NotNil(t, r.Resolve("salute"))
	assert.NotNil(t, r.Resolve("hi"), "alias carried over to the replacement")
	assert.NotNil(t, r.Resolve("host"), "entries of other owners are untouched")
	assert.Equal(t, "social", r.Owner("salute"))
}

func TestRegistryReplaceOwnedRollsBackOnCollision(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testCommand("host")))
	require.NoError(t, r.register(testCommand("greet"), "social"))

	err := r.replaceOwned("social", []*Command{
		testCommand("salute"),
		testCommand("host"),
	})
	require.ErrorIs(t, err, ErrCommandExists)

	// The failed swap is invisible: the old set is still live, nothing of
	// the new one is.
	assert.NotNil(t, r.Resolve("greet"))
	assert.Nil(t, r.Resolve("salute"))
	assert.Equal(t, "social", r.Owner("greet"))
}

func TestRegistryValidateReplacement(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testCommand("host")))
	require.NoError(t, r.register(testCommand("greet", "hi"), "social"))

	// Reusing the plugin's own names is fine, taking the host's is not.
	assert.NoError(t, r.validateReplacement(testCommand("greet"), "social"))
	assert.NoError(t, r.validateReplacement(testCommand("fresh", "hi"), "social"))
	assert.ErrorIs(t, r.validateReplacement(testCommand("host"), "social"), ErrCommandExists)

	// Validation never mutates.
	assert.NotNil(t, r.Resolve("greet"))
	assert.Nil(t, r.Resolve("fresh"))
}

func TestRegistryClear(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testCommand("ping", "p")))

	r.Clear()

	assert.Nil(t, r.Resolve("ping"))
	assert.Nil(t, r.Resolve("p"))
	assert.Empty(t, r.All())
}

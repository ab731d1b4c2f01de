package botkit

import (
	"fmt"
	"maps"
	"sort"
	"sync"
)

// Registry stores commands by name plus an alias table pointing back at
// canonical names. It performs no dispatch; the dispatcher resolves and runs.
// Instances are independent, so tests and embedded hosts create their own.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
	aliases  map[string]string
	owners   map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]string),
		owners:   make(map[string]string),
	}
}

// Register adds a command after validating it. Name and alias collisions are
// rejected in either direction: a new name may not shadow an existing alias
// and a new alias may not shadow an existing name.
func (r *Registry) Register(c *Command) error {
	return r.register(c, "")
}

// register tags the entry with the owning plugin name; empty means host-owned.
func (r *Registry) register(c *Command, owner string) error {
	if err := c.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkCollisions(c, ""); err != nil {
		return err
	}

	r.commands[c.Name] = c
	for _, a := range c.Aliases {
		r.aliases[a] = c.Name
	}
	if owner != "" {
		r.owners[c.Name] = owner
	}
	return nil
}

// checkCollisions verifies name and aliases are free. Entries owned by
// ignoreOwner are treated as absent; the plugin manager uses that to validate
// a replacement set while the old one is still live.
func (r *Registry) checkCollisions(c *Command, ignoreOwner string) error {
	taken := func(name string) error {
		if cur, ok := r.commands[name]; ok {
			if ignoreOwner != "" && r.owners[cur.Name] == ignoreOwner {
				return nil
			}
			return fmt.Errorf("%s: %w", name, ErrCommandExists)
		}
		if canonical, ok := r.aliases[name]; ok {
			if ignoreOwner != "" && r.owners[canonical] == ignoreOwner {
				return nil
			}
			return fmt.Errorf("%s: %w", name, ErrAliasExists)
		}
		return nil
	}

	if err := taken(c.Name); err != nil {
		return err
	}
	seen := map[string]bool{c.Name: true}
	for _, a := range c.Aliases {
		if seen[a] {
			return fmt.Errorf("%s: %w", a, ErrAliasExists)
		}
		seen[a] = true
		if err := taken(a); err != nil {
			return err
		}
	}
	return nil
}

// validateReplacement checks whether c could be registered once every entry
// owned by owner is gone, without touching live state. The plugin manager
// runs a reload's shadow set through this before retracting anything.
func (r *Registry) validateReplacement(c *Command, owner string) error {
	if err := c.validate(); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.checkCollisions(c, owner)
}

// replaceOwned swaps every entry owned by owner for cmds under one lock.
// On a collision the maps roll back to the snapshot, so the swap is
// all-or-nothing even against racing registrations.
func (r *Registry) replaceOwned(owner string, cmds []*Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldCommands := maps.Clone(r.commands)
	oldAliases := maps.Clone(r.aliases)
	oldOwners := maps.Clone(r.owners)

	for name, o := range oldOwners {
		if o != owner {
			continue
		}
		delete(r.commands, name)
		delete(r.owners, name)
		for alias, canonical := range oldAliases {
			if canonical == name {
				delete(r.aliases, alias)
			}
		}
	}

	for _, c := range cmds {
		if err := r.checkCollisions(c, ""); err != nil {
			r.commands, r.aliases, r.owners = oldCommands, oldAliases, oldOwners
			return err
		}
		r.commands[c.Name] = c
		for _, a := range c.Aliases {
			r.aliases[a] = c.Name
		}
		r.owners[c.Name] = owner
	}
	return nil
}

// Unregister removes the command and prunes every alias pointing at it, so no
// dangling entry survives. Plugin teardown depends on this.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.commands[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownCommand)
	}
	delete(r.commands, name)
	delete(r.owners, name)
	for alias, canonical := range r.aliases {
		if canonical == c.Name {
			delete(r.aliases, alias)
		}
	}
	return nil
}

// Resolve looks up a command by name first, then by alias. No fuzzy matching.
func (r *Registry) Resolve(nameOrAlias string) *Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.commands[nameOrAlias]; ok {
		return c
	}
	if canonical, ok := r.aliases[nameOrAlias]; ok {
		return r.commands[canonical]
	}
	return nil
}

// Owner returns the plugin that registered the command, or "" for host-owned
// entries.
func (r *Registry) Owner(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owners[name]
}

// All returns every registered command once, sorted by name.
func (r *Registry) All() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*Command, 0, len(r.commands))
	for _, c := range r.commands {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}

// Clear removes every command, alias and owner tag. Hot-reload rebuilds from
// scratch on top of this.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = make(map[string]*Command)
	r.aliases = make(map[string]string)
	r.owners = make(map[string]string)
}

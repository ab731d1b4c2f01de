package botkit

import (
	"fmt"
	"slices"
	"sort"

	"github.com/keshon/botkit/store"
)

const overridesKey = "command-overrides"

type overridesRecord struct {
	Disabled []string `json:"disabled"`
}

// Overrides is the guild command override table: guild to command to enabled
// flag, default-allow. An admin operation mutates it; the dispatcher's
// enablement stage reads it. Backed by a Store so state survives restarts.
type Overrides struct {
	st store.Store
}

// NewOverrides wraps st. A nil store yields a table that allows everything
// and rejects mutation.
func NewOverrides(st store.Store) *Overrides {
	return &Overrides{st: st}
}

func (o *Overrides) record(guildID string) (overridesRecord, error) {
	var rec overridesRecord
	if o.st == nil {
		return rec, nil
	}
	if _, err := o.st.Get(store.Scope{Guild: guildID}, overridesKey, &rec); err != nil {
		return rec, fmt.Errorf("read overrides for %s: %w", guildID, err)
	}
	return rec, nil
}

func (o *Overrides) save(guildID string, rec overridesRecord) error {
	if o.st == nil {
		return fmt.Errorf("overrides have no store")
	}
	if err := o.st.Set(store.Scope{Guild: guildID}, overridesKey, rec); err != nil {
		return fmt.Errorf("write overrides for %s: %w", guildID, err)
	}
	return nil
}

// Disable marks command disabled in the guild. Disabling twice is a no-op.
func (o *Overrides) Disable(guildID, command string) error {
	rec, err := o.record(guildID)
	if err != nil {
		return err
	}
	if slices.Contains(rec.Disabled, command) {
		return nil
	}
	rec.Disabled = append(rec.Disabled, command)
	sort.Strings(rec.Disabled)
	return o.save(guildID, rec)
}

// Enable removes the disabled mark; absent entries stay absent.
func (o *Overrides) Enable(guildID, command string) error {
	rec, err := o.record(guildID)
	if err != nil {
		return err
	}
	kept := rec.Disabled[:0]
	for _, name := range rec.Disabled {
		if name != command {
			kept = append(kept, name)
		}
	}
	rec.Disabled = kept
	return o.save(guildID, rec)
}

// Disabled reports whether command is disabled in the guild. Absence means
// enabled.
func (o *Overrides) Disabled(guildID, command string) (bool, error) {
	rec, err := o.record(guildID)
	if err != nil {
		return false, err
	}
	return slices.Contains(rec.Disabled, command), nil
}

// DisabledFor lists every command disabled in the guild, sorted.
func (o *Overrides) DisabledFor(guildID string) ([]string, error) {
	rec, err := o.record(guildID)
	if err != nil {
		return nil, err
	}
	return rec.Disabled, nil
}

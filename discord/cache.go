package discord

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// hashCache persists per-guild definition digests under the data directory
// so unchanged commands survive restarts without API calls.
type hashCache struct {
	dir string
}

func (c hashCache) path(guildID string) string {
	return filepath.Join(c.dir, "commands", guildID+".json")
}

// load returns the cached digests for a guild. A missing or unreadable file
// yields an empty map, which forces re-registration.
func (c hashCache) load(guildID string) map[string]string {
	hashes := make(map[string]string)
	data, err := os.ReadFile(c.path(guildID))
	if err == nil {
		_ = json.Unmarshal(data, &hashes)
	}
	return hashes
}

func (c hashCache) save(guildID string, hashes map[string]string) error {
	path := c.path(guildID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, _ := json.MarshalIndent(hashes, "", "  ")
	return os.WriteFile(path, data, 0o644)
}

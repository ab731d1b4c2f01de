package botkit

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config carries everything the engine and the demo binary read from the
// environment. Programmatic construction works the same; New never looks at
// the environment itself.
type Config struct {
	// DiscordToken authenticates the gateway adapter. Library use without
	// the adapter leaves it empty.
	DiscordToken string `env:"DISCORD_TOKEN"`

	// Prefix marks textual command triggers, e.g. "!ping".
	Prefix string `env:"BOT_PREFIX" envDefault:"!"`

	// OwnerIDs are actor IDs that pass owner-only guards.
	OwnerIDs []string `env:"BOT_OWNER_IDS" envSeparator:","`

	// StoragePath is the datastore file for overrides and plugin config.
	StoragePath string `env:"STORAGE_PATH" envDefault:"datastore.json"`

	// DataDir holds adapter caches such as per-guild command hashes.
	DataDir string `env:"DATA_DIR" envDefault:"data"`

	// SyncCommands controls slash-command registration on guild join.
	SyncCommands bool `env:"SYNC_COMMANDS" envDefault:"true"`

	// WatchPaths, when set, are watched for changes that trigger a loader
	// reload.
	WatchPaths []string `env:"WATCH_PATHS" envSeparator:","`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`
}

// ConfigFromEnv loads .env when present, then parses the environment. A
// missing .env file is not an error; unset variables fall back to defaults.
func ConfigFromEnv() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

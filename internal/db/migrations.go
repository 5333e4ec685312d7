package db

import "fmt"

type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{version: 1, name: "users", sql: usersTable},
	{version: 2, name: "user_cards", sql: userCardsTable},
	{version: 3, name: "external_cache", sql: externalCacheTable},
}

func validateMigrations() error {
	if len(migrations) == 0 {
		return fmt.Errorf("no migrations defined")
	}

	seenVersions := make(map[int]bool)
	seenNames := make(map[string]bool)
	prevVersion := 0
	for _, migration := range migrations {
		if migration.version <= 0 {
			return fmt.Errorf("invalid migration version %d", migration.version)
		}
		if seenVersions[migration.version] {
			return fmt.Errorf("duplicate migration version %d", migration.version)
		}
		if seenNames[migration.name] {
			return fmt.Errorf("duplicate migration name %s", migration.name)
		}
		if migration.version <= prevVersion {
			return fmt.Errorf("migration version %d out of order", migration.version)
		}
		seenVersions[migration.version] = true
		seenNames[migration.name] = true
		prevVersion = migration.version
	}

	return nil
}

const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

const usersTable = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT UNIQUE NOT NULL CHECK (email = lower(email)),
	display_name TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	disabled_at DATETIME,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
`

const userCardsTable = `
CREATE TABLE IF NOT EXISTS user_cards (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	pokemon_id INTEGER NOT NULL CHECK (pokemon_id > 0),
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (user_id, pokemon_id),
	FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_user_cards_user_id ON user_cards(user_id);
`

const externalCacheTable = `
CREATE TABLE IF NOT EXISTS external_cache (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	provider TEXT NOT NULL CHECK (provider IN ('pokeapi', 'sprites')),
	cache_key TEXT UNIQUE NOT NULL,
	payload_json TEXT NOT NULL,
	etag TEXT,
	fetched_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	ttl_seconds INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_external_cache_provider_key ON external_cache(provider, cache_key);
CREATE INDEX IF NOT EXISTS idx_external_cache_fetched_at ON external_cache(fetched_at);
`

package storage

// Migration represents a database migration
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create attempts table",
			SQL: `
				CREATE TABLE IF NOT EXISTS attempts (
					id TEXT PRIMARY KEY,
					trigger_type TEXT NOT NULL,
					contract TEXT NOT NULL,
					method TEXT NOT NULL,
					status TEXT NOT NULL,
					tx_hash TEXT NOT NULL DEFAULT '',
					block_number INTEGER NOT NULL DEFAULT 0,
					gas_used INTEGER NOT NULL DEFAULT 0,
					error TEXT NOT NULL DEFAULT '',
					message TEXT NOT NULL DEFAULT '',
					started_at DATETIME NOT NULL,
					finished_at DATETIME NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_attempts_started_at ON attempts(started_at);
				CREATE INDEX IF NOT EXISTS idx_attempts_status ON attempts(status);
				CREATE INDEX IF NOT EXISTS idx_attempts_tx_hash ON attempts(tx_hash);
			`,
		},
		{
			Version:     "002",
			Description: "Create schema migrations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS schema_migrations (
					version TEXT PRIMARY KEY,
					description TEXT NOT NULL,
					applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create attempts table",
			SQL: `
				CREATE TABLE IF NOT EXISTS attempts (
					id VARCHAR(36) PRIMARY KEY,
					trigger_type VARCHAR(16) NOT NULL,
					contract VARCHAR(42) NOT NULL,
					method VARCHAR(255) NOT NULL,
					status VARCHAR(16) NOT NULL,
					tx_hash VARCHAR(66) NOT NULL DEFAULT '',
					block_number BIGINT NOT NULL DEFAULT 0,
					gas_used BIGINT NOT NULL DEFAULT 0,
					error TEXT NOT NULL DEFAULT '',
					message TEXT NOT NULL DEFAULT '',
					started_at TIMESTAMPTZ NOT NULL,
					finished_at TIMESTAMPTZ NOT NULL,
					created_at TIMESTAMPTZ DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_attempts_started_at ON attempts(started_at);
				CREATE INDEX IF NOT EXISTS idx_attempts_status ON attempts(status);
				CREATE INDEX IF NOT EXISTS idx_attempts_tx_hash ON attempts(tx_hash);
			`,
		},
		{
			Version:     "002",
			Description: "Create schema migrations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS schema_migrations (
					version VARCHAR(16) PRIMARY KEY,
					description TEXT NOT NULL,
					applied_at TIMESTAMPTZ DEFAULT NOW()
				);
			`,
		},
	}
}

package statestore

import "fmt"

// migrate runs all pending migrations, tracked by version number in a
// dedicated migrations table.
func (s *Store) migrate() error {
	createMigrationsTableSQL := `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := s.db.Exec(createMigrationsTableSQL); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("read current migration version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{
			version: 1,
			sql: `
				CREATE TABLE repo_state (
					repo TEXT PRIMARY KEY,
					manifest_json TEXT NOT NULL,
					committed_at DATETIME NOT NULL,
					last_result TEXT NOT NULL,
					last_attempt_at DATETIME NOT NULL
				);

				CREATE TABLE sync_runs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					repo TEXT NOT NULL,
					start_time DATETIME NOT NULL,
					end_time DATETIME,
					status TEXT NOT NULL,
					packages INTEGER DEFAULT 0,
					bytes INTEGER DEFAULT 0
				);
			`,
		},
	}

	for _, mig := range migrations {
		if mig.version <= currentVersion {
			continue
		}
		s.logger.Info("running state store migration", "version", mig.version)
		if err := s.runMigration(mig.version, mig.sql); err != nil {
			return fmt.Errorf("migration %d: %w", mig.version, err)
		}
	}

	return nil
}

func (s *Store) runMigration(version int, sql string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(sql); err != nil {
		return fmt.Errorf("execute migration sql: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}

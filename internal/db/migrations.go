package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/marcus/taskpilot/internal/logging"
)

// Migration represents a single schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema: agents, task_history, decisions",
		SQL:         migration001SQL,
	},
	{
		Version:     2,
		Description: "add cycle_skips table for dropped cycles",
		SQL:         migration002SQL,
	},
}

const migration001SQL = `
CREATE TABLE agents (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    risk_profile  TEXT NOT NULL,
    time_horizon  TEXT NOT NULL,
    interval_ms   INTEGER NOT NULL,
    registered_at DATETIME NOT NULL
);

CREATE TABLE task_history (
    agent_id          TEXT NOT NULL,
    task_type         TEXT NOT NULL,
    executions        INTEGER NOT NULL DEFAULT 0,
    successes         INTEGER NOT NULL DEFAULT 0,
    total_performance REAL NOT NULL DEFAULT 0,
    avg_performance   REAL NOT NULL DEFAULT 0,
    last_executed     DATETIME,
    PRIMARY KEY (agent_id, task_type)
);

CREATE TABLE decisions (
    id          TEXT PRIMARY KEY,
    agent_id    TEXT NOT NULL,
    timestamp   DATETIME NOT NULL,
    kind        TEXT NOT NULL,
    task_type   TEXT NOT NULL DEFAULT '',
    projected   REAL NOT NULL DEFAULT 0,
    actual      REAL NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    success     INTEGER NOT NULL DEFAULT 0,
    confidence  REAL NOT NULL DEFAULT 0,
    reason      TEXT NOT NULL DEFAULT '',
    error       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX idx_decisions_agent_time ON decisions(agent_id, timestamp DESC);
`

const migration002SQL = `
CREATE TABLE IF NOT EXISTS cycle_skips (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_id  TEXT NOT NULL,
    timestamp DATETIME NOT NULL,
    reason    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cycle_skips_agent_time ON cycle_skips(agent_id, timestamp DESC);
`

// Migrate runs all pending migrations inside transactions.
func Migrate(db *sql.DB) error {
	if db == nil {
		return errors.New("db is nil")
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY, applied_at DATETIME)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	currentVersion, err := CurrentVersion(db)
	if err != nil {
		return err
	}

	logger := logging.Component("db")
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(migration.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, CURRENT_TIMESTAMP)`, migration.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", migration.Version, err)
		}

		logger.DebugCtx("applied migration", map[string]any{
			"version":     migration.Version,
			"description": migration.Description,
		})
		currentVersion = migration.Version
	}

	return nil
}

// CurrentVersion returns the current schema version (0 if no migrations applied).
func CurrentVersion(db *sql.DB) (int, error) {
	if db == nil {
		return 0, errors.New("db is nil")
	}

	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	var version int
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema_version: %w", err)
	}
	return version, nil
}

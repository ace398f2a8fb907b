package store

import (
	"fmt"
)

// Migration represents a database schema migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of all migrations
// New migrations should be appended to the end with incrementing version numbers
var migrations = []Migration{
	{
		Version:     1,
		Description: "Order and trade journal",
		SQL: `
		CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY,
			instrument TEXT NOT NULL,
			side TEXT NOT NULL,       -- 'buy' or 'sell'
			type TEXT NOT NULL,       -- 'limit' or 'market'
			price TEXT NOT NULL DEFAULT '',  -- decimal string, empty for market
			requested INTEGER NOT NULL,
			submitted_at DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			instrument TEXT NOT NULL,
			price TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			maker_order_id INTEGER NOT NULL,
			taker_order_id INTEGER NOT NULL,
			buy_order_id INTEGER NOT NULL,
			sell_order_id INTEGER NOT NULL,
			taker_side TEXT NOT NULL,
			executed_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_orders_instrument ON orders(instrument);
		CREATE INDEX IF NOT EXISTS idx_trades_instrument ON trades(instrument, executed_at);
		CREATE INDEX IF NOT EXISTS idx_trades_maker ON trades(maker_order_id);
		CREATE INDEX IF NOT EXISTS idx_trades_taker ON trades(taker_order_id);
		`,
	},
	{
		Version:     2,
		Description: "Closed orders",
		SQL: `
		CREATE TABLE IF NOT EXISTS order_closures (
			order_id INTEGER PRIMARY KEY REFERENCES orders(id),
			status TEXT NOT NULL,     -- 'cancelled' or 'expired'
			remaining INTEGER NOT NULL,
			closed_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		`,
	},
}

// initMigrationsTable creates the migrations tracking table
func (s *Store) initMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// getCurrentVersion returns the highest applied migration version
func (s *Store) getCurrentVersion() (int, error) {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// Migrate runs all pending migrations
func (s *Store) Migrate() error {
	if err := s.initMigrationsTable(); err != nil {
		return fmt.Errorf("failed to init migrations table: %w", err)
	}

	currentVersion, err := s.getCurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		if err := s.applyMigration(m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
	}

	return nil
}

// applyMigration runs a single migration in a transaction
func (s *Store) applyMigration(m Migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Run the migration SQL
	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}

	// Record the migration
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// MigrationStatus returns applied and pending migrations
func (s *Store) MigrationStatus() (applied []int, pending []int, err error) {
	if err := s.initMigrationsTable(); err != nil {
		return nil, nil, err
	}

	// Get applied versions
	rows, err := s.db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	appliedSet := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, nil, err
		}
		applied = append(applied, v)
		appliedSet[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	// Find pending
	for _, m := range migrations {
		if !appliedSet[m.Version] {
			pending = append(pending, m.Version)
		}
	}

	return applied, pending, nil
}

// Package prefs reads stored user preference rules for the ranking engine's
// personalization step. The preference table is owned by the profile service;
// this store only reads it.
package prefs

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/around-me/discovery/internal/model"
)

// Store reads preference rules from a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens the preference database at the given DSN and configures WAL mode.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "prefs: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "prefs: exec %s", pragma)
		}
	}
	return &Store{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS preferences (
	user_id     TEXT NOT NULL,
	feature_key TEXT NOT NULL,
	weight      REAL NOT NULL DEFAULT 1.0,
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (user_id, feature_key)
);

CREATE INDEX IF NOT EXISTS idx_preferences_user_id ON preferences(user_id);
`

// Migrate creates the preference schema. Production deployments share the
// profile service's database where the table already exists; tests and local
// runs need this.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "prefs: migrate")
}

// ForUser returns the preference rules for a user, strongest first. An
// unknown user yields an empty slice, not an error.
func (s *Store) ForUser(ctx context.Context, userID string) ([]model.PreferenceRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT feature_key, weight FROM preferences WHERE user_id = ? ORDER BY weight DESC, feature_key ASC`,
		userID)
	if err != nil {
		return nil, eris.Wrap(err, "prefs: query")
	}
	defer rows.Close()

	var rules []model.PreferenceRule
	for rows.Next() {
		var rule model.PreferenceRule
		if err := rows.Scan(&rule.FeatureKey, &rule.Weight); err != nil {
			return nil, eris.Wrap(err, "prefs: scan")
		}
		rules = append(rules, rule)
	}
	return rules, eris.Wrap(rows.Err(), "prefs: rows")
}

// Put upserts one preference rule. Used by tests and local tooling.
func (s *Store) Put(ctx context.Context, userID string, rule model.PreferenceRule) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (user_id, feature_key, weight, updated_at)
		 VALUES (?, ?, ?, datetime('now'))
		 ON CONFLICT (user_id, feature_key) DO UPDATE SET
		   weight = excluded.weight,
		   updated_at = excluded.updated_at`,
		userID, rule.FeatureKey, rule.Weight)
	return eris.Wrap(err, "prefs: put")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Package db is the local SQLite store: the online leaderboard cache and
// the index of downloaded replays.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// migrations[i] moves the schema from user_version i to i+1. Append only.
var migrations = []string{
	`
	CREATE TABLE online_scores (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		map_md5 TEXT NOT NULL,
		server TEXT NOT NULL,
		score_id INTEGER NOT NULL,
		player_id INTEGER NOT NULL,
		player_name TEXT NOT NULL,
		score INTEGER NOT NULL,
		max_combo INTEGER NOT NULL,
		num50 INTEGER NOT NULL,
		num100 INTEGER NOT NULL,
		num300 INTEGER NOT NULL,
		num_miss INTEGER NOT NULL,
		num_katu INTEGER NOT NULL,
		num_geki INTEGER NOT NULL,
		perfect INTEGER NOT NULL,
		mods INTEGER NOT NULL,
		timestamp INTEGER NOT NULL,
		fetched_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX idx_online_scores_map ON online_scores(map_md5);

	CREATE TABLE replays (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		score_id INTEGER NOT NULL,
		map_md5 TEXT NOT NULL DEFAULT '',
		server TEXT NOT NULL,
		path TEXT UNIQUE NOT NULL,
		timestamp INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX idx_replays_score ON replays(score_id);
	`,
	`CREATE INDEX idx_replays_timestamp ON replays(timestamp);`,
}

// ErrNewerSchema is returned for a file written by a newer build.
var ErrNewerSchema = errors.New("database schema is newer than this build")

// openSQLite opens the file at path, creating its directory, and brings
// the schema up to date.
func openSQLite(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	// the session loop and the REST API share one connection, so writes
	// never race each other for the file lock
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		log.Warn().Err(err).Msg("failed to enable WAL mode")
	}

	from, err := migrate(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate %s: %w", path, err)
	}

	log.Info().Str("path", path).Int("from_version", from).Int("version", len(migrations)).Msg("database opened")
	return conn, nil
}

// migrate applies every migration past the file's user_version, each in
// its own transaction. It returns the version the file had.
func migrate(conn *sql.DB) (int, error) {
	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, err
	}
	if version > len(migrations) {
		return version, fmt.Errorf("%w: version %d, known %d", ErrNewerSchema, version, len(migrations))
	}

	for v := version; v < len(migrations); v++ {
		err := withTx(conn, func(tx *sql.Tx) error {
			if _, err := tx.Exec(migrations[v]); err != nil {
				return err
			}
			// PRAGMA takes no bind parameters
			_, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1))
			return err
		})
		if err != nil {
			return version, fmt.Errorf("migration %d: %w", v+1, err)
		}
		log.Debug().Int("version", v+1).Msg("database migrated")
	}
	return version, nil
}

// withTx runs fn in a transaction, committing when it returns nil.
func withTx(conn *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	return tx.Commit()
}

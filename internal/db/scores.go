package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/neosu-project/neosu/internal/scores"
)

// ScoreDatabase caches online leaderboards and indexes downloaded replays.
type ScoreDatabase struct {
	db *sql.DB
}

// Replay is one downloaded replay file.
type Replay struct {
	ID        int64     `json:"id"`
	ScoreID   int64     `json:"score_id"`
	MapMD5    string    `json:"map_md5"`
	Server    string    `json:"server"`
	Path      string    `json:"path"`
	Timestamp int64     `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
}

// NewScoreDatabase opens the database at dbPath, creating and migrating
// it as needed.
func NewScoreDatabase(dbPath string) (*ScoreDatabase, error) {
	conn, err := openSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	return &ScoreDatabase{db: conn}, nil
}

// Close closes the underlying database.
func (sdb *ScoreDatabase) Close() error {
	return sdb.db.Close()
}

// ReplaceOnlineScores swaps the cached leaderboard of a map.
func (sdb *ScoreDatabase) ReplaceOnlineScores(mapMD5 string, list []scores.Score) error {
	return withTx(sdb.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM online_scores WHERE map_md5 = ?", mapMD5); err != nil {
			return fmt.Errorf("failed to clear scores of %s: %w", mapMD5, err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO online_scores (map_md5, server, score_id, player_id, player_name, score,
				max_combo, num50, num100, num300, num_miss, num_katu, num_geki, perfect, mods, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, s := range list {
			_, err := stmt.Exec(mapMD5, s.Server, int64(s.ID), s.PlayerID, s.PlayerName, int64(s.Score),
				s.MaxCombo, s.Num50, s.Num100, s.Num300, s.NumMiss, s.NumKatu, s.NumGeki,
				s.Perfect, int64(s.Mods), s.Timestamp)
			if err != nil {
				return fmt.Errorf("failed to insert score %d: %w", s.ID, err)
			}
		}
		return nil
	})
}

// OnlineScores returns the cached leaderboard of a map, best first.
func (sdb *ScoreDatabase) OnlineScores(mapMD5 string) ([]scores.Score, error) {
	rows, err := sdb.db.Query(`
		SELECT score_id, server, player_id, player_name, score, max_combo, num50, num100, num300,
			num_miss, num_katu, num_geki, perfect, mods, timestamp
		FROM online_scores
		WHERE map_md5 = ?
		ORDER BY score DESC, id
	`, mapMD5)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]scores.Score, 0)
	for rows.Next() {
		var s scores.Score
		var id, score, mods int64
		if err := rows.Scan(&id, &s.Server, &s.PlayerID, &s.PlayerName, &score, &s.MaxCombo,
			&s.Num50, &s.Num100, &s.Num300, &s.NumMiss, &s.NumKatu, &s.NumGeki,
			&s.Perfect, &mods, &s.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		s.ID = uint64(id)
		s.Score = uint64(score)
		s.Mods = uint32(mods)
		s.MapMD5 = mapMD5
		list = append(list, s)
	}
	return list, rows.Err()
}

// AddReplay indexes a replay file. Re-adding the same path updates it.
func (sdb *ScoreDatabase) AddReplay(r Replay) (int64, error) {
	res, err := sdb.db.Exec(`
		INSERT INTO replays (score_id, map_md5, server, path, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET score_id = excluded.score_id, map_md5 = excluded.map_md5
	`, r.ScoreID, r.MapMD5, r.Server, r.Path, r.Timestamp)
	if err != nil {
		return 0, fmt.Errorf("failed to index replay %s: %w", r.Path, err)
	}
	id, _ := res.LastInsertId()

	log.Debug().Int64("score_id", r.ScoreID).Str("path", r.Path).Msg("replay indexed")
	return id, nil
}

// ReplayByScore returns the most recent replay downloaded for a score.
func (sdb *ScoreDatabase) ReplayByScore(scoreID int64) (*Replay, error) {
	var r Replay
	err := sdb.db.QueryRow(`
		SELECT id, score_id, map_md5, server, path, timestamp, created_at
		FROM replays WHERE score_id = ? ORDER BY id DESC LIMIT 1
	`, scoreID).Scan(&r.ID, &r.ScoreID, &r.MapMD5, &r.Server, &r.Path, &r.Timestamp, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Replays lists indexed replays, newest first.
func (sdb *ScoreDatabase) Replays(limit int) ([]Replay, error) {
	return sdb.queryReplays(`
		SELECT id, score_id, map_md5, server, path, timestamp, created_at
		FROM replays ORDER BY timestamp DESC, id DESC LIMIT ?
	`, limit)
}

// ReplaysOlderThan lists replays downloaded before the cutoff.
func (sdb *ScoreDatabase) ReplaysOlderThan(cutoff time.Time) ([]Replay, error) {
	return sdb.queryReplays(`
		SELECT id, score_id, map_md5, server, path, timestamp, created_at
		FROM replays WHERE timestamp < ? ORDER BY timestamp
	`, cutoff.Unix())
}

func (sdb *ScoreDatabase) queryReplays(query string, args ...interface{}) ([]Replay, error) {
	rows, err := sdb.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Replay
	for rows.Next() {
		var r Replay
		if err := rows.Scan(&r.ID, &r.ScoreID, &r.MapMD5, &r.Server, &r.Path, &r.Timestamp, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan replay: %w", err)
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

// DeleteReplay drops a replay from the index. The file is left alone.
func (sdb *ScoreDatabase) DeleteReplay(id int64) error {
	_, err := sdb.db.Exec("DELETE FROM replays WHERE id = ?", id)
	return err
}

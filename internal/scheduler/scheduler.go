// Package scheduler runs the daily cleanup of downloaded replays and cached
// avatars.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/neosu-project/neosu/internal/config"
	"github.com/neosu-project/neosu/internal/db"
)

// ReplayIndex is the replay part of the score database.
type ReplayIndex interface {
	ReplaysOlderThan(cutoff time.Time) ([]db.Replay, error)
	DeleteReplay(id int64) error
}

// AvatarCache is the in-memory half of the avatar store.
type AvatarCache interface {
	Purge()
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg     *config.Config
	replays ReplayIndex
	avatars AvatarCache
}

// Result summarizes one cleanup run.
type Result struct {
	Replays int
	Avatars int
	Freed   int64
}

// NewScheduler creates a new task scheduler. replays and avatars may be
// nil, which skips that half of the cleanup.
func NewScheduler(cfg *config.Config, replays ReplayIndex, avatars AvatarCache) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		replays: replays,
		avatars: avatars,
	}
}

// Start runs the cleaner at the configured time every day until ctx is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.cfg.GetApplicationData().ReplayCleaner.Enabled {
		log.Info().Msg("replay cleaner disabled")
		return
	}
	log.Info().Msg("scheduler started")

	for {
		nextRun := nextCleanupTime(s.cfg.GetApplicationData().ReplayCleaner.CleanupTime, time.Now())
		sleepDuration := time.Until(nextRun)

		log.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleepDuration).
			Msg("replay cleaner scheduled")

		timer := time.NewTimer(sleepDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("scheduler stopped")
			return
		case <-timer.C:
			s.RunCleanup(time.Now())
		}
	}
}

// RunCleanup deletes replays and avatar files past their retention as of
// now.
func (s *Scheduler) RunCleanup(now time.Time) Result {
	cleanerCfg := s.cfg.GetApplicationData().ReplayCleaner
	dataDir := s.cfg.DataDir()

	log.Info().
		Str("directory", dataDir).
		Int("retention_days", cleanerCfg.RetentionDays).
		Int("avatar_retention_days", cleanerCfg.AvatarRetentionDays).
		Msg("running replay cleaner")

	var res Result
	if s.replays != nil && cleanerCfg.RetentionDays > 0 {
		s.cleanReplays(now.AddDate(0, 0, -cleanerCfg.RetentionDays), &res)
	}
	if cleanerCfg.AvatarRetentionDays > 0 {
		s.cleanAvatars(filepath.Join(dataDir, "avatars"), now.AddDate(0, 0, -cleanerCfg.AvatarRetentionDays), &res)
	}

	log.Info().
		Int("deleted_replays", res.Replays).
		Int("deleted_avatars", res.Avatars).
		Str("freed_space", formatBytes(res.Freed)).
		Msg("replay cleaner completed")
	return res
}

func (s *Scheduler) cleanReplays(cutoff time.Time, res *Result) {
	old, err := s.replays.ReplaysOlderThan(cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("failed to list old replays")
		return
	}

	for _, r := range old {
		info, err := os.Stat(r.Path)
		switch {
		case err == nil:
			if err := os.Remove(r.Path); err != nil {
				log.Warn().Err(err).Str("file", r.Path).Msg("failed to delete replay")
				continue
			}
			res.Freed += info.Size()
		case !errors.Is(err, fs.ErrNotExist):
			log.Warn().Err(err).Str("file", r.Path).Msg("failed to stat replay")
			continue
		}
		// the index entry goes even if the file was already gone
		if err := s.replays.DeleteReplay(r.ID); err != nil {
			log.Warn().Err(err).Int64("id", r.ID).Msg("failed to drop replay from index")
			continue
		}
		res.Replays++
		log.Debug().Str("file", r.Path).Msg("deleted old replay")
	}
}

func (s *Scheduler) cleanAvatars(dir string, cutoff time.Time, res *Result) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err == nil {
			res.Avatars++
			res.Freed += info.Size()
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Msg("avatar cleaner encountered errors")
	}

	// the memory cache may hold bytes of files that are now gone
	if res.Avatars > 0 && s.avatars != nil {
		s.avatars.Purge()
	}
}

// nextCleanupTime returns the next occurrence of the HH:MM cleanupTime
// strictly after now.
func nextCleanupTime(cleanupTime string, now time.Time) time.Time {
	parts := strings.Split(cleanupTime, ":")

	hour, minute := 4, 0 // Default: 4:00 AM
	if len(parts) >= 2 {
		fmt.Sscanf(parts[0], "%d", &hour)
		fmt.Sscanf(parts[1], "%d", &minute)
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// formatBytes formats bytes into human-readable format.
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

package bancho

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/neosu-project/neosu/internal/protocol"
)

// ErrMapNotFound is returned by a BeatmapStore for an unknown hash.
var ErrMapNotFound = errors.New("beatmap not found")

// Game is the gameplay side of the client. The session drives it when a
// match starts or a spectated player changes state.
type Game interface {
	IsPlaying() bool
	// PlayMap loads and starts a beatmap. It reports false if the map
	// could not be started.
	PlayMap(md5 protocol.MD5Hash, mods uint32) bool
	Stop()
	Pause()
	Unpause()
	Skip()
	Fail()
}

// BeatmapStore looks up local beatmaps by hash.
type BeatmapStore interface {
	HasMap(md5 protocol.MD5Hash) bool
	// MapFile returns the raw .osu bytes and the file name.
	MapFile(md5 protocol.MD5Hash) ([]byte, string, error)
}

// NopGame is a headless Game: nothing ever plays.
type NopGame struct{}

func (NopGame) IsPlaying() bool                      { return false }
func (NopGame) PlayMap(protocol.MD5Hash, uint32) bool { return false }
func (NopGame) Stop()                                {}
func (NopGame) Pause()                               {}
func (NopGame) Unpause()                             {}
func (NopGame) Skip()                                {}
func (NopGame) Fail()                                {}

// FileBeatmapStore indexes every .osu file below a directory by the md5 of
// its contents.
type FileBeatmapStore struct {
	dir string

	mu    sync.RWMutex
	index map[protocol.MD5Hash]string
}

// NewFileBeatmapStore scans dir. A missing directory yields an empty store.
func NewFileBeatmapStore(dir string) (*FileBeatmapStore, error) {
	s := &FileBeatmapStore{dir: dir, index: make(map[protocol.MD5Hash]string)}
	if err := s.Scan(); err != nil {
		return nil, err
	}
	return s, nil
}

// Scan rebuilds the index.
func (s *FileBeatmapStore) Scan() error {
	index := make(map[protocol.MD5Hash]string)

	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == s.dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".osu") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Skipping unreadable beatmap")
			return nil
		}
		index[protocol.HashBytes(data)] = path
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan beatmaps in %s: %w", s.dir, err)
	}

	s.mu.Lock()
	s.index = index
	s.mu.Unlock()

	log.Info().Str("dir", s.dir).Int("maps", len(index)).Msg("Beatmap index built")
	return nil
}

// Len returns the number of indexed maps.
func (s *FileBeatmapStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// HasMap implements BeatmapStore.
func (s *FileBeatmapStore) HasMap(md5 protocol.MD5Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[md5]
	return ok
}

// MapFile implements BeatmapStore. The bytes are read fresh so the caller
// can verify them against the hash.
func (s *FileBeatmapStore) MapFile(md5 protocol.MD5Hash) ([]byte, string, error) {
	s.mu.RLock()
	path, ok := s.index[md5]
	s.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("%s: %w", md5, ErrMapNotFound)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read beatmap %s: %w", md5, err)
	}
	return data, filepath.Base(path), nil
}

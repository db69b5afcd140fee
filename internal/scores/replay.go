package scores

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ReplayPath returns replays/<endpoint>/<timestamp>.replay.lzma under dataDir.
func ReplayPath(dataDir, endpoint string, timestamp int64) string {
	return filepath.Join(dataDir, "replays", endpoint, strconv.FormatInt(timestamp, 10)+".replay.lzma")
}

// SaveReplay writes downloaded replay bytes and returns the file path.
// The body is stored as received; it is an lzma stream.
func SaveReplay(dataDir, endpoint string, timestamp int64, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("replay for %d is empty", timestamp)
	}

	path := ReplayPath(dataDir, endpoint, timestamp)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create replay directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write replay %s: %w", path, err)
	}
	return path, nil
}

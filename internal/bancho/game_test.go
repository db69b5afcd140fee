package bancho

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neosu-project/neosu/internal/protocol"
)

func TestFileBeatmapStore(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "123 Artist - Title")
	require.NoError(t, os.MkdirAll(sub, 0755))

	hard := []byte("osu file format v14\n[Metadata]\nVersion:Hard\n")
	insane := []byte("osu file format v14\n[Metadata]\nVersion:Insane\n")
	require.NoError(t, os.WriteFile(filepath.Join(sub, "hard.osu"), hard, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "insane.OSU"), insane, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "audio.mp3"), []byte("not a map"), 0644))

	store, err := NewFileBeatmapStore(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())
	assert.True(t, store.HasMap(protocol.HashBytes(insane)))
	assert.False(t, store.HasMap(protocol.HashBytes([]byte("not a map"))))

	data, name, err := store.MapFile(protocol.HashBytes(hard))
	require.NoError(t, err)
	assert.Equal(t, hard, data)
	assert.Equal(t, "hard.osu", name)

	_, _, err = store.MapFile(protocol.HashString("missing"))
	assert.ErrorIs(t, err, ErrMapNotFound)
}

func TestFileBeatmapStoreRescan(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileBeatmapStore(dir)
	require.NoError(t, err)
	assert.Zero(t, store.Len())

	data := []byte("osu file format v14\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.osu"), data, 0644))
	require.NoError(t, store.Scan())
	assert.True(t, store.HasMap(protocol.HashBytes(data)))
}

func TestFileBeatmapStoreMissingDir(t *testing.T) {
	store, err := NewFileBeatmapStore(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Zero(t, store.Len())
}

func TestNopGame(t *testing.T) {
	var g Game = NopGame{}
	assert.False(t, g.PlayMap(protocol.HashString("x"), 0))
	assert.False(t, g.IsPlaying())
}

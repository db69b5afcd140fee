package scores

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLeaderboard = "2|false|1234|567|2|0|\n" +
	"-5\n" +
	"[bold:0,size:20]Artist|Title\n" +
	"9.1\n" +
	"\n" +
	"11|alice|1000000|500|0|2|700|1|0|50|0|72|3|1|1700000000|1\n" +
	"12|bob|900000|450|1|3|690|2|5|40|1|0|4|2|1700000100|1\n" +
	"bogus|line\n" +
	"\n" +
	"13|never|1|1|1|1|1|1|1|1|1|1|1|1|1|1\n"

func TestParseLeaderboard(t *testing.T) {
	lb, err := ParseLeaderboard([]byte(sampleLeaderboard), "abc", "neosu.net")
	require.NoError(t, err)

	assert.Equal(t, MapInfo{
		RankedStatus: 2,
		BeatmapID:    1234,
		BeatmapSetID: 567,
		NbScores:     2,
		OnlineOffset: -5,
	}, lb.Info)

	require.Len(t, lb.Scores, 2, "bad line skipped, stops at the empty line")
	alice := lb.Scores[0]
	assert.Equal(t, uint64(11), alice.ID)
	assert.Equal(t, "alice", alice.PlayerName)
	assert.Equal(t, uint64(1000000), alice.Score)
	assert.Equal(t, int32(500), alice.MaxCombo)
	assert.Equal(t, int32(2), alice.Num100)
	assert.Equal(t, int32(700), alice.Num300)
	assert.Equal(t, int32(1), alice.NumMiss)
	assert.Equal(t, int32(50), alice.NumGeki)
	assert.False(t, alice.Perfect)
	assert.Equal(t, uint32(72), alice.Mods)
	assert.Equal(t, int32(3), alice.PlayerID)
	assert.Equal(t, int64(1700000000), alice.Timestamp)
	assert.Equal(t, "abc", alice.MapMD5)
	assert.Equal(t, "neosu.net", alice.Server)

	assert.True(t, lb.Scores[1].Perfect)
	assert.Equal(t, int32(5), lb.Scores[1].NumKatu)
}

func TestParseLeaderboardPartial(t *testing.T) {
	tests := []struct {
		name string
		body string
		want MapInfo
	}{
		{"status only", "-1|false", MapInfo{RankedStatus: -1}},
		{"osz2", "1|true|5|6|0", MapInfo{RankedStatus: 1, ServerHasOsz2: true, BeatmapID: 5, BeatmapSetID: 6}},
		{"crlf", "1|false|5|6|0|0|\r\n10\r\n", MapInfo{RankedStatus: 1, BeatmapID: 5, BeatmapSetID: 6, OnlineOffset: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lb, err := ParseLeaderboard([]byte(tt.body), "x", "s")
			require.NoError(t, err)
			assert.Equal(t, tt.want, lb.Info)
			assert.Empty(t, lb.Scores)
		})
	}
}

func TestParseLeaderboardEmpty(t *testing.T) {
	_, err := ParseLeaderboard([]byte("  \n"), "x", "s")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestParseScoreLineTooShort(t *testing.T) {
	_, err := ParseScoreLine("1|2|3")
	assert.Error(t, err)
}

func TestSaveReplay(t *testing.T) {
	dir := t.TempDir()
	path, err := SaveReplay(dir, "neosu.net", 1700000000, []byte{0x5d, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "replays", "neosu.net", "1700000000.replay.lzma"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x5d, 0, 0}, data)

	_, err = SaveReplay(dir, "neosu.net", 1, nil)
	assert.Error(t, err)
}

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleScoreFrame(v2 bool) ScoreFrame {
	f := ScoreFrame{
		Time:         123456,
		SlotID:       3,
		Num300:       500,
		Num100:       20,
		Num50:        2,
		NumGeki:      80,
		NumKatu:      9,
		NumMiss:      1,
		TotalScore:   9876543,
		MaxCombo:     700,
		CurrentCombo: 12,
		IsPerfect:    false,
		CurrentHP:    200,
		Tag:          0,
		IsScoreV2:    v2,
	}
	if v2 {
		f.ComboPortion = 0.75
		f.BonusPortion = 1234.5
	}
	return f
}

func TestScoreFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		v2   bool
		size int
	}{
		{"scorev1", false, 29},
		{"scorev2", true, 45},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := sampleScoreFrame(tt.v2)
			b := NewPacketBuilder()
			src.Pack(b)
			require.Equal(t, tt.size, b.Len())

			p := b.Packet(PktMatchScoreUpdated)
			assert.Equal(t, src, ReadScoreFrame(p))
			assert.Equal(t, 0, p.Remaining())
		})
	}
}

func TestSpectateFramesRoundTrip(t *testing.T) {
	src := SpectateFrames{
		Extra: 0,
		Frames: []LiveReplayFrame{
			{KeyFlags: 1, X: 256, Y: 192, Time: 1000},
			{KeyFlags: 0, X: 300.5, Y: 100.25, Time: 1016},
		},
		Action:   SpecPause,
		Score:    sampleScoreFrame(false),
		Sequence: 77,
	}

	b := NewPacketBuilder()
	src.Pack(b)
	p := b.Packet(PktSpectateFrames)

	got := ReadSpectateFrames(p)
	assert.False(t, p.Failed())
	assert.Equal(t, src, got)
}

func TestReadSpectateFramesBogusCount(t *testing.T) {
	payload := NewPacketBuilder().WriteI32(0).WriteU16(1000).WriteU8(1).Build()
	p := NewPacket(PktSpectateFrames, payload)

	got := ReadSpectateFrames(p)
	assert.Empty(t, got.Frames)
	assert.True(t, p.Failed())
}

func TestSortFrames(t *testing.T) {
	frames := []LiveReplayFrame{
		{KeyFlags: 1, Time: 30},
		{KeyFlags: 2, Time: 10},
		{KeyFlags: 3, Time: 20},
		{KeyFlags: 4, Time: 10},
	}

	SortFrames(frames)

	var keys []uint8
	var deltas []int32
	for _, f := range frames {
		keys = append(keys, f.KeyFlags)
		deltas = append(deltas, f.Delta)
	}
	// equal timestamps keep arrival order
	assert.Equal(t, []uint8{2, 4, 3, 1}, keys)
	assert.Equal(t, []int32{0, 0, 10, 10}, deltas)
}

func TestSlotApplyScore(t *testing.T) {
	var s Slot
	f := sampleScoreFrame(true)
	s.ApplyScore(f)

	assert.Equal(t, f.TotalScore, s.TotalScore)
	assert.Equal(t, f.Time, s.LastUpdateTime)
	assert.Equal(t, f.ComboPortion, s.SV2Combo)
	assert.Equal(t, f.BonusPortion, s.SV2Bonus)
	assert.True(t, s.IsScoreV2)
}

package protocol

import "sort"

// ScoreFrame is a snapshot of a player's live score, sent with match score
// updates and at the end of every spectator bundle.
type ScoreFrame struct {
	Time         int32   `json:"time"`
	SlotID       uint8   `json:"slot_id"`
	Num300       uint16  `json:"num300"`
	Num100       uint16  `json:"num100"`
	Num50        uint16  `json:"num50"`
	NumGeki      uint16  `json:"num_geki"`
	NumKatu      uint16  `json:"num_katu"`
	NumMiss      uint16  `json:"num_miss"`
	TotalScore   int32   `json:"total_score"`
	MaxCombo     uint16  `json:"max_combo"`
	CurrentCombo uint16  `json:"current_combo"`
	IsPerfect    bool    `json:"is_perfect"`
	CurrentHP    uint8   `json:"current_hp"`
	Tag          uint8   `json:"tag"`
	IsScoreV2    bool    `json:"is_scorev2"`
	ComboPortion float64 `json:"combo_portion"`
	BonusPortion float64 `json:"bonus_portion"`
}

// ReadScoreFrame decodes a score frame. The scorev2 portions are only on
// the wire when IsScoreV2 is set.
func ReadScoreFrame(p *Packet) ScoreFrame {
	f := ScoreFrame{
		Time:         p.ReadI32(),
		SlotID:       p.ReadU8(),
		Num300:       p.ReadU16(),
		Num100:       p.ReadU16(),
		Num50:        p.ReadU16(),
		NumGeki:      p.ReadU16(),
		NumKatu:      p.ReadU16(),
		NumMiss:      p.ReadU16(),
		TotalScore:   p.ReadI32(),
		MaxCombo:     p.ReadU16(),
		CurrentCombo: p.ReadU16(),
		IsPerfect:    p.ReadU8() > 0,
		CurrentHP:    p.ReadU8(),
		Tag:          p.ReadU8(),
		IsScoreV2:    p.ReadU8() > 0,
	}
	if f.IsScoreV2 {
		f.ComboPortion = p.ReadF64()
		f.BonusPortion = p.ReadF64()
	}
	return f
}

// Pack writes the frame in wire order.
func (f *ScoreFrame) Pack(b *PacketBuilder) {
	b.WriteI32(f.Time).
		WriteU8(f.SlotID).
		WriteU16(f.Num300).
		WriteU16(f.Num100).
		WriteU16(f.Num50).
		WriteU16(f.NumGeki).
		WriteU16(f.NumKatu).
		WriteU16(f.NumMiss).
		WriteI32(f.TotalScore).
		WriteU16(f.MaxCombo).
		WriteU16(f.CurrentCombo).
		WriteU8(boolByte(f.IsPerfect)).
		WriteU8(f.CurrentHP).
		WriteU8(f.Tag).
		WriteU8(boolByte(f.IsScoreV2))
	if f.IsScoreV2 {
		b.WriteF64(f.ComboPortion).WriteF64(f.BonusPortion)
	}
}

// LiveReplayFrame is one cursor/key sample streamed to spectators. Time is
// absolute on the wire; Delta is filled in locally after sorting.
type LiveReplayFrame struct {
	KeyFlags uint8   `json:"key_flags"`
	Extra    uint8   `json:"extra"`
	X        float32 `json:"x"`
	Y        float32 `json:"y"`
	Time     int32   `json:"time"`

	Delta int32 `json:"delta"`
}

func readLiveReplayFrame(p *Packet) LiveReplayFrame {
	return LiveReplayFrame{
		KeyFlags: p.ReadU8(),
		Extra:    p.ReadU8(),
		X:        p.ReadF32(),
		Y:        p.ReadF32(),
		Time:     p.ReadI32(),
	}
}

// SpectateFrames is the bundle carried by SPECTATE_FRAMES in both
// directions.
type SpectateFrames struct {
	Extra    int32
	Frames   []LiveReplayFrame
	Action   SpectatorAction
	Score    ScoreFrame
	Sequence uint16
}

// ReadSpectateFrames decodes a spectator bundle. A frame count that cannot
// fit in the remaining payload yields no frames.
func ReadSpectateFrames(p *Packet) SpectateFrames {
	var s SpectateFrames
	s.Extra = p.ReadI32()
	n := int(p.ReadU16())
	// each frame is 14 bytes
	if n*14 <= p.Remaining() {
		s.Frames = make([]LiveReplayFrame, 0, n)
		for i := 0; i < n; i++ {
			s.Frames = append(s.Frames, readLiveReplayFrame(p))
		}
	} else {
		p.take(p.Remaining() + 1)
	}
	s.Action = SpectatorAction(p.ReadU8())
	s.Score = ReadScoreFrame(p)
	s.Sequence = p.ReadU16()
	return s
}

// Pack writes the bundle in wire order.
func (s *SpectateFrames) Pack(b *PacketBuilder) {
	b.WriteI32(s.Extra).WriteU16(uint16(len(s.Frames)))
	for _, f := range s.Frames {
		b.WriteU8(f.KeyFlags).
			WriteU8(f.Extra).
			WriteF32(f.X).
			WriteF32(f.Y).
			WriteI32(f.Time)
	}
	b.WriteU8(uint8(s.Action))
	s.Score.Pack(b)
	b.WriteU16(s.Sequence)
}

// SortFrames stable-sorts frames by absolute time and recomputes every
// frame's delta from its predecessor. The first frame's delta is 0.
func SortFrames(frames []LiveReplayFrame) {
	sort.SliceStable(frames, func(i, j int) bool {
		return frames[i].Time < frames[j].Time
	})
	for i := range frames {
		if i == 0 {
			frames[i].Delta = 0
			continue
		}
		frames[i].Delta = frames[i].Time - frames[i-1].Time
	}
}

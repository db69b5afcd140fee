package protocol

// NumSlots is the fixed number of seats in a multiplayer room.
const NumSlots = 16

// Slot status bits.
const (
	SlotOpen     uint8 = 1
	SlotLocked   uint8 = 2
	SlotNotReady uint8 = 4
	SlotReady    uint8 = 8
	SlotNoMap    uint8 = 16
	SlotPlaying  uint8 = 32
	SlotComplete uint8 = 64
	SlotQuit     uint8 = 128

	// slotOccupied covers not_ready|ready|no_map|playing|complete.
	slotOccupied uint8 = 0b01111100
)

// Slot is one of the 16 seats in a Room. Status, team, player and mods come
// from the wire; everything below them is session-only and is written by
// MATCH_* updates between full room refreshes.
type Slot struct {
	Status   uint8  `json:"status"`
	Team     uint8  `json:"team"`
	PlayerID int32  `json:"player_id"`
	Mods     uint32 `json:"mods"`

	Skipped        bool  `json:"skipped"`
	Died           bool  `json:"died"`
	LastUpdateTime int32 `json:"last_update_time"`

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
	SV2Combo     float64 `json:"sv2_combo"`
	SV2Bonus     float64 `json:"sv2_bonus"`
}

func (s *Slot) IsLocked() bool        { return s.Status&SlotLocked != 0 }
func (s *Slot) IsReady() bool         { return s.Status&SlotReady != 0 }
func (s *Slot) NoMap() bool           { return s.Status&SlotNoMap != 0 }
func (s *Slot) IsPlayerPlaying() bool { return s.Status&SlotPlaying != 0 }
func (s *Slot) HasPlayer() bool       { return s.Status&slotOccupied != 0 }

// ApplyScore copies a live score frame into the slot.
func (s *Slot) ApplyScore(f ScoreFrame) {
	s.LastUpdateTime = f.Time
	s.Num300 = f.Num300
	s.Num100 = f.Num100
	s.Num50 = f.Num50
	s.NumGeki = f.NumGeki
	s.NumKatu = f.NumKatu
	s.NumMiss = f.NumMiss
	s.TotalScore = f.TotalScore
	s.MaxCombo = f.MaxCombo
	s.CurrentCombo = f.CurrentCombo
	s.IsPerfect = f.IsPerfect
	s.CurrentHP = f.CurrentHP
	s.Tag = f.Tag
	s.IsScoreV2 = f.IsScoreV2
	s.SV2Combo = f.ComboPortion
	s.SV2Bonus = f.BonusPortion
}

// Room describes one multiplayer match. The zero value means "not in a
// room". Rooms are always replaced wholesale from the wire.
type Room struct {
	ID           uint16          `json:"id"`
	InProgress   bool            `json:"in_progress"`
	MatchType    uint8           `json:"match_type"`
	Mods         uint32          `json:"mods"`
	Name         string          `json:"name"`
	HasPassword  bool            `json:"has_password"`
	Password     string          `json:"-"`
	MapName      string          `json:"map_name"`
	MapID        int32           `json:"map_id"`
	MapMD5       MD5Hash         `json:"map_md5"`
	Slots        [NumSlots]Slot  `json:"slots"`
	HostID       int32           `json:"host_id"`
	Mode         GameMode        `json:"mode"`
	WinCondition WinCondition    `json:"win_condition"`
	TeamType     TeamType        `json:"team_type"`
	Freemods     bool            `json:"freemods"`
	Seed         int32           `json:"seed"`

	NbPlayers   int `json:"nb_players"`
	NbOpenSlots int `json:"nb_open_slots"`

	AllPlayersLoaded  bool `json:"all_players_loaded"`
	AllPlayersSkipped bool `json:"all_players_skipped"`
}

// ReadRoom decodes a full room. A truncated packet yields a partially
// filled room rather than an error.
func ReadRoom(p *Packet) Room {
	var r Room
	r.ID = p.ReadU16()
	r.InProgress = p.ReadU8() > 0
	r.MatchType = p.ReadU8()
	r.Mods = p.ReadU32()
	r.Name = p.ReadString()

	r.HasPassword = p.ReadU8() > 0
	if r.HasPassword {
		p.Rewind(1)
		r.Password = p.ReadString()
	}

	r.MapName = p.ReadString()
	r.MapID = p.ReadI32()
	r.MapMD5 = p.ReadHash()

	for i := range r.Slots {
		r.Slots[i].Status = p.ReadU8()
	}
	for i := range r.Slots {
		r.Slots[i].Team = p.ReadU8()
	}
	for i := range r.Slots {
		s := &r.Slots[i]
		if !s.IsLocked() {
			r.NbOpenSlots++
		}
		if s.HasPlayer() {
			s.PlayerID = p.ReadI32()
			r.NbPlayers++
		}
	}

	r.HostID = p.ReadI32()
	r.Mode = GameMode(p.ReadU8())
	r.WinCondition = WinCondition(p.ReadU8())
	r.TeamType = TeamType(p.ReadU8())
	r.Freemods = p.ReadU8() > 0
	if r.Freemods {
		for i := range r.Slots {
			r.Slots[i].Mods = p.ReadU32()
		}
	}

	r.Seed = p.ReadI32()
	return r
}

// Pack writes the room in wire order.
func (r *Room) Pack(b *PacketBuilder) {
	b.WriteU16(r.ID).
		WriteU8(boolByte(r.InProgress)).
		WriteU8(r.MatchType).
		WriteU32(r.Mods).
		WriteString(r.Name).
		WriteString(r.Password).
		WriteString(r.MapName).
		WriteI32(r.MapID).
		WriteHash(r.MapMD5)

	for i := range r.Slots {
		b.WriteU8(r.Slots[i].Status)
	}
	for i := range r.Slots {
		b.WriteU8(r.Slots[i].Team)
	}
	for i := range r.Slots {
		if r.Slots[i].HasPlayer() {
			b.WriteI32(r.Slots[i].PlayerID)
		}
	}

	b.WriteI32(r.HostID).
		WriteU8(uint8(r.Mode)).
		WriteU8(uint8(r.WinCondition)).
		WriteU8(uint8(r.TeamType)).
		WriteU8(boolByte(r.Freemods))
	if r.Freemods {
		for i := range r.Slots {
			b.WriteU32(r.Slots[i].Mods)
		}
	}

	b.WriteI32(r.Seed)
}

// IsHost reports whether userID hosts this room.
func (r *Room) IsHost(userID int32) bool {
	return r.NbPlayers > 0 && r.HostID == userID
}

// IsInARoom reports whether this is a real room rather than the zero value.
func (r *Room) IsInARoom() bool {
	return r.NbPlayers > 0
}

// SlotOf returns the slot index holding userID, or -1.
func (r *Room) SlotOf(userID int32) int {
	for i := range r.Slots {
		if r.Slots[i].HasPlayer() && r.Slots[i].PlayerID == userID {
			return i
		}
	}
	return -1
}

// AllPlayersReady reports whether every occupied slot is ready. An empty
// room is vacuously ready.
func (r *Room) AllPlayersReady() bool {
	for i := range r.Slots {
		if r.Slots[i].HasPlayer() && !r.Slots[i].IsReady() {
			return false
		}
	}
	return true
}

// AllPlayingSkipped reports whether every playing slot has skipped. A room
// with nobody playing has not skipped.
func (r *Room) AllPlayingSkipped() bool {
	var playing int
	for i := range r.Slots {
		if !r.Slots[i].IsPlayerPlaying() {
			continue
		}
		if !r.Slots[i].Skipped {
			return false
		}
		playing++
	}
	return playing > 0
}

func boolByte(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}

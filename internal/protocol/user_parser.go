package protocol

// UserStats is the payload of USER_STATS.
type UserStats struct {
	UserID      int32
	Action      Action
	InfoText    string
	MapMD5      MD5Hash
	Mods        uint32
	Mode        GameMode
	MapID       int32
	RankedScore int64
	Accuracy    float32
	Plays       int32
	TotalScore  int64
	GlobalRank  int32
	PP          uint16
}

// DecodeUserStats reads a USER_STATS payload.
func DecodeUserStats(p *Packet) UserStats {
	return UserStats{
		UserID:      p.ReadI32(),
		Action:      Action(p.ReadU8()),
		InfoText:    p.ReadString(),
		MapMD5:      p.ReadHash(),
		Mods:        p.ReadU32(),
		Mode:        GameMode(p.ReadU8()),
		MapID:       p.ReadI32(),
		RankedScore: p.ReadI64(),
		Accuracy:    p.ReadF32(),
		Plays:       p.ReadI32(),
		TotalScore:  p.ReadI64(),
		GlobalRank:  p.ReadI32(),
		PP:          p.ReadU16(),
	}
}

// UserPresence is the payload of USER_PRESENCE.
type UserPresence struct {
	UserID     int32
	Username   string
	UTCOffset  uint8
	Country    uint8
	Privileges uint8
	Longitude  float32
	Latitude   float32
	GlobalRank int32
}

// DecodeUserPresence reads a USER_PRESENCE payload.
func DecodeUserPresence(p *Packet) UserPresence {
	return UserPresence{
		UserID:     p.ReadI32(),
		Username:   p.ReadString(),
		UTCOffset:  p.ReadU8(),
		Country:    p.ReadU8(),
		Privileges: p.ReadU8(),
		Longitude:  p.ReadF32(),
		Latitude:   p.ReadF32(),
		GlobalRank: p.ReadI32(),
	}
}

// DecodeIDList reads [count:2][id:4]... as used by FRIENDS_LIST. A count
// larger than the payload can hold is clamped to what is present.
func DecodeIDList(p *Packet) []int32 {
	n := int(p.ReadU16())
	if limit := p.Remaining() / 4; n > limit {
		n = limit
	}
	ids := make([]int32, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, p.ReadI32())
	}
	return ids
}

// EncodeIDList builds a [count:2][id:4]... payload for the presence and
// stats batch requests.
func EncodeIDList(ids []int32) []byte {
	b := NewPacketBuilder().WriteU16(uint16(len(ids)))
	for _, id := range ids {
		b.WriteI32(id)
	}
	return b.Build()
}

// DecodeVarNames reads the [count:2][name:str]... payload of the variable
// protect/unprotect/reset packets.
func DecodeVarNames(p *Packet) []string {
	n := int(p.ReadU16())
	names := make([]string, 0, n)
	for i := 0; i < n && !p.Failed(); i++ {
		names = append(names, p.ReadString())
	}
	if p.Failed() && len(names) > 0 {
		names = names[:len(names)-1]
	}
	return names
}

// VarValue is one name/value pair of FORCE_VALUES.
type VarValue struct {
	Name  string
	Value string
}

// DecodeVarValues reads [count:2]([name:str][value:str])...
func DecodeVarValues(p *Packet) []VarValue {
	n := int(p.ReadU16())
	values := make([]VarValue, 0, n)
	for i := 0; i < n; i++ {
		v := VarValue{Name: p.ReadString(), Value: p.ReadString()}
		if p.Failed() {
			break
		}
		values = append(values, v)
	}
	return values
}

// EncodeVarNames is the writer mirror of DecodeVarNames.
func EncodeVarNames(names []string) []byte {
	b := NewPacketBuilder().WriteU16(uint16(len(names)))
	for _, n := range names {
		b.WriteString(n)
	}
	return b.Build()
}

// EncodeVarValues is the writer mirror of DecodeVarValues.
func EncodeVarValues(values []VarValue) []byte {
	b := NewPacketBuilder().WriteU16(uint16(len(values)))
	for _, v := range values {
		b.WriteString(v.Name).WriteString(v.Value)
	}
	return b.Build()
}

// ChangeAction is the CHANGE_ACTION payload announcing what the local
// player is doing.
type ChangeAction struct {
	Action   Action
	InfoText string
	MapMD5   MD5Hash
	Mods     uint32
	Mode     GameMode
	MapID    int32
}

// EncodeChangeAction builds a CHANGE_ACTION payload.
func EncodeChangeAction(a ChangeAction) []byte {
	return NewPacketBuilder().
		WriteU8(uint8(a.Action)).
		WriteString(a.InfoText).
		WriteHash(a.MapMD5).
		WriteU32(a.Mods).
		WriteU8(uint8(a.Mode)).
		WriteI32(a.MapID).
		Build()
}

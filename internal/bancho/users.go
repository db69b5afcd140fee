package bancho

import (
	"fmt"
	"sort"
	"strings"

	"github.com/neosu-project/neosu/internal/protocol"
)

// UserInfo is everything known about another player. Presence and stats
// arrive separately; HasPresence and HasStats tell which halves are filled.
type UserInfo struct {
	UserID      int32  `json:"user_id"`
	Name        string `json:"name"`
	HasPresence bool   `json:"has_presence"`
	HasStats    bool   `json:"has_stats"`
	IsFriend    bool   `json:"is_friend"`

	// presence
	UTCOffset  uint8   `json:"utc_offset"`
	Country    uint8   `json:"country"`
	Privileges uint8   `json:"privileges"`
	Longitude  float32 `json:"longitude"`
	Latitude   float32 `json:"latitude"`

	// stats
	Action      protocol.Action   `json:"action"`
	InfoText    string            `json:"info_text"`
	MapMD5      protocol.MD5Hash  `json:"map_md5"`
	Mods        uint32            `json:"mods"`
	Mode        protocol.GameMode `json:"mode"`
	MapID       int32             `json:"map_id"`
	RankedScore int64             `json:"ranked_score"`
	Accuracy    float32           `json:"accuracy"`
	Plays       int32             `json:"plays"`
	TotalScore  int64             `json:"total_score"`
	GlobalRank  int32             `json:"global_rank"`
	PP          uint16            `json:"pp"`

	// spectating
	SpecAction protocol.SpectatorAction `json:"spec_action"`
	SpecScore  protocol.ScoreFrame      `json:"spec_score"`
}

func (u *UserInfo) applyPresence(p protocol.UserPresence) {
	u.Name = p.Username
	u.UTCOffset = p.UTCOffset
	u.Country = p.Country
	u.Privileges = p.Privileges
	u.Longitude = p.Longitude
	u.Latitude = p.Latitude
	u.GlobalRank = p.GlobalRank
	u.HasPresence = true
}

func (u *UserInfo) applyStats(s protocol.UserStats) {
	u.Action = s.Action
	u.InfoText = s.InfoText
	u.MapMD5 = s.MapMD5
	u.Mods = s.Mods
	u.Mode = s.Mode
	u.MapID = s.MapID
	u.RankedScore = s.RankedScore
	u.Accuracy = s.Accuracy
	u.Plays = s.Plays
	u.TotalScore = s.TotalScore
	u.GlobalRank = s.GlobalRank
	u.PP = s.PP
	u.HasStats = true
}

// Users tracks online players, the friends list and the ids waiting for a
// presence or stats batch request. Owned by the session loop.
type Users struct {
	online  map[int32]*UserInfo
	friends map[int32]struct{}

	presenceQueue []int32
	statsQueue    []int32
}

func newUsers() *Users {
	return &Users{
		online:  make(map[int32]*UserInfo),
		friends: make(map[int32]struct{}),
	}
}

// GetUserInfo returns the user, creating a placeholder on first reference.
// With wantPresence set, a user without presence is queued for a batch
// request.
func (u *Users) GetUserInfo(id int32, wantPresence bool) *UserInfo {
	info, ok := u.online[id]
	if !ok {
		info = &UserInfo{UserID: id, Name: fmt.Sprintf("User #%d", id)}
		u.online[id] = info
	}
	if wantPresence && !info.HasPresence {
		u.RequestPresence(id)
	}
	return info
}

// TryGetUserInfo returns the user only if known.
func (u *Users) TryGetUserInfo(id int32) (*UserInfo, bool) {
	info, ok := u.online[id]
	return info, ok
}

// FindUser looks a user up by name, case-insensitively.
func (u *Users) FindUser(name string) (*UserInfo, bool) {
	for _, info := range u.online {
		if strings.EqualFold(info.Name, name) {
			return info, true
		}
	}
	return nil, false
}

// RequestPresence queues a USER_PRESENCE_REQUEST for id.
func (u *Users) RequestPresence(id int32) {
	if info, ok := u.online[id]; ok && info.HasPresence {
		return
	}
	u.presenceQueue, _ = addID(u.presenceQueue, id)
}

// RequestStats queues a USER_STATS_REQUEST for id.
func (u *Users) RequestStats(id int32) {
	u.statsQueue, _ = addID(u.statsQueue, id)
}

// RequestPending sends the queued batches and empties the queues.
func (u *Users) RequestPending(net Net) {
	if len(u.presenceQueue) > 0 {
		net.SendPacket(protocol.ReqUserPresenceRequest, protocol.EncodeIDList(u.presenceQueue))
		u.presenceQueue = nil
	}
	if len(u.statsQueue) > 0 {
		net.SendPacket(protocol.ReqUserStatsRequest, protocol.EncodeIDList(u.statsQueue))
		u.statsQueue = nil
	}
}

// Logout forgets a user.
func (u *Users) Logout(id int32) {
	delete(u.online, id)
	u.presenceQueue, _ = removeID(u.presenceQueue, id)
	u.statsQueue, _ = removeID(u.statsQueue, id)
}

// LogoutAll forgets every user and the friends list.
func (u *Users) LogoutAll() {
	u.online = make(map[int32]*UserInfo)
	u.friends = make(map[int32]struct{})
	u.presenceQueue = nil
	u.statsQueue = nil
}

// SetFriends replaces the friends list.
func (u *Users) SetFriends(ids []int32) {
	u.friends = make(map[int32]struct{}, len(ids))
	for _, id := range ids {
		u.friends[id] = struct{}{}
	}
}

// IsFriend reports whether id is on the friends list.
func (u *Users) IsFriend(id int32) bool {
	_, ok := u.friends[id]
	return ok
}

// Friends returns the friends list sorted by id.
func (u *Users) Friends() []int32 {
	out := make([]int32, 0, len(u.friends))
	for id := range u.friends {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// List returns copies of all known users sorted by id, with IsFriend
// filled in.
func (u *Users) List() []UserInfo {
	out := make([]UserInfo, 0, len(u.online))
	for id, info := range u.online {
		c := *info
		c.IsFriend = u.IsFriend(id)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Len returns the number of known users.
func (u *Users) Len() int {
	return len(u.online)
}

package bancho

import (
	"errors"
	"sort"

	"github.com/neosu-project/neosu/internal/events"
	"github.com/neosu-project/neosu/internal/protocol"
)

// ErrNotInRoom is returned by room commands outside of a room.
var ErrNotInRoom = errors.New("not in a room")

const multiplayerChannel = "#multiplayer"

// Room returns a copy of the joined room. The zero value means none.
func (s *State) Room() protocol.Room {
	return s.room
}

// MatchStarted reports whether a match is being played.
func (s *State) MatchStarted() bool {
	return s.matchStarted
}

// LastScores returns the slots as they were when the last match finished.
func (s *State) LastScores() [protocol.NumSlots]protocol.Slot {
	return s.lastScores
}

// JoinLobby starts receiving room list updates.
func (s *State) JoinLobby() error {
	if !s.IsOnline() {
		return ErrOffline
	}
	s.lobby.Visible = true
	s.lobby.Rooms = make(map[uint16]protocol.Room)
	s.send(protocol.ReqJoinRoomList, nil)
	return nil
}

// ExitLobby stops room list updates.
func (s *State) ExitLobby() {
	if !s.lobby.Visible {
		return
	}
	s.lobby.Visible = false
	s.send(protocol.ReqExitRoomList, nil)
}

// LobbyRooms returns the room list sorted by id.
func (s *State) LobbyRooms() []protocol.Room {
	return s.lobby.List()
}

// CreateRoom asks the server to open a room.
func (s *State) CreateRoom(room protocol.Room) error {
	if !s.IsOnline() {
		return ErrOffline
	}
	b := protocol.NewPacketBuilder()
	room.Pack(b)
	s.send(protocol.ReqCreateRoom, b.Build())
	return nil
}

// JoinRoom asks the server to join a room.
func (s *State) JoinRoom(id int32, password string) error {
	if !s.IsOnline() {
		return ErrOffline
	}
	payload := protocol.NewPacketBuilder().WriteI32(id).WriteString(password).Build()
	s.send(protocol.ReqJoinRoom, payload)
	return nil
}

func (s *State) roomCommand(id uint16, payload []byte) error {
	if !s.room.IsInARoom() {
		return ErrNotInRoom
	}
	s.send(id, payload)
	return nil
}

// ChangeSlot moves the local player to another slot.
func (s *State) ChangeSlot(slot int32) error {
	return s.roomCommand(protocol.ReqChangeSlot, protocol.BuildI32(slot))
}

// Ready marks the local player ready.
func (s *State) Ready() error { return s.roomCommand(protocol.ReqMatchReady, nil) }

// NotReady clears the ready mark.
func (s *State) NotReady() error { return s.roomCommand(protocol.ReqMatchNotReady, nil) }

// LockSlot toggles the lock on a slot (host only).
func (s *State) LockSlot(slot int32) error {
	return s.roomCommand(protocol.ReqMatchLock, protocol.BuildI32(slot))
}

// ChangeTeam switches the local player's team.
func (s *State) ChangeTeam() error { return s.roomCommand(protocol.ReqMatchChangeTeam, nil) }

// ChangeMods sets the room mods, or our own with freemod.
func (s *State) ChangeMods(mods uint32) error {
	return s.roomCommand(protocol.ReqMatchChangeMods, protocol.BuildI32(int32(mods)))
}

// TransferHost hands the host to the player in slot.
func (s *State) TransferHost(slot int32) error {
	return s.roomCommand(protocol.ReqTransferHost, protocol.BuildI32(slot))
}

// ChangeSettings sends the full room settings (host only).
func (s *State) ChangeSettings(room protocol.Room) error {
	b := protocol.NewPacketBuilder()
	room.Pack(b)
	return s.roomCommand(protocol.ReqMatchChangeSettings, b.Build())
}

// ChangePassword sets the room password (host only).
func (s *State) ChangePassword(password string) error {
	room := s.room
	room.Password = password
	room.HasPassword = password != ""
	b := protocol.NewPacketBuilder()
	room.Pack(b)
	return s.roomCommand(protocol.ReqChangeRoomPassword, b.Build())
}

// InviteToRoom sends a room invite to userID.
func (s *State) InviteToRoom(userID int32) error {
	return s.roomCommand(protocol.ReqMatchInvite, protocol.BuildI32(userID))
}

// StartMatch starts the match (host only).
func (s *State) StartMatch() error { return s.roomCommand(protocol.ReqStartMatch, nil) }

// LoadComplete tells the server the map is loaded.
func (s *State) LoadComplete() error { return s.roomCommand(protocol.ReqMatchLoadComplete, nil) }

// SkipRequest votes to skip the intro.
func (s *State) SkipRequest() error { return s.roomCommand(protocol.ReqMatchSkipRequest, nil) }

// Failed reports that the local player failed.
func (s *State) Failed() error { return s.roomCommand(protocol.ReqMatchFailed, nil) }

// FinishMatch reports that the local player completed the map.
func (s *State) FinishMatch() error { return s.roomCommand(protocol.ReqFinishMatch, nil) }

// HasBeatmap reports that the room map is installed.
func (s *State) HasBeatmap() error { return s.roomCommand(protocol.ReqMatchHasBeatmap, nil) }

// NoBeatmap reports that the room map is missing.
func (s *State) NoBeatmap() error { return s.roomCommand(protocol.ReqMatchNoBeatmap, nil) }

// SendScoreFrame streams the local player's score during a match.
func (s *State) SendScoreFrame(f protocol.ScoreFrame) error {
	if !s.matchStarted {
		return ErrNotInRoom
	}
	b := protocol.NewPacketBuilder()
	f.Pack(b)
	s.send(protocol.ReqUpdateMatchScore, b.Build())
	return nil
}

// RagequitRoom leaves the room immediately.
func (s *State) RagequitRoom() {
	roomID := s.room.ID
	s.matchStarted = false
	s.send(protocol.ReqExitRoom, nil)
	s.room = protocol.Room{}
	s.removeChannel(multiplayerChannel)

	s.logger.Info().Uint16("room_id", roomID).Msg("Left room")
	s.emit(events.EventRoomLeft, events.RoomPayload{})
}

func (s *State) onRoomJoined(room protocol.Room) {
	s.StopSpectating()
	if s.game.IsPlaying() {
		s.game.Stop()
	}

	s.room = room
	s.matchStarted = false
	for i := range room.Slots {
		if room.Slots[i].HasPlayer() {
			s.users.GetUserInfo(room.Slots[i].PlayerID, true)
		}
	}
	s.lobby.Visible = false

	ch, _ := s.chat.getOrCreate(multiplayerChannel)
	ch.Joined = true
	s.emitChannel(ch)

	s.onMapChange()

	s.logger.Info().Uint16("room_id", room.ID).Str("name", room.Name).Msg("Joined room")
	s.emit(events.EventRoomJoined, events.RoomPayload{Room: room})
}

// onRoomUpdated replaces the room. Losing our slot means we were kicked.
func (s *State) onRoomUpdated(room protocol.Room) {
	if s.matchStarted || !s.room.IsInARoom() {
		return
	}

	mapChanged := s.room.MapMD5 != room.MapMD5
	s.room = room

	if room.SlotOf(s.UserID()) == -1 {
		s.logger.Info().Uint16("room_id", room.ID).Msg("No longer in any slot")
		s.RagequitRoom()
		return
	}
	for i := range room.Slots {
		if room.Slots[i].HasPlayer() {
			s.users.GetUserInfo(room.Slots[i].PlayerID, true)
		}
	}
	if mapChanged {
		s.onMapChange()
	}
	s.emit(events.EventRoomUpdated, events.RoomPayload{Room: room})
}

// onMapChange tells the server whether we have the room's map.
func (s *State) onMapChange() {
	if s.room.MapID == 0 && s.room.MapMD5.IsEmpty() {
		return
	}
	if s.maps != nil && s.maps.HasMap(s.room.MapMD5) {
		s.send(protocol.ReqMatchHasBeatmap, nil)
	} else {
		s.send(protocol.ReqMatchNoBeatmap, nil)
	}
}

func (s *State) onMatchStarted(room protocol.Room) {
	s.room = room
	s.room.AllPlayersLoaded = false
	s.room.AllPlayersSkipped = false

	slot := s.room.SlotOf(s.UserID())
	if slot < 0 || !s.room.Slots[slot].IsPlayerPlaying() {
		s.emit(events.EventRoomUpdated, events.RoomPayload{Room: s.room})
		return
	}

	mods := s.room.Mods
	if s.room.Freemods {
		mods = s.room.Slots[slot].Mods
	}
	if !s.game.PlayMap(s.room.MapMD5, mods) {
		s.logger.Warn().Str("md5", s.room.MapMD5.String()).Msg("Failed to load match map")
		s.RagequitRoom()
		return
	}

	s.matchStarted = true
	s.emit(events.EventMatchStarted, events.RoomPayload{Room: s.room})
}

func (s *State) onMatchScoreUpdated(f protocol.ScoreFrame) {
	if int(f.SlotID) >= protocol.NumSlots {
		return
	}
	s.room.Slots[f.SlotID].ApplyScore(f)
	s.emit(events.EventMatchScoreUpdated, events.ScoreUpdatedPayload{Frame: f})
}

func (s *State) onAllPlayersLoaded() {
	s.room.AllPlayersLoaded = true
	s.emit(events.EventAllPlayersLoaded, events.RoomPayload{Room: s.room})
}

func (s *State) onPlayerFailed(slot int32) {
	if slot < 0 || slot >= protocol.NumSlots {
		return
	}
	s.room.Slots[slot].Died = true
}

func (s *State) onPlayerSkipped(userID int32) {
	for i := range s.room.Slots {
		if s.room.Slots[i].PlayerID == userID && s.room.Slots[i].HasPlayer() {
			s.room.Slots[i].Skipped = true
			break
		}
	}
	if s.room.AllPlayingSkipped() {
		s.onAllPlayersSkipped()
	}
}

func (s *State) onAllPlayersSkipped() {
	if s.room.AllPlayersSkipped {
		return
	}
	s.room.AllPlayersSkipped = true
	if s.game.IsPlaying() {
		s.game.Skip()
	}
	s.emit(events.EventAllPlayersSkipped, events.RoomPayload{Room: s.room})
}

func (s *State) onMatchFinished() {
	if !s.matchStarted {
		return
	}
	s.lastScores = s.room.Slots
	s.matchStarted = false

	s.emit(events.EventMatchFinished, events.MatchFinishedPayload{
		RoomID:  s.room.ID,
		Results: s.ranking(),
	})
}

// ranking orders the last scores, best first.
func (s *State) ranking() []events.MatchResult {
	var out []events.MatchResult
	for i, slot := range s.lastScores {
		if !slot.HasPlayer() || (slot.LastUpdateTime == 0 && slot.TotalScore == 0) {
			continue
		}
		out = append(out, events.MatchResult{
			SlotID:   i,
			PlayerID: slot.PlayerID,
			Team:     slot.Team,
			Score: protocol.ScoreFrame{
				Time:         slot.LastUpdateTime,
				SlotID:       uint8(i),
				Num300:       slot.Num300,
				Num100:       slot.Num100,
				Num50:        slot.Num50,
				NumGeki:      slot.NumGeki,
				NumKatu:      slot.NumKatu,
				NumMiss:      slot.NumMiss,
				TotalScore:   slot.TotalScore,
				MaxCombo:     slot.MaxCombo,
				CurrentCombo: slot.CurrentCombo,
				IsPerfect:    slot.IsPerfect,
				CurrentHP:    slot.CurrentHP,
				Tag:          slot.Tag,
				IsScoreV2:    slot.IsScoreV2,
				ComboPortion: slot.SV2Combo,
				BonusPortion: slot.SV2Bonus,
			},
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score.TotalScore > out[j].Score.TotalScore
	})
	return out
}

func (s *State) onMatchAborted() {
	if !s.matchStarted {
		return
	}
	s.matchStarted = false
	if s.game.IsPlaying() {
		s.game.Stop()
	}
	s.emit(events.EventMatchAborted, events.RoomPayload{Room: s.room})
}

func (s *State) onLobbyRoom(room protocol.Room) {
	s.lobby.Rooms[room.ID] = room
	s.emit(events.EventLobbyUpdated, events.LobbyPayload{Rooms: s.lobby.List()})
}

func (s *State) onLobbyRoomClosed(id int32) {
	if _, ok := s.lobby.Rooms[uint16(id)]; !ok {
		return
	}
	delete(s.lobby.Rooms, uint16(id))
	s.emit(events.EventLobbyUpdated, events.LobbyPayload{Rooms: s.lobby.List()})
}

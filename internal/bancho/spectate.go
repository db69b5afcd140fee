package bancho

import (
	"github.com/neosu-project/neosu/internal/events"
	"github.com/neosu-project/neosu/internal/protocol"
)

// StartSpectating watches another player. Spectating someone else first
// stops that, and being in a room leaves it.
func (s *State) StartSpectating(userID int32) error {
	if !s.IsOnline() {
		return ErrOffline
	}
	if s.spectating {
		if s.spectatedPlayerID == userID {
			return nil
		}
		s.StopSpectating()
	}
	if s.room.IsInARoom() {
		s.RagequitRoom()
	}

	s.send(protocol.ReqStartSpectating, protocol.BuildI32(userID))
	s.spectating = true
	s.spectatedPlayerID = userID
	s.specFrames = nil

	s.users.GetUserInfo(userID, true)
	s.users.RequestStats(userID)

	s.logger.Info().Int32("user_id", userID).Msg("Started spectating")
	s.emit(events.EventSpectateStarted, events.SpectatorPayload{UserID: userID})
	return nil
}

// StopSpectating stops watching and any playback of the watched map.
func (s *State) StopSpectating() {
	if !s.spectating {
		return
	}
	if s.game.IsPlaying() {
		s.game.Stop()
	}
	s.send(protocol.ReqStopSpectating, nil)

	userID := s.spectatedPlayerID
	s.spectating = false
	s.spectatedPlayerID = 0
	s.fellowSpectators = nil
	s.specFrames = nil

	s.logger.Info().Int32("user_id", userID).Msg("Stopped spectating")
	s.emit(events.EventSpectateStopped, events.SpectatorPayload{UserID: userID})
}

// SendSpectateFrames streams our own play to our spectators.
func (s *State) SendSpectateFrames(bundle protocol.SpectateFrames) {
	if len(s.spectators) == 0 {
		return
	}
	b := protocol.NewPacketBuilder()
	bundle.Pack(b)
	s.send(protocol.ReqSpectateFrames, b.Build())
}

// ChangeAction announces what the local player is doing.
func (s *State) ChangeAction(a protocol.ChangeAction) {
	s.send(protocol.ReqChangeAction, protocol.EncodeChangeAction(a))
}

// handleSpectateFrames buffers a bundle from the watched player.
func (s *State) handleSpectateFrames(p *protocol.Packet) {
	if !s.spectating {
		return
	}
	bundle := protocol.ReadSpectateFrames(p)

	// a new song starts a new frame timeline
	if bundle.Action == protocol.SpecNewSong {
		s.specFrames = s.specFrames[:0]
	}
	s.specFrames = append(s.specFrames, bundle.Frames...)
	protocol.SortFrames(s.specFrames)

	user := s.users.GetUserInfo(s.spectatedPlayerID, true)
	user.SpecAction = bundle.Action
	user.SpecScore = bundle.Score

	s.applySpectatorAction(bundle.Action, user)
}

func (s *State) applySpectatorAction(action protocol.SpectatorAction, user *UserInfo) {
	if action == protocol.SpecNewSong {
		if s.maps != nil && !s.maps.HasMap(user.MapMD5) {
			s.logger.Info().Str("md5", user.MapMD5.String()).Msg("Spectated map is not installed")
			return
		}
		if !s.game.PlayMap(user.MapMD5, user.Mods) {
			s.logger.Warn().Str("md5", user.MapMD5.String()).Msg("Failed to load spectated map")
		}
		return
	}

	if !s.game.IsPlaying() {
		return
	}
	switch action {
	case protocol.SpecSongSelect:
		s.game.Stop()
	case protocol.SpecUnpause:
		s.game.Unpause()
	case protocol.SpecPause:
		s.game.Pause()
	case protocol.SpecSkip:
		s.game.Skip()
	case protocol.SpecFail:
		s.game.Fail()
	}
}

// SpectateFrames returns a copy of the buffered frames.
func (s *State) SpectateFrames() []protocol.LiveReplayFrame {
	return append([]protocol.LiveReplayFrame(nil), s.specFrames...)
}

func addID(ids []int32, id int32) ([]int32, bool) {
	for _, v := range ids {
		if v == id {
			return ids, false
		}
	}
	return append(ids, id), true
}

func removeID(ids []int32, id int32) ([]int32, bool) {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...), true
		}
	}
	return ids, false
}

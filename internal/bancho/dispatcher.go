package bancho

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neosu-project/neosu/internal/config"
	"github.com/neosu-project/neosu/internal/connector"
	"github.com/neosu-project/neosu/internal/events"
	"github.com/neosu-project/neosu/internal/protocol"
)

type handlerFunc func(p *protocol.Packet)

// HandlePacket dispatches one incoming packet. Unknown ids are logged and
// dropped.
func (s *State) HandlePacket(p *protocol.Packet) {
	name := protocol.PacketName(p.ID)
	if s.metrics != nil {
		s.metrics.PacketsReceived.WithLabelValues(name).Inc()
	}

	h, ok := s.handlers[p.ID]
	if !ok {
		if s.metrics != nil {
			s.metrics.UnknownPackets.Inc()
		}
		s.logger.Debug().Uint16("id", p.ID).Int("size", p.Size()).Msg("Unhandled packet")
		return
	}
	h(p)

	if p.Failed() {
		s.logger.Debug().Str("packet", name).Int("size", p.Size()).Msg("Packet payload was truncated")
	}
}

func (s *State) packetHandlers() map[uint16]handlerFunc {
	return map[uint16]handlerFunc{
		protocol.PktUserID:      s.handleUserID,
		protocol.PktRecvMessage: func(p *protocol.Packet) { s.addMessage(protocol.DecodeMessage(p)) },
		protocol.PktPong:        func(*protocol.Packet) {},
		protocol.PktUserStats:   s.handleUserStats,
		protocol.PktUserLogout:  s.handleUserLogout,

		protocol.PktSpectatorJoined: func(p *protocol.Packet) { s.spectatorJoined(p.ReadI32(), false) },
		protocol.PktSpectatorLeft:   func(p *protocol.Packet) { s.spectatorLeft(p.ReadI32(), false) },
		protocol.PktFellowSpectatorJoined: func(p *protocol.Packet) {
			s.spectatorJoined(p.ReadI32(), true)
		},
		protocol.PktFellowSpectatorLeft: func(p *protocol.Packet) {
			s.spectatorLeft(p.ReadI32(), true)
		},
		protocol.PktSpectatorCantSpectate: func(p *protocol.Packet) {
			s.logger.Info().Int32("user_id", p.ReadI32()).Msg("Spectator does not have the map")
		},
		protocol.PktSpectateFrames: s.handleSpectateFrames,

		protocol.PktVersionUpdate:    s.logOnly,
		protocol.PktGetAttention:     s.logOnly,
		protocol.PktHostChanged:      s.logOnly,
		protocol.PktUserSilenced:     s.logI32("user_id"),
		protocol.PktSwitchServer:     s.logI32("seconds"),
		protocol.PktPrivileges:       func(p *protocol.Packet) { s.privileges = p.ReadI32() },
		protocol.PktSilenceEnd:       func(p *protocol.Packet) { s.silenceEnd = p.ReadI32() },
		protocol.PktUserDMBlocked:    s.logMessage("User blocks DMs from non-friends"),
		protocol.PktTargetIsSilenced: s.logMessage("Message target is silenced"),
		protocol.PktNotification: func(p *protocol.Packet) {
			s.toast(events.ToastInfo, p.ReadString())
		},

		protocol.PktRoomUpdated:     s.handleRoomUpdated,
		protocol.PktRoomCreated:     func(p *protocol.Packet) { s.onLobbyRoom(protocol.ReadRoom(p)) },
		protocol.PktRoomClosed:      func(p *protocol.Packet) { s.onLobbyRoomClosed(p.ReadI32()) },
		protocol.PktRoomJoinSuccess: func(p *protocol.Packet) { s.onRoomJoined(protocol.ReadRoom(p)) },
		protocol.PktRoomJoinFail: func(*protocol.Packet) {
			s.toast(events.ToastError, "Failed to join room.")
			s.emit(events.EventRoomJoinFailed, nil)
		},
		protocol.PktMatchStarted: func(p *protocol.Packet) { s.onMatchStarted(protocol.ReadRoom(p)) },
		protocol.PktMatchScoreUpdated: func(p *protocol.Packet) {
			s.onMatchScoreUpdated(protocol.ReadScoreFrame(p))
		},
		protocol.PktMatchAllPlayersLoaded: func(*protocol.Packet) { s.onAllPlayersLoaded() },
		protocol.PktMatchPlayerFailed:     func(p *protocol.Packet) { s.onPlayerFailed(p.ReadI32()) },
		protocol.PktMatchPlayerSkipped:    func(p *protocol.Packet) { s.onPlayerSkipped(p.ReadI32()) },
		protocol.PktMatchSkip:             func(*protocol.Packet) { s.onAllPlayersSkipped() },
		protocol.PktMatchFinished:         func(*protocol.Packet) { s.onMatchFinished() },
		protocol.PktMatchAbort:            func(*protocol.Packet) { s.onMatchAborted() },
		protocol.PktRoomInvite:            func(p *protocol.Packet) { s.addMessage(protocol.DecodeMessage(p)) },
		protocol.PktRoomPasswordChanged: func(p *protocol.Packet) {
			s.room.Password = p.ReadString()
		},

		protocol.PktChannelJoinSuccess: s.handleChannelJoinSuccess,
		protocol.PktChannelInfo: func(p *protocol.Packet) {
			s.updateChannel(protocol.DecodeChannelInfo(p), false)
		},
		protocol.PktChannelAutoJoin: func(p *protocol.Packet) {
			s.updateChannel(protocol.DecodeChannelInfo(p), true)
		},
		protocol.PktLeftChannel:    func(p *protocol.Packet) { s.removeChannel(p.ReadString()) },
		protocol.PktChannelInfoEnd: s.handleChannelInfoEnd,

		protocol.PktFriendsList:     s.handleFriendsList,
		protocol.PktProtocolVersion: s.handleProtocolVersion,
		protocol.PktMainMenuIcon:    s.handleMainMenuIcon,
		protocol.PktUserPresence:    s.handleUserPresence,
		protocol.PktRestart:         s.handleRestart,
		protocol.PktVersionUpdateForced: func(*protocol.Packet) {
			s.disconnect(context.Background(), "version update forced")
			s.toast(events.ToastError, "This server requires a newer client version.")
		},
		protocol.PktAccountRestricted: func(*protocol.Packet) {
			s.toast(events.ToastError, "Account restricted.")
			s.disconnect(context.Background(), "account restricted")
		},

		protocol.PktProtectVariables:   s.varNamesHandler("protect", s.vars.Protect),
		protocol.PktUnprotectVariables: s.varNamesHandler("unprotect", s.vars.Unprotect),
		protocol.PktResetValues:        s.varNamesHandler("reset", s.vars.Reset),
		protocol.PktForceValues:        s.handleForceValues,
		protocol.PktRequestMap:         s.handleRequestMap,
	}
}

func (s *State) logOnly(p *protocol.Packet) {
	s.logger.Debug().Str("packet", protocol.PacketName(p.ID)).Int("size", p.Size()).Msg("Ignored packet")
}

func (s *State) logI32(field string) handlerFunc {
	return func(p *protocol.Packet) {
		s.logger.Info().Str("packet", protocol.PacketName(p.ID)).Int32(field, p.ReadI32()).Msg("Server notice")
	}
}

func (s *State) logMessage(msg string) handlerFunc {
	return func(p *protocol.Packet) {
		m := protocol.DecodeMessage(p)
		s.logger.Info().Str("target", m.Recipient).Msg(msg)
	}
}

func (s *State) handleUserID(p *protocol.Packet) {
	id := p.ReadI32()
	if id > 0 {
		s.onLoggedIn(id)
		return
	}
	s.onLoginFailed(id)
}

func (s *State) handleUserStats(p *protocol.Packet) {
	stats := protocol.DecodeUserStats(p)
	user := s.users.GetUserInfo(stats.UserID, true)
	oldAction := user.Action
	user.applyStats(stats)

	if oldAction != stats.Action && stats.Action.Valid() &&
		s.users.IsFriend(stats.UserID) && s.vars.GetBool(config.VarNotifyFriendStatus) {
		s.toast(events.ToastInfo, fmt.Sprintf("%s is now %s", user.Name, stats.Action))
	}

	if stats.UserID == s.UserID() {
		s.emit(events.EventSelfStats, *user)
	}
	s.emit(events.EventUserStats, events.UserPayload{UserID: stats.UserID, Name: user.Name, Action: stats.Action})
}

func (s *State) handleUserLogout(p *protocol.Packet) {
	id := p.ReadI32()
	_ = p.ReadU8()

	if id == s.UserID() {
		s.disconnect(context.Background(), "logged out by server")
		return
	}
	if s.spectating && id == s.spectatedPlayerID {
		s.StopSpectating()
	}

	name := ""
	if user, ok := s.users.TryGetUserInfo(id); ok {
		name = user.Name
	}
	s.users.Logout(id)
	s.emit(events.EventUserLogout, events.UserPayload{UserID: id, Name: name})
}

func (s *State) spectatorJoined(id int32, fellow bool) {
	var added bool
	if fellow {
		s.fellowSpectators, added = addID(s.fellowSpectators, id)
	} else {
		s.spectators, added = addID(s.spectators, id)
	}
	if !added {
		return
	}
	s.users.GetUserInfo(id, true)
	s.emit(events.EventSpectatorJoined, events.SpectatorPayload{UserID: id, Fellow: fellow})
}

func (s *State) spectatorLeft(id int32, fellow bool) {
	var removed bool
	if fellow {
		s.fellowSpectators, removed = removeID(s.fellowSpectators, id)
	} else {
		s.spectators, removed = removeID(s.spectators, id)
	}
	if removed {
		s.emit(events.EventSpectatorLeft, events.SpectatorPayload{UserID: id, Fellow: fellow})
	}
}

func (s *State) handleRoomUpdated(p *protocol.Packet) {
	room := protocol.ReadRoom(p)
	if s.lobby.Visible {
		s.onLobbyRoom(room)
		return
	}
	if s.room.IsInARoom() && room.ID == s.room.ID {
		s.onRoomUpdated(room)
	}
}

func (s *State) handleChannelJoinSuccess(p *protocol.Packet) {
	name := p.ReadString()
	ch, _ := s.chat.getOrCreate(name)
	ch.Joined = true
	s.addSystemMessage(name, "Joined channel.")
	s.emitChannel(ch)
}

func (s *State) handleChannelInfoEnd(*protocol.Packet) {
	s.printNewChannels = false
	s.JoinChannel("#announce")
	s.JoinChannel("#osu")
}

func (s *State) handleFriendsList(p *protocol.Packet) {
	ids := protocol.DecodeIDList(p)
	s.users.SetFriends(ids)
	s.emit(events.EventFriendsList, events.FriendsPayload{Friends: s.users.Friends()})
}

func (s *State) handleProtocolVersion(p *protocol.Packet) {
	if v := p.ReadI32(); v != protocol.ProtocolVersion {
		s.logger.Warn().Int32("version", v).Msg("Unsupported protocol version")
		s.toast(events.ToastError, "This server may use an unsupported protocol version.")
	}
}

func (s *State) handleMainMenuIcon(p *protocol.Packet) {
	urls := strings.Split(p.ReadString(), "|")
	if len(urls) == 2 && strings.HasPrefix(urls[0], "https://") {
		s.serverIconURL = urls[0]
	}
}

func (s *State) handleUserPresence(p *protocol.Packet) {
	presence := protocol.DecodeUserPresence(p)
	user := s.users.GetUserInfo(presence.UserID, false)
	user.applyPresence(presence)
	s.emit(events.EventUserPresence, events.UserPayload{UserID: user.UserID, Name: user.Name, Action: user.Action})
}

func (s *State) handleRestart(p *protocol.Packet) {
	ms := p.ReadI32()
	s.logger.Info().Int32("ms", ms).Msg("Server is restarting")
	if s.IsOnline() {
		s.Reconnect(context.Background())
	}
}

// FriendAdd adds a user to the friends list.
func (s *State) FriendAdd(userID int32) error {
	if !s.IsOnline() {
		return ErrOffline
	}
	s.send(protocol.ReqFriendAdd, protocol.BuildI32(userID))
	ids := append(s.users.Friends(), userID)
	s.users.SetFriends(ids)
	s.emit(events.EventFriendsList, events.FriendsPayload{Friends: s.users.Friends()})
	return nil
}

// FriendRemove removes a user from the friends list.
func (s *State) FriendRemove(userID int32) error {
	if !s.IsOnline() {
		return ErrOffline
	}
	s.send(protocol.ReqFriendRemove, protocol.BuildI32(userID))
	ids, _ := removeID(s.users.Friends(), userID)
	s.users.SetFriends(ids)
	s.emit(events.EventFriendsList, events.FriendsPayload{Friends: s.users.Friends()})
	return nil
}

func (s *State) varNamesHandler(op string, apply func(name string) error) handlerFunc {
	return func(p *protocol.Packet) {
		var applied []string
		for _, name := range protocol.DecodeVarNames(p) {
			if err := apply(name); err != nil {
				s.logVarError(op, name, err)
				continue
			}
			applied = append(applied, name)
		}
		s.emit(events.EventVarsChanged, events.VarsChangedPayload{Operation: op, Names: applied})
	}
}

func (s *State) handleForceValues(p *protocol.Packet) {
	var applied []string
	for _, v := range protocol.DecodeVarValues(p) {
		if err := s.vars.Force(v.Name, v.Value); err != nil {
			s.logVarError("force", v.Name, err)
			continue
		}
		applied = append(applied, v.Name)
	}
	s.emit(events.EventVarsChanged, events.VarsChangedPayload{Operation: "force", Names: applied})
}

func (s *State) logVarError(op, name string, err error) {
	if errors.Is(err, config.ErrUnknownVar) {
		s.logger.Debug().Str("op", op).Str("var", name).Msg("Server named an unknown variable")
		return
	}
	s.logger.Warn().Err(err).Str("op", op).Str("var", name).Msg("Server variable change refused")
}

// handleRequestMap uploads a local beatmap the server asked for. Nothing
// is sent unless the file still hashes to the requested md5.
func (s *State) handleRequestMap(p *protocol.Packet) {
	md5 := protocol.ParseMD5Hash(p.ReadString())
	if s.maps == nil {
		s.logger.Debug().Str("md5", md5.String()).Msg("Map requested but no beatmap store")
		return
	}

	data, filename, err := s.maps.MapFile(md5)
	if err != nil {
		s.logger.Warn().Err(err).Str("md5", md5.String()).Msg("Failed to load requested map")
		return
	}
	if actual := protocol.HashBytes(data); actual != md5 {
		s.logger.Warn().Str("md5", md5.String()).Str("actual", actual.String()).Msg("Requested map hash mismatch")
		return
	}

	form := connector.NewMultipartForm().
		AddField("md5", md5.String()).
		AddFile("osu_file", filename, data)
	s.sendAPI(connector.APIRequest{
		Type:    connector.APISubmitMap,
		Path:    connector.SubmitMapPath,
		Form:    form,
		Context: connector.SubmitMapContext{MD5: md5},
	})
}

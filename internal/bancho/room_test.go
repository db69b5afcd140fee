package bancho

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neosu-project/neosu/internal/events"
	"github.com/neosu-project/neosu/internal/protocol"
)

var testMapMD5 = protocol.HashString("room map")

// testRoom seats players in the first slots, not ready.
func testRoom(id uint16, players ...int32) protocol.Room {
	r := protocol.Room{
		ID:      id,
		Name:    "test room",
		MapName: "artist - title [hard]",
		MapID:   100,
		MapMD5:  testMapMD5,
	}
	for i := range r.Slots {
		r.Slots[i].Status = protocol.SlotOpen
	}
	for i, p := range players {
		r.Slots[i].Status = protocol.SlotNotReady
		r.Slots[i].PlayerID = p
	}
	if len(players) > 0 {
		r.HostID = players[0]
	}
	return r
}

func roomPayload(r protocol.Room) []byte {
	b := protocol.NewPacketBuilder()
	r.Pack(b)
	return b.Build()
}

func playing(r protocol.Room) protocol.Room {
	for i := range r.Slots {
		if r.Slots[i].HasPlayer() {
			r.Slots[i].Status = protocol.SlotPlaying
		}
	}
	r.InProgress = true
	return r
}

func scorePayload(slot uint8, total int32) []byte {
	f := protocol.ScoreFrame{Time: 1000, SlotID: slot, Num300: 10, TotalScore: total, MaxCombo: 10}
	b := protocol.NewPacketBuilder()
	f.Pack(b)
	return b.Build()
}

// joinRoom logs in and joins a room with the given other players.
func joinRoom(t *testing.T, others ...int32) *testEnv {
	t.Helper()
	env := newTestEnv(t)
	env.login(t)
	env.handle(protocol.PktRoomJoinSuccess, roomPayload(testRoom(7, append([]int32{testUserID}, others...)...)))
	require.True(t, env.state.IsInRoom())
	env.net.packets = nil
	return env
}

func TestRoomCommandsNeedARoom(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	assert.ErrorIs(t, env.state.Ready(), ErrNotInRoom)
	assert.ErrorIs(t, env.state.ChangeSlot(2), ErrNotInRoom)
	assert.ErrorIs(t, env.state.SendScoreFrame(protocol.ScoreFrame{}), ErrNotInRoom)
	assert.Empty(t, env.net.packets)
}

func TestLobbyAndRoomRequestsNeedLogin(t *testing.T) {
	env := newTestEnv(t)
	assert.ErrorIs(t, env.state.JoinLobby(), ErrOffline)
	assert.ErrorIs(t, env.state.JoinRoom(1, ""), ErrOffline)
	assert.ErrorIs(t, env.state.CreateRoom(testRoom(0)), ErrOffline)
}

func TestJoinRoom(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	require.NoError(t, env.state.JoinLobby())
	env.handle(protocol.PktRoomJoinSuccess, roomPayload(testRoom(7, testUserID, 2)))

	room := env.state.Room()
	assert.Equal(t, uint16(7), room.ID)
	assert.Equal(t, 2, room.NbPlayers)
	assert.False(t, env.state.lobby.Visible)

	ch, ok := env.state.chat.Get(multiplayerChannel)
	require.True(t, ok)
	assert.True(t, ch.Joined)

	// the map is not installed
	assert.Equal(t, []uint16{protocol.ReqJoinRoomList, protocol.ReqMatchNoBeatmap}, env.net.ids())
	assert.Len(t, env.bus.ofType(events.EventRoomJoined), 1)

	_, known := env.state.users.TryGetUserInfo(2)
	assert.True(t, known)
}

func TestJoinRoomWithInstalledMap(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.maps.files[testMapMD5] = []byte("map")
	env.handle(protocol.PktRoomJoinSuccess, roomPayload(testRoom(7, testUserID)))
	assert.Equal(t, []uint16{protocol.ReqMatchHasBeatmap}, env.net.ids())
}

func TestJoinRoomStopsSpectating(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	require.NoError(t, env.state.StartSpectating(44))
	env.handle(protocol.PktRoomJoinSuccess, roomPayload(testRoom(7, testUserID)))

	assert.False(t, env.state.spectating)
	assert.Contains(t, env.net.ids(), protocol.ReqStopSpectating)
}

func TestRoomCommands(t *testing.T) {
	env := joinRoom(t)

	tests := []struct {
		name string
		run  func() error
		id   uint16
	}{
		{"ready", env.state.Ready, protocol.ReqMatchReady},
		{"not ready", env.state.NotReady, protocol.ReqMatchNotReady},
		{"change slot", func() error { return env.state.ChangeSlot(3) }, protocol.ReqChangeSlot},
		{"lock", func() error { return env.state.LockSlot(3) }, protocol.ReqMatchLock},
		{"team", env.state.ChangeTeam, protocol.ReqMatchChangeTeam},
		{"mods", func() error { return env.state.ChangeMods(64) }, protocol.ReqMatchChangeMods},
		{"host", func() error { return env.state.TransferHost(1) }, protocol.ReqTransferHost},
		{"invite", func() error { return env.state.InviteToRoom(9) }, protocol.ReqMatchInvite},
		{"start", env.state.StartMatch, protocol.ReqStartMatch},
		{"password", func() error { return env.state.ChangePassword("secret") }, protocol.ReqChangeRoomPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.run())
			assert.Equal(t, tt.id, env.net.last().ID)
		})
	}

	password := protocol.ReadRoom(protocol.NewPacket(0, env.net.packets[len(env.net.packets)-1].Payload))
	assert.Equal(t, "secret", password.Password)
}

func TestRoomUpdated(t *testing.T) {
	env := joinRoom(t, 2)

	updated := testRoom(7, testUserID, 2)
	updated.Name = "renamed"
	updated.MapMD5 = protocol.HashString("another map")
	env.handle(protocol.PktRoomUpdated, roomPayload(updated))

	assert.Equal(t, "renamed", env.state.Room().Name)
	assert.Equal(t, []uint16{protocol.ReqMatchNoBeatmap}, env.net.ids(), "map change is answered")
	assert.Len(t, env.bus.ofType(events.EventRoomUpdated), 1)

	// other rooms are ignored
	other := testRoom(8, 5)
	env.handle(protocol.PktRoomUpdated, roomPayload(other))
	assert.Equal(t, uint16(7), env.state.Room().ID)
}

func TestKickedFromRoom(t *testing.T) {
	env := joinRoom(t, 2)
	env.handle(protocol.PktRoomUpdated, roomPayload(testRoom(7, 2)))

	assert.False(t, env.state.IsInRoom())
	assert.Equal(t, []uint16{protocol.ReqExitRoom}, env.net.ids())
	_, ok := env.state.chat.Get(multiplayerChannel)
	assert.False(t, ok)
	assert.Len(t, env.bus.ofType(events.EventRoomLeft), 1)
}

func TestMatchStart(t *testing.T) {
	t.Run("map loads", func(t *testing.T) {
		env := joinRoom(t, 2)
		env.game.playResult = true
		env.handle(protocol.PktMatchStarted, roomPayload(playing(testRoom(7, testUserID, 2))))

		assert.True(t, env.state.MatchStarted())
		assert.Equal(t, []protocol.MD5Hash{testMapMD5}, env.game.played)
		assert.Len(t, env.bus.ofType(events.EventMatchStarted), 1)

		// updates during a match do not replace the room
		renamed := playing(testRoom(7, testUserID, 2))
		renamed.Name = "renamed"
		env.handle(protocol.PktRoomUpdated, roomPayload(renamed))
		assert.Equal(t, "test room", env.state.Room().Name)
	})

	t.Run("map fails to load", func(t *testing.T) {
		env := joinRoom(t, 2)
		env.game.playResult = false
		env.handle(protocol.PktMatchStarted, roomPayload(playing(testRoom(7, testUserID, 2))))

		assert.False(t, env.state.MatchStarted())
		assert.False(t, env.state.IsInRoom())
		assert.Equal(t, []uint16{protocol.ReqExitRoom}, env.net.ids())
	})

	t.Run("not playing", func(t *testing.T) {
		env := joinRoom(t, 2)
		env.handle(protocol.PktMatchStarted, roomPayload(testRoom(7, testUserID, 2)))
		assert.False(t, env.state.MatchStarted())
		assert.Empty(t, env.game.calls)
	})
}

func TestMatchUsesSlotModsWithFreemod(t *testing.T) {
	env := joinRoom(t)
	env.game.playResult = true

	var mods uint32
	game := &modRecorder{fakeGame: env.game, mods: &mods}
	env.state.game = game

	room := playing(testRoom(7, testUserID))
	room.Mods = 8
	room.Freemods = true
	room.Slots[0].Mods = 16
	env.handle(protocol.PktMatchStarted, roomPayload(room))
	assert.Equal(t, uint32(16), mods)
}

type modRecorder struct {
	*fakeGame
	mods *uint32
}

func (m *modRecorder) PlayMap(md5 protocol.MD5Hash, mods uint32) bool {
	*m.mods = mods
	return m.fakeGame.PlayMap(md5, mods)
}

func startedMatch(t *testing.T, others ...int32) *testEnv {
	t.Helper()
	env := joinRoom(t, others...)
	env.game.playResult = true
	env.handle(protocol.PktMatchStarted, roomPayload(playing(testRoom(7, append([]int32{testUserID}, others...)...))))
	require.True(t, env.state.MatchStarted())
	env.net.packets = nil
	return env
}

func TestMatchScoresAndFinish(t *testing.T) {
	env := startedMatch(t, 2, 3)

	env.handle(protocol.PktMatchScoreUpdated, scorePayload(0, 500))
	env.handle(protocol.PktMatchScoreUpdated, scorePayload(1, 900))
	env.handle(protocol.PktMatchScoreUpdated, scorePayload(20, 100))
	assert.Len(t, env.bus.ofType(events.EventMatchScoreUpdated), 2, "out of range slots are dropped")
	assert.Equal(t, int32(900), env.state.Room().Slots[1].TotalScore)

	env.handle(protocol.PktMatchPlayerFailed, protocol.BuildI32(1))
	env.handle(protocol.PktMatchPlayerFailed, protocol.BuildI32(40))
	assert.True(t, env.state.Room().Slots[1].Died)

	env.handle(protocol.PktMatchFinished, nil)
	assert.False(t, env.state.MatchStarted())

	finished := env.bus.ofType(events.EventMatchFinished)
	require.Len(t, finished, 1)
	results := finished[0].Payload.(events.MatchFinishedPayload).Results
	require.Len(t, results, 2, "slot 2 never reported a score")
	assert.Equal(t, int32(2), results[0].PlayerID)
	assert.Equal(t, testUserID, results[1].PlayerID)
	assert.Equal(t, int32(900), env.state.LastScores()[1].TotalScore)

	// a second finish is ignored
	env.handle(protocol.PktMatchFinished, nil)
	assert.Len(t, env.bus.ofType(events.EventMatchFinished), 1)
}

func TestMatchSkip(t *testing.T) {
	env := startedMatch(t, 2)

	env.handle(protocol.PktMatchPlayerSkipped, protocol.BuildI32(testUserID))
	assert.Empty(t, env.bus.ofType(events.EventAllPlayersSkipped))

	env.handle(protocol.PktMatchPlayerSkipped, protocol.BuildI32(2))
	assert.Len(t, env.bus.ofType(events.EventAllPlayersSkipped), 1)
	assert.Contains(t, env.game.calls, "skip")

	env.handle(protocol.PktMatchSkip, nil)
	assert.Len(t, env.bus.ofType(events.EventAllPlayersSkipped), 1)
}

func TestSkipWithoutPlayingSlots(t *testing.T) {
	env := joinRoom(t, 2)

	env.handle(protocol.PktMatchPlayerSkipped, protocol.BuildI32(testUserID))
	env.handle(protocol.PktMatchPlayerSkipped, protocol.BuildI32(2))

	assert.Empty(t, env.bus.ofType(events.EventAllPlayersSkipped))
	assert.NotContains(t, env.game.calls, "skip")
	assert.False(t, env.state.Room().AllPlayersSkipped)
}

func TestMatchAllPlayersLoaded(t *testing.T) {
	env := startedMatch(t)
	env.handle(protocol.PktMatchAllPlayersLoaded, nil)
	assert.True(t, env.state.Room().AllPlayersLoaded)
}

func TestMatchAbort(t *testing.T) {
	env := startedMatch(t)
	env.handle(protocol.PktMatchAbort, nil)

	assert.False(t, env.state.MatchStarted())
	assert.True(t, env.state.IsInRoom())
	assert.Contains(t, env.game.calls, "stop")
	assert.Len(t, env.bus.ofType(events.EventMatchAborted), 1)
}

func TestSendScoreFrame(t *testing.T) {
	env := startedMatch(t)
	require.NoError(t, env.state.SendScoreFrame(protocol.ScoreFrame{TotalScore: 10}))
	assert.Equal(t, []uint16{protocol.ReqUpdateMatchScore}, env.net.ids())
}

func TestLobbyRoomList(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	require.NoError(t, env.state.JoinLobby())

	env.handle(protocol.PktRoomCreated, roomPayload(testRoom(9, 3)))
	env.handle(protocol.PktRoomUpdated, roomPayload(testRoom(4, 5)))
	rooms := env.state.LobbyRooms()
	require.Len(t, rooms, 2)
	assert.Equal(t, uint16(4), rooms[0].ID)

	env.handle(protocol.PktRoomClosed, protocol.BuildI32(9))
	env.handle(protocol.PktRoomClosed, protocol.BuildI32(123))
	assert.Len(t, env.state.LobbyRooms(), 1)
	assert.Len(t, env.bus.ofType(events.EventLobbyUpdated), 3)

	env.state.ExitLobby()
	assert.Equal(t, protocol.ReqExitRoomList, env.net.last().ID)
}

func TestRoomJoinFail(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.handle(protocol.PktRoomJoinFail, nil)
	assert.Equal(t, []string{"Failed to join room."}, env.bus.toasts())
	assert.Len(t, env.bus.ofType(events.EventRoomJoinFailed), 1)
}

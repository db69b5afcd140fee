package bancho

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neosu-project/neosu/internal/config"
	"github.com/neosu-project/neosu/internal/connector"
	"github.com/neosu-project/neosu/internal/events"
	"github.com/neosu-project/neosu/internal/protocol"
)

func statsPayload(id int32, action protocol.Action) []byte {
	return protocol.NewPacketBuilder().
		WriteI32(id).
		WriteU8(uint8(action)).
		WriteString("some map").
		WriteHash(protocol.HashString("map")).
		WriteU32(8).
		WriteU8(0).
		WriteI32(123).
		WriteI64(1000000).
		WriteF32(0.98).
		WriteI32(50).
		WriteI64(2000000).
		WriteI32(42).
		WriteU16(300).
		Build()
}

func presencePayload(id int32, name string) []byte {
	return protocol.NewPacketBuilder().
		WriteI32(id).
		WriteString(name).
		WriteU8(24).
		WriteU8(5).
		WriteU8(1).
		WriteF32(1.5).
		WriteF32(2.5).
		WriteI32(77).
		Build()
}

func TestUnknownPacketIsDropped(t *testing.T) {
	env := newTestEnv(t)
	env.handle(0x1fff, []byte{1, 2, 3})
	assert.Empty(t, env.bus.events)
	assert.Empty(t, env.net.packets)
}

func TestUserStats(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	env.handle(protocol.PktUserStats, statsPayload(55, protocol.ActionPlaying))

	user, ok := env.state.users.TryGetUserInfo(55)
	require.True(t, ok)
	assert.True(t, user.HasStats)
	assert.Equal(t, protocol.ActionPlaying, user.Action)
	assert.Equal(t, uint16(300), user.PP)
	assert.Equal(t, int32(42), user.GlobalRank)
	assert.Len(t, env.bus.ofType(events.EventUserStats), 1)

	// no presence yet, so it is queued
	env.state.users.RequestPending(env.net)
	require.Len(t, env.net.packets, 1)
	assert.Equal(t, protocol.ReqUserPresenceRequest, env.net.packets[0].ID)
	assert.Equal(t, protocol.EncodeIDList([]int32{55}), env.net.packets[0].Payload)
}

func TestSelfStatsEvent(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.handle(protocol.PktUserStats, statsPayload(testUserID, protocol.ActionIdle))
	assert.Len(t, env.bus.ofType(events.EventSelfStats), 1)
}

func TestFriendStatusToast(t *testing.T) {
	idle, playing := protocol.ActionIdle, protocol.ActionPlaying

	tests := []struct {
		name    string
		notify  string
		friend  bool
		actions []protocol.Action
		want    int
	}{
		{"friend with notifications", "true", true, []protocol.Action{idle, idle, playing}, 1},
		{"first stats already playing", "true", true, []protocol.Action{playing}, 1},
		{"first stats idle", "true", true, []protocol.Action{idle}, 0},
		{"friend without notifications", "false", true, []protocol.Action{idle, playing}, 0},
		{"stranger", "true", false, []protocol.Action{idle, playing}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.login(t)
			require.NoError(t, env.vars.Set(config.VarNotifyFriendStatus, tt.notify))
			if tt.friend {
				env.state.users.SetFriends([]int32{55})
			}
			env.handle(protocol.PktUserPresence, presencePayload(55, "peppy"))

			for _, a := range tt.actions {
				env.handle(protocol.PktUserStats, statsPayload(55, a))
			}

			toasts := env.bus.toasts()
			require.Len(t, toasts, tt.want)
			if tt.want > 0 {
				assert.Equal(t, "peppy is now playing", toasts[0])
			}
		})
	}
}

func TestUserPresence(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.handle(protocol.PktUserPresence, presencePayload(55, "peppy"))

	user, ok := env.state.users.FindUser("PEPPY")
	require.True(t, ok)
	assert.Equal(t, int32(55), user.UserID)
	assert.True(t, user.HasPresence)
	assert.Equal(t, uint8(5), user.Country)

	env.state.users.RequestPresence(55)
	env.state.users.RequestPending(env.net)
	assert.Empty(t, env.net.packets, "users with presence are not requested again")
}

func TestUserLogout(t *testing.T) {
	t.Run("other user", func(t *testing.T) {
		env := newTestEnv(t)
		env.login(t)
		env.handle(protocol.PktUserPresence, presencePayload(55, "peppy"))

		env.handle(protocol.PktUserLogout, protocol.NewPacketBuilder().WriteI32(55).WriteU8(0).Build())

		_, ok := env.state.users.TryGetUserInfo(55)
		assert.False(t, ok)
		logout := env.bus.ofType(events.EventUserLogout)
		require.Len(t, logout, 1)
		assert.Equal(t, "peppy", logout[0].Payload.(events.UserPayload).Name)
	})

	t.Run("ourselves", func(t *testing.T) {
		env := newTestEnv(t)
		env.login(t)
		env.handle(protocol.PktUserLogout, protocol.NewPacketBuilder().WriteI32(testUserID).WriteU8(0).Build())
		assert.False(t, env.state.IsOnline())
		assert.Len(t, env.bus.ofType(events.EventDisconnected), 1)
	})
}

func TestSpectatorsJoinAndLeave(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	env.handle(protocol.PktSpectatorJoined, protocol.BuildI32(20))
	env.handle(protocol.PktSpectatorJoined, protocol.BuildI32(20))
	env.handle(protocol.PktFellowSpectatorJoined, protocol.BuildI32(21))

	assert.Equal(t, []int32{20}, env.state.spectators)
	assert.Equal(t, []int32{21}, env.state.fellowSpectators)
	assert.Len(t, env.bus.ofType(events.EventSpectatorJoined), 2)

	env.handle(protocol.PktSpectatorLeft, protocol.BuildI32(20))
	env.handle(protocol.PktSpectatorLeft, protocol.BuildI32(99))
	assert.Empty(t, env.state.spectators)
	assert.Len(t, env.bus.ofType(events.EventSpectatorLeft), 1)
}

func TestServerVariablePackets(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	env.handle(protocol.PktProtectVariables, protocol.EncodeVarNames([]string{config.VarFPoSu, "no_such_var", config.VarPassword}))
	assert.ErrorIs(t, env.vars.Set(config.VarFPoSu, "true"), config.ErrVarProtected)

	changed := env.bus.ofType(events.EventVarsChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, []string{config.VarFPoSu}, changed[0].Payload.(events.VarsChangedPayload).Names)

	env.handle(protocol.PktUnprotectVariables, protocol.EncodeVarNames([]string{config.VarFPoSu}))
	require.NoError(t, env.vars.Set(config.VarFPoSu, "true"))

	env.handle(protocol.PktForceValues, protocol.EncodeVarValues([]protocol.VarValue{
		{Name: config.VarFPoSu, Value: "false"},
		{Name: config.VarOAuthToken, Value: "stolen"},
	}))
	assert.False(t, env.vars.GetBool(config.VarFPoSu))
	assert.NotEqual(t, "stolen", env.vars.GetString(config.VarOAuthToken))
	assert.ErrorIs(t, env.vars.Set(config.VarFPoSu, "true"), config.ErrVarProtected)

	env.handle(protocol.PktResetValues, protocol.EncodeVarNames([]string{config.VarFPoSu}))
	require.NoError(t, env.vars.Set(config.VarFPoSu, "true"))
}

func TestRequestMap(t *testing.T) {
	data := []byte("osu file format v14\n")
	md5 := protocol.HashBytes(data)

	t.Run("uploads a matching file", func(t *testing.T) {
		env := newTestEnv(t)
		env.login(t)
		env.maps.files[md5] = data

		env.handle(protocol.PktRequestMap, protocol.BuildString(md5.String()))

		require.Len(t, env.net.api, 1)
		req := env.net.api[0]
		assert.Equal(t, connector.APISubmitMap, req.Type)
		assert.Equal(t, connector.SubmitMapPath, req.Path)
		assert.Equal(t, connector.SubmitMapContext{MD5: md5}, req.Context)
		require.NotNil(t, req.Form)
	})

	t.Run("skips a file that no longer matches", func(t *testing.T) {
		env := newTestEnv(t)
		env.login(t)
		env.maps.files[md5] = []byte("edited since")

		env.handle(protocol.PktRequestMap, protocol.BuildString(md5.String()))
		assert.Empty(t, env.net.api)
	})

	t.Run("skips a missing map", func(t *testing.T) {
		env := newTestEnv(t)
		env.login(t)
		env.handle(protocol.PktRequestMap, protocol.BuildString(md5.String()))
		assert.Empty(t, env.net.api)
	})
}

func TestProtocolVersion(t *testing.T) {
	env := newTestEnv(t)
	env.handle(protocol.PktProtocolVersion, protocol.BuildI32(protocol.ProtocolVersion))
	assert.Empty(t, env.bus.toasts())

	env.handle(protocol.PktProtocolVersion, protocol.BuildI32(18))
	assert.Len(t, env.bus.toasts(), 1)
}

func TestMainMenuIcon(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"valid", "https://example.com/icon.png|https://example.com", "https://example.com/icon.png"},
		{"plain http", "http://example.com/icon.png|https://example.com", ""},
		{"no link", "https://example.com/icon.png", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.handle(protocol.PktMainMenuIcon, protocol.BuildString(tt.payload))
			assert.Equal(t, tt.want, env.state.serverIconURL)
		})
	}
}

func TestChannelListing(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	info := func(name, topic string, members int32) []byte {
		return protocol.NewPacketBuilder().WriteString(name).WriteString(topic).WriteI32(members).Build()
	}
	env.handle(protocol.PktChannelAutoJoin, info("#osu", "main channel", 100))
	env.handle(protocol.PktChannelInfo, info("#lobby", "find a match", 12))
	env.handle(protocol.PktChannelInfoEnd, nil)
	env.handle(protocol.PktChannelInfo, info("#later", "after the listing", 1))

	history := env.state.chat.History("#osu")
	require.Len(t, history, 2)
	assert.Equal(t, "#osu (100): main channel", history[0].Text)
	assert.Equal(t, "#lobby (12): find a match", history[1].Text)

	osu, ok := env.state.chat.Get("#osu")
	require.True(t, ok)
	assert.True(t, osu.Joined)
	lobby, _ := env.state.chat.Get("#lobby")
	assert.False(t, lobby.Joined)

	assert.Equal(t, []uint16{protocol.ReqChannelJoin, protocol.ReqChannelJoin}, env.net.ids())
	assert.Equal(t, protocol.BuildString("#announce"), env.net.packets[0].Payload)

	env.handle(protocol.PktChannelJoinSuccess, protocol.BuildString("#lobby"))
	assert.True(t, lobby.Joined)

	env.handle(protocol.PktLeftChannel, protocol.BuildString("#lobby"))
	_, ok = env.state.chat.Get("#lobby")
	assert.False(t, ok)
	assert.Len(t, env.bus.ofType(events.EventChannelLeft), 1)
}

func TestFriendsList(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.handle(protocol.PktFriendsList, protocol.EncodeIDList([]int32{9, 3}))
	assert.Equal(t, []int32{3, 9}, env.state.users.Friends())

	require.NoError(t, env.state.FriendAdd(5))
	assert.Equal(t, []int32{3, 5, 9}, env.state.users.Friends())
	require.NoError(t, env.state.FriendRemove(9))
	assert.Equal(t, []int32{3, 5}, env.state.users.Friends())
	assert.Equal(t, []uint16{protocol.ReqFriendAdd, protocol.ReqFriendRemove}, env.net.ids())
}

func TestRestart(t *testing.T) {
	tests := []struct {
		name       string
		online     bool
		wantStatus events.SessionStatus
		wantLogin  bool
	}{
		{"online session reconnects", true, events.SessionLoggingIn, true},
		{"offline session stays offline", false, events.SessionOffline, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.online {
				env.login(t)
			}
			env.handle(protocol.PktRestart, protocol.BuildI32(5000))

			assert.False(t, env.state.IsOnline())
			assert.Equal(t, tt.wantStatus, env.state.Status())
			_, ok := env.state.TakeLoginBody()
			assert.Equal(t, tt.wantLogin, ok)
		})
	}
}

func TestForcedUpdateAndRestriction(t *testing.T) {
	for _, id := range []uint16{protocol.PktVersionUpdateForced, protocol.PktAccountRestricted} {
		t.Run(protocol.PacketName(id), func(t *testing.T) {
			env := newTestEnv(t)
			env.login(t)
			env.handle(id, nil)
			assert.False(t, env.state.IsOnline())
			assert.Len(t, env.bus.toasts(), 1)
		})
	}
}

func TestNotificationToast(t *testing.T) {
	env := newTestEnv(t)
	env.handle(protocol.PktNotification, protocol.BuildString("welcome"))
	assert.Equal(t, []string{"welcome"}, env.bus.toasts())
}
